// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName       string   `mapstructure:"appname"`
	AppPort       string   `mapstructure:"appport"`
	Environment   string   `mapstructure:"environment"`
	LogLevel      LogLevel `mapstructure:"loglevel"`
	SessionSecret string   `mapstructure:"sessionsecret"`

	// File paths
	DatabasePath    string `mapstructure:"storagepath"`
	DatabaseName    string `mapstructure:"-"` // Derived from other settings
	GeoDBPath       string `mapstructure:"geodbpath"`
	PublicDirectory string `mapstructure:"publicdir"`
	DeadLetterPath  string `mapstructure:"deadletterpath"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseMaxOpenConns int `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int `mapstructure:"dbmaxidleconns"`

	// Pipeline settings
	FlushIntervalSeconds     int `mapstructure:"flushintervalseconds"`
	BatchSize                int `mapstructure:"batchsize"`
	MaxFlushRetries          int `mapstructure:"maxflushretries"`
	MaxQueueDepth            int `mapstructure:"maxqueuedepth"`
	EventCacheTTLSeconds     int `mapstructure:"eventcachettlseconds"`
	DashboardCacheTTLSeconds int `mapstructure:"dashboardcachettlseconds"`

	// Maintenance settings
	LedgerRetentionDays int    `mapstructure:"ledgerretentiondays"`
	MaintenanceSchedule string `mapstructure:"maintenanceschedule"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		v := viper.New()

		v.SetDefault("appname", "repairpulse")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("sessionsecret", "88888888888888888888888888888888")
		v.SetDefault("storagepath", "storage")
		v.SetDefault("geodbpath", "")
		v.SetDefault("publicdir", "public")
		v.SetDefault("deadletterpath", "storage/dead_letters.jsonl")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("flushintervalseconds", 5)
		v.SetDefault("batchsize", 100)
		v.SetDefault("maxflushretries", 5)
		v.SetDefault("maxqueuedepth", 0)
		v.SetDefault("eventcachettlseconds", 3600)
		v.SetDefault("dashboardcachettlseconds", 300)
		v.SetDefault("ledgerretentiondays", 30)
		v.SetDefault("maintenanceschedule", "15 3 * * *")

		v.BindEnv("appname", "REPAIRPULSE_APP_NAME")
		v.BindEnv("appport", "REPAIRPULSE_APP_PORT")
		v.BindEnv("environment", "REPAIRPULSE_ENV")
		v.BindEnv("loglevel", "REPAIRPULSE_LOG_LEVEL")
		v.BindEnv("sessionsecret", "REPAIRPULSE_SESSION_SECRET")
		v.BindEnv("storagepath", "REPAIRPULSE_STORAGE_PATH")
		v.BindEnv("geodbpath", "REPAIRPULSE_GEO_DB_PATH")
		v.BindEnv("publicdir", "REPAIRPULSE_PUBLIC_DIR")
		v.BindEnv("deadletterpath", "REPAIRPULSE_DEAD_LETTER_PATH")
		v.BindEnv("logsdir", "REPAIRPULSE_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "REPAIRPULSE_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "REPAIRPULSE_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "REPAIRPULSE_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("dbmaxopenconns", "REPAIRPULSE_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "REPAIRPULSE_DB_MAX_IDLE_CONNS")
		v.BindEnv("flushintervalseconds", "REPAIRPULSE_FLUSH_INTERVAL_SECONDS")
		v.BindEnv("batchsize", "REPAIRPULSE_BATCH_SIZE")
		v.BindEnv("maxflushretries", "REPAIRPULSE_MAX_FLUSH_RETRIES")
		v.BindEnv("maxqueuedepth", "REPAIRPULSE_MAX_QUEUE_DEPTH")
		v.BindEnv("eventcachettlseconds", "REPAIRPULSE_EVENT_CACHE_TTL_SECONDS")
		v.BindEnv("dashboardcachettlseconds", "REPAIRPULSE_DASHBOARD_CACHE_TTL_SECONDS")
		v.BindEnv("ledgerretentiondays", "REPAIRPULSE_LEDGER_RETENTION_DAYS")
		v.BindEnv("maintenanceschedule", "REPAIRPULSE_MAINTENANCE_SCHEDULE")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		cfg.DatabaseName = cfg.GetDatabasePath()
	})
	return cfg
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	if c.FlushIntervalSeconds <= 0 {
		return fmt.Errorf("flush interval must be positive, got %d", c.FlushIntervalSeconds)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.MaxFlushRetries <= 0 {
		return fmt.Errorf("max flush retries must be positive, got %d", c.MaxFlushRetries)
	}
	if c.MaxQueueDepth < 0 {
		return fmt.Errorf("max queue depth cannot be negative, got %d", c.MaxQueueDepth)
	}

	if _, err := cron.ParseStandard(c.MaintenanceSchedule); err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", c.MaintenanceSchedule, err)
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// FlushInterval returns the period between batch flushes.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalSeconds) * time.Second
}

// EventCacheTTL returns how long a just-ingested event stays cached.
func (c *Config) EventCacheTTL() time.Duration {
	return time.Duration(c.EventCacheTTLSeconds) * time.Second
}

// DashboardCacheTTL returns how long a computed dashboard stays cached.
func (c *Config) DashboardCacheTTL() time.Duration {
	return time.Duration(c.DashboardCacheTTLSeconds) * time.Second
}

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory returns the path to public/static assets (implements cartridge.Config interface).
func (c *Config) GetPublicDirectory() string {
	return c.PublicDirectory
}

// GetAssetsPrefix returns the URL prefix for static assets (implements cartridge.Config interface).
func (c *Config) GetAssetsPrefix() string {
	return "/"
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetSessionSecret returns the session encryption key (implements cartridge.FactoryConfig interface).
func (c *Config) GetSessionSecret() string {
	return c.SessionSecret
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment
// If explicitly set via env var, uses that value. Otherwise:
// - Test: 1
// - Development/Production: 10 (read paths run dashboard sections in parallel)
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1
	}

	return 10
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1
	}

	return 5
}

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
