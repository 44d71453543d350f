package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetConfigDefaults(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	t.Setenv("REPAIRPULSE_ENV", Test)

	cfg := GetConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, "repairpulse", cfg.AppName)
	assert.Equal(t, 5*time.Second, cfg.FlushInterval())
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 5, cfg.MaxFlushRetries)
	assert.Equal(t, 0, cfg.MaxQueueDepth)
	assert.Equal(t, time.Hour, cfg.EventCacheTTL())
	assert.Equal(t, 1, cfg.GetMaxOpenConns())
	assert.True(t, cfg.IsTest())
	assert.Equal(t, "storage/repairpulse-test.db", cfg.DatabaseName)
}

func TestGetConfigEnvironmentOverrides(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	t.Setenv("REPAIRPULSE_ENV", Test)
	t.Setenv("REPAIRPULSE_BATCH_SIZE", "250")
	t.Setenv("REPAIRPULSE_FLUSH_INTERVAL_SECONDS", "2")
	t.Setenv("REPAIRPULSE_MAX_QUEUE_DEPTH", "10000")

	cfg := GetConfig()

	assert.Equal(t, 250, cfg.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.FlushInterval())
	assert.Equal(t, 10000, cfg.MaxQueueDepth)
}

func TestGetConfigProductionKeepsDefaultSessionSecret(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	t.Setenv("REPAIRPULSE_ENV", Production)

	cfg := GetConfig()

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "88888888888888888888888888888888", cfg.GetSessionSecret())
	assert.Equal(t, "storage/repairpulse-production.db", cfg.DatabaseName)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Environment:          Development,
			FlushIntervalSeconds: 5,
			BatchSize:            100,
			MaxFlushRetries:      3,
			MaintenanceSchedule:  "15 3 * * *",
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "bad environment", mutate: func(c *Config) { c.Environment = "staging" }, wantErr: "invalid environment"},
		{name: "zero batch", mutate: func(c *Config) { c.BatchSize = 0 }, wantErr: "batch size"},
		{name: "zero interval", mutate: func(c *Config) { c.FlushIntervalSeconds = 0 }, wantErr: "flush interval"},
		{name: "zero retries", mutate: func(c *Config) { c.MaxFlushRetries = 0 }, wantErr: "max flush retries"},
		{name: "negative depth", mutate: func(c *Config) { c.MaxQueueDepth = -1 }, wantErr: "queue depth"},
		{name: "bad schedule", mutate: func(c *Config) { c.MaintenanceSchedule = "every day" }, wantErr: "maintenance schedule"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := base()
			tc.mutate(c)
			err := c.validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
