// Package internal contains core application functionality
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"

	v1 "repairpulse/api/v1"
	"repairpulse/internal/analytics"
	"repairpulse/internal/cache"
	"repairpulse/internal/config"
	"repairpulse/internal/database"
	"repairpulse/internal/events"
	"repairpulse/internal/jobs"
	"repairpulse/internal/pipeline"
	"repairpulse/internal/pkg/geoip"
	"repairpulse/internal/revenue"
)

const eventCacheSweepInterval = time.Minute

// Services holds the long-lived components shared by the HTTP server and
// the CLI.
type Services struct {
	Logger    *slog.Logger
	Events    *events.Store
	Bookings  *revenue.BookingStore
	Pipeline  *pipeline.Pipeline
	Analyzer  *analytics.Analyzer
	Revenue   *revenue.Engine
	Scheduler *jobs.Scheduler

	geo         *geoip.Resolver
	eventCache  *cache.Memory
	deadLetters *pipeline.FileDeadLetterSink
}

// NewServices builds every service on top of an initialised dbManager.
func NewServices(cfg *config.Config, dbManager *database.DBManager, logger *slog.Logger) (*Services, error) {
	db := dbManager.GetConnection()
	if db == nil {
		return nil, errors.New("database connection not initialized")
	}

	deadLetters, err := pipeline.NewFileDeadLetterSink(cfg.DeadLetterPath, cfg.LogsMaxSizeInMb, cfg.LogsMaxBackups)
	if err != nil {
		return nil, err
	}

	s := &Services{
		Logger:      logger,
		Events:      events.NewStore(db, logger),
		Bookings:    revenue.NewBookingStore(db, logger),
		geo:         geoip.Open(cfg.GeoDBPath, logger),
		eventCache:  cache.NewMemory(eventCacheSweepInterval),
		deadLetters: deadLetters,
	}

	var enricherOpts []events.EnricherOption
	if s.geo != nil {
		enricherOpts = append(enricherOpts, events.WithCountryResolver(s.geo))
	}

	s.Pipeline = pipeline.New(s.Events, s.eventCache, logger,
		pipeline.WithBatchSize(cfg.BatchSize),
		pipeline.WithFlushInterval(cfg.FlushInterval()),
		pipeline.WithMaxRetries(cfg.MaxFlushRetries),
		pipeline.WithMaxQueueDepth(cfg.MaxQueueDepth),
		pipeline.WithEventCacheTTL(cfg.EventCacheTTL()),
		pipeline.WithDeadLetterSink(deadLetters),
		pipeline.WithEnricher(events.NewEnricher(enricherOpts...)),
	)
	s.Analyzer = analytics.NewAnalyzer(s.Events, logger)
	s.Revenue = revenue.NewEngine(s.Bookings, logger, revenue.WithDashboardTTL(cfg.DashboardCacheTTL()))

	s.Scheduler = jobs.NewScheduler(logger)
	if err := s.Scheduler.Register(cfg.MaintenanceSchedule, jobs.NewLedgerCleanupJob(s.Events, logger, cfg.LedgerRetentionDays)); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to schedule ledger cleanup: %w", err)
	}
	if err := s.Scheduler.Register(jobs.DeadLetterReplaySchedule, jobs.NewDeadLetterReplayJob(s.Pipeline, logger)); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to schedule dead letter replay: %w", err)
	}
	if s.geo != nil {
		if err := s.Scheduler.Register(jobs.GeoDBReloadSchedule, jobs.NewGeoDBReloadJob(cfg.GeoDBPath, s.geo, logger)); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to schedule geo database reload: %w", err)
		}
	}

	return s, nil
}

// Handlers returns the API handlers backed by s.
func (s *Services) Handlers() *v1.Handlers {
	return &v1.Handlers{
		Pipeline: s.Pipeline,
		Events:   s.Events,
		Analyzer: s.Analyzer,
		Revenue:  s.Revenue,
	}
}

// Close drains the pipeline and releases files held by the services.
func (s *Services) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if s.Pipeline != nil {
		if err := s.Pipeline.Shutdown(ctx); err != nil {
			s.Logger.Error("Pipeline shutdown incomplete", slog.Any("error", err))
		}
	}

	s.eventCache.Close()
	if err := s.geo.Close(); err != nil {
		s.Logger.Warn("Failed to close geo database", slog.Any("error", err))
	}
	if err := s.deadLetters.Close(); err != nil {
		s.Logger.Warn("Failed to close dead letter file", slog.Any("error", err))
	}
}

// Application wraps cartridge.Application with the repairpulse services
type Application struct {
	*cartridge.Application
	DBManager *database.DBManager // DB manager with migration methods
	Services  *Services
}

// NewApp creates a new application instance with default settings
func NewApp() (*Application, error) {
	cfg := config.GetConfig()
	return NewAppWithConfig(cfg)
}

// NewAppWithConfig creates a new application with the provided config
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	// Create logger
	logger := cartridge.NewLogger(cfg, nil)

	// Initialize database manager with migration methods
	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	services, err := NewServices(cfg, dbManager, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:            cfg,
		Logger:            logger,
		DBManager:         dbManager,
		RouteMountFunc:    NewRouteMounter(services.Handlers()),
		BackgroundWorkers: []cartridge.BackgroundWorker{services.Pipeline, services.Scheduler},
	})
	if err != nil {
		services.Close()
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: app,
		DBManager:   dbManager,
		Services:    services,
	}, nil
}

// Shutdown stops the server and background workers, then releases the
// services.
func (a *Application) Shutdown(ctx context.Context) error {
	err := a.Application.Shutdown(ctx)
	a.Services.Close()
	return err
}
