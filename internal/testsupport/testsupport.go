package testsupport

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"repairpulse/internal/config"
	"repairpulse/internal/database"
	"repairpulse/internal/events"
	"repairpulse/internal/revenue"
)

// testDBCache caches test databases by test name to allow multiple calls
// within the same test to share the same database
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

var _ cartridge.DBManager = (*TestDBManager)(nil)

// SetupTestDB creates a test database with all models migrated.
// Uses a named in-memory database with cache=shared. Caches the database by
// root test name so multiple calls within the same test return the same database.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	rootName := t.Name()
	if idx := strings.Index(rootName, "/"); idx > 0 {
		rootName = rootName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	sanitizedName := strings.ReplaceAll(rootName, "/", "_")
	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", sanitizedName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	// A single connection serialises writers the way WAL + immediate
	// transactions do in production, and keeps the memory database alive.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("testsupport: failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	db.Exec("PRAGMA foreign_keys = ON")

	if err := db.AutoMigrate(database.Models()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		sqlDB.Close()
	})

	return db
}

// SetupTestDBManager creates a test DB manager using cartridge's testsupport
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	t.Helper()
	t.Setenv("REPAIRPULSE_ENV", config.Test)
	config.Reset()
	t.Cleanup(config.Reset)

	cfg := config.GetConfig()
	if cfg.Environment != config.Test {
		t.Fatalf("CRITICAL: Tests must run in test environment! Current: %s. Set REPAIRPULSE_ENV=test", cfg.Environment)
	}

	db := SetupTestDB(t)
	return NewTestDBManager(db), GetLogger()
}

// CleanTables clears the given tables.
func CleanTables(db *gorm.DB, tables ...string) {
	db.Transaction(func(tx *gorm.DB) error {
		for _, table := range tables {
			tx.Exec("DELETE FROM " + table)
			tx.Exec("DELETE FROM sqlite_sequence WHERE name=?", table)
		}
		return nil
	})
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// NewEvent builds an enriched event directly, bypassing the Enricher.
func NewEvent(fingerprint, sessionID, eventType, pageURL string, ts time.Time) *events.AnalyticsEvent {
	e, err := events.NewEnricher().Enrich(events.RawEvent{
		"user_fingerprint": fingerprint,
		"session_id":       sessionID,
		"event_type":       eventType,
		"page_url":         pageURL,
		"timestamp":        ts,
	})
	if err != nil {
		panic(fmt.Sprintf("testsupport: invalid event: %v", err))
	}
	return e
}

// NewConversion builds a conversion event carrying value.
func NewConversion(fingerprint, sessionID, pageURL string, value float64, ts time.Time) *events.AnalyticsEvent {
	e := NewEvent(fingerprint, sessionID, events.EventTypeConversion, pageURL, ts)
	e.ConversionValue = &value
	return e
}

// InsertEvents stores events and runs both aggregation stages for each.
func InsertEvents(t *testing.T, db *gorm.DB, evts ...*events.AnalyticsEvent) {
	t.Helper()
	store := events.NewStore(db, GetLogger())
	ctx := context.Background()

	_, err := store.BulkInsertEvents(ctx, evts)
	require.NoError(t, err)
	for _, e := range evts {
		_, err := store.UpsertSession(ctx, e)
		require.NoError(t, err)
		_, err = store.UpsertDailyRollup(ctx, e)
		require.NoError(t, err)
	}
}

// BookingOption adjusts a booking built by CreateBooking.
type BookingOption func(*revenue.Booking)

func WithRepairType(repairType string) BookingOption {
	return func(b *revenue.Booking) { b.RepairType = repairType }
}

func WithDevice(category string) BookingOption {
	return func(b *revenue.Booking) { b.DeviceCategory = category }
}

func WithUrgency(urgency string) BookingOption {
	return func(b *revenue.Booking) { b.Urgency = urgency }
}

func WithCustomer(id string, createdAt time.Time) BookingOption {
	return func(b *revenue.Booking) {
		b.CustomerID = id
		b.CustomerCreatedAt = createdAt
	}
}

func WithStatus(status string) BookingOption {
	return func(b *revenue.Booking) { b.Status = status }
}

// CreateBooking stores a completed booking worth value, completed at completedAt.
func CreateBooking(t *testing.T, db *gorm.DB, value float64, completedAt time.Time, opts ...BookingOption) *revenue.Booking {
	t.Helper()
	completed := completedAt.UTC()
	b := &revenue.Booking{
		CustomerID:        "customer-1",
		CustomerCreatedAt: completed.AddDate(-1, 0, 0),
		RepairType:        "screen_repair",
		DeviceCategory:    "smartphone",
		Urgency:           "standard",
		Status:            revenue.StatusCompleted,
		Value:             decimal.NewFromFloat(value),
		CreatedAt:         completed.Add(-2 * time.Hour),
		CompletedAt:       &completed,
	}
	for _, opt := range opts {
		opt(b)
	}
	require.NoError(t, db.Create(b).Error)
	return b
}

// CreateTestApp builds a fiber app with every route mounted against db.
func CreateTestApp(t *testing.T, db *gorm.DB, mount func(*cartridge.Server)) *fiber.App {
	t.Helper()

	appConfig := config.GetConfig()

	cfg := cartridge.DefaultServerConfig()
	cfg.Config = appConfig
	cfg.Logger = GetLogger()
	cfg.DBManager = NewTestDBManager(db)

	srv, err := cartridge.NewServer(cfg)
	require.NoError(t, err)

	mount(srv)
	return srv.App()
}
