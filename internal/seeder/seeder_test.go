package seeder_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repairpulse/internal/cache"
	"repairpulse/internal/events"
	"repairpulse/internal/pipeline"
	"repairpulse/internal/revenue"
	"repairpulse/internal/seeder"
	"repairpulse/internal/testsupport"
)

func TestSeederPushesTrafficThroughPipeline(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	mem := cache.NewMemory(0)
	t.Cleanup(mem.Close)
	p := pipeline.New(events.NewStore(db, logger), mem, logger, pipeline.WithBatchSize(25))

	invalidated := 0
	now := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)
	s := seeder.NewSeeder(p, revenue.NewBookingStore(db, logger), logger,
		seeder.WithEventCount(80),
		seeder.WithBookingCount(40),
		seeder.WithDays(30),
		seeder.WithRandSeed(42),
		seeder.WithClock(func() time.Time { return now }),
		seeder.WithAfterSeed(func() { invalidated++ }))

	summary, err := s.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Equal(t, 1, invalidated)
	assert.Equal(t, 40, summary.Bookings)
	assert.Zero(t, summary.Rejected)
	assert.GreaterOrEqual(t, summary.Events, 80)

	var bookings int64
	require.NoError(t, db.Model(&revenue.Booking{}).Count(&bookings).Error)
	assert.Equal(t, int64(40), bookings)

	var stored int64
	require.NoError(t, db.Model(&events.AnalyticsEvent{}).Count(&stored).Error)
	assert.Equal(t, int64(summary.Events), stored)

	var sessions int64
	require.NoError(t, db.Model(&events.SessionAggregate{}).Count(&sessions).Error)
	assert.Equal(t, int64(summary.Sessions), sessions)

	var future int64
	require.NoError(t, db.Model(&revenue.Booking{}).Where("completed_at > ?", now).Count(&future).Error)
	assert.Zero(t, future, "no booking completes after the seeding clock")
}

type failingBookings struct{}

func (failingBookings) CreateBookings(context.Context, []*revenue.Booking) error {
	return errors.New("database is locked")
}

func TestSeederStopsWhenBookingsFail(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	p := pipeline.New(events.NewStore(dbManager.GetConnection(), logger), nil, logger)

	called := false
	s := seeder.NewSeeder(p, failingBookings{}, logger,
		seeder.WithRandSeed(1),
		seeder.WithAfterSeed(func() { called = true }))

	_, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to seed bookings")
	assert.False(t, called)
	assert.Zero(t, p.QueueDepth())
}
