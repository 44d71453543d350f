package revenue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"repairpulse/internal/events"
	"repairpulse/internal/revenue"
	"repairpulse/internal/testsupport"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now(loc *time.Location) time.Time {
	return c.now.In(loc)
}

var engineNow = time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

func setupEngine(t *testing.T) (*revenue.Engine, *gorm.DB) {
	t.Helper()
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	longAgo := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	testsupport.CreateBooking(t, db, 100, time.Date(2026, 5, 15, 10, 0, 0, 0, time.UTC),
		testsupport.WithCustomer("c1", longAgo))
	testsupport.CreateBooking(t, db, 50, time.Date(2026, 5, 16, 10, 0, 0, 0, time.UTC),
		testsupport.WithCustomer("c2", time.Date(2026, 5, 15, 0, 0, 0, 0, time.UTC)),
		testsupport.WithRepairType("battery_replacement"),
		testsupport.WithDevice("tablet"))
	testsupport.CreateBooking(t, db, 150, time.Date(2026, 5, 20, 9, 0, 0, 0, time.UTC),
		testsupport.WithCustomer("c1", longAgo))
	// Previous week.
	testsupport.CreateBooking(t, db, 100, time.Date(2026, 5, 10, 10, 0, 0, 0, time.UTC),
		testsupport.WithCustomer("c3", longAgo))
	// Not revenue.
	testsupport.CreateBooking(t, db, 500, time.Date(2026, 5, 18, 10, 0, 0, 0, time.UTC),
		testsupport.WithStatus(revenue.StatusCancelled))

	engine := revenue.NewEngine(revenue.NewBookingStore(db, logger), logger,
		revenue.WithTimeProvider(&fixedClock{now: engineNow}))
	return engine, db
}

func TestGetRevenueAnalytics(t *testing.T) {
	engine, _ := setupEngine(t)

	report, err := engine.GetRevenueAnalytics(context.Background(), "7d")
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 5, 14, 0, 0, 0, 0, time.UTC), report.Timeframe.From)
	assert.Equal(t, engineNow, report.GeneratedAt)

	overview := report.Overview
	assert.Equal(t, 300.0, overview.TotalRevenue.InexactFloat64())
	assert.Equal(t, 3, overview.BookingCount)
	assert.Equal(t, 100.0, overview.AverageOrderValue.InexactFloat64())
	assert.Equal(t, 100.0, overview.PreviousRevenue.InexactFloat64())
	assert.InDelta(t, 200, overview.GrowthRate, 0.0001)

	require.Len(t, report.Trends.Daily, 3)
	assert.Equal(t, "2026-05-15", report.Trends.Daily[0].Date)
	assert.Empty(t, report.Trends.MovingAverage)

	require.Len(t, report.Breakdown.ByRepairType, 2)
	assert.Equal(t, "screen_repair", report.Breakdown.ByRepairType[0].Key)
	require.Len(t, report.Breakdown.ByCustomerType, 2)
	assert.Equal(t, revenue.CustomerReturning, report.Breakdown.ByCustomerType[0].Key)
	assert.Equal(t, revenue.CustomerNew, report.Breakdown.ByCustomerType[1].Key)
	assert.Equal(t, 50.0, report.Breakdown.ByCustomerType[1].Revenue.InexactFloat64())

	assert.Equal(t, 300.0, report.Profitability.TotalRevenue.InexactFloat64())

	// Four empty weeks precede the first booking and are ignored.
	require.NotNil(t, report.Forecast)
	require.Len(t, report.Forecast.Periods, 2)
	assert.Equal(t, "2026-05-07", report.Forecast.Periods[0].From)
	assert.Equal(t, 2.0, report.Forecast.GrowthRate)
	assert.Equal(t, 900.0, report.Forecast.NextPeriod)

	require.NotNil(t, report.DailyForecast)
	assert.InDelta(t, 25, report.DailyForecast.Slope, 0.0001)

	require.Len(t, report.Cohorts, 1)
	assert.Equal(t, "2026-05", report.Cohorts[0].Month)
	assert.Equal(t, 3, report.Cohorts[0].Customers)
	assert.Empty(t, report.Cohorts[0].Retention)
}

func TestGetRevenueAnalyticsWithoutHistory(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	engine := revenue.NewEngine(revenue.NewBookingStore(dbManager.GetConnection(), logger), logger,
		revenue.WithTimeProvider(&fixedClock{now: engineNow}))

	report, err := engine.GetRevenueAnalytics(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "last_30_days", string(report.Timeframe.Label))
	assert.True(t, report.Overview.TotalRevenue.IsZero())
	assert.Nil(t, report.Forecast)
	assert.Nil(t, report.DailyForecast)
	assert.Empty(t, report.Cohorts)
}

func TestGetRevenueAnalyticsRejectsUnknownTimeframe(t *testing.T) {
	engine, _ := setupEngine(t)

	_, err := engine.GetRevenueAnalytics(context.Background(), "fortnight")
	var vErr *events.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "timeframe", vErr.Field)
}

func TestGetDashboardDataIsCachedUntilInvalidated(t *testing.T) {
	engine, db := setupEngine(t)
	ctx := context.Background()

	first, err := engine.GetDashboardData(ctx, "week")
	require.NoError(t, err)
	assert.Equal(t, "last_7_days", first.Period)
	assert.Equal(t, 300.0, first.Overview.TotalRevenue.InexactFloat64())
	require.Len(t, first.TopRepairTypes, 2)
	require.Len(t, first.TopDevices, 2)
	assert.Equal(t, "Smartphone", first.TopDevices[0].Label)

	testsupport.CreateBooking(t, db, 200, time.Date(2026, 5, 19, 10, 0, 0, 0, time.UTC))

	cached, err := engine.GetDashboardData(ctx, "last_7_days")
	require.NoError(t, err)
	assert.Equal(t, 300.0, cached.Overview.TotalRevenue.InexactFloat64(), "aliases share a cache entry")

	engine.InvalidateDashboard()

	fresh, err := engine.GetDashboardData(ctx, "week")
	require.NoError(t, err)
	assert.Equal(t, 500.0, fresh.Overview.TotalRevenue.InexactFloat64())

	_, err = engine.GetDashboardData(ctx, "bogus")
	var vErr *events.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "period", vErr.Field)
}

type brokenSource struct{}

func (brokenSource) QueryBookings(context.Context, revenue.BookingFilter) ([]revenue.Booking, error) {
	return nil, errors.New("disk I/O error")
}

func TestSourceFailuresSurfaceAsQueryErrors(t *testing.T) {
	logger := testsupport.GetLogger()
	engine := revenue.NewEngine(brokenSource{}, logger, revenue.WithTimeProvider(&fixedClock{now: engineNow}))

	_, err := engine.GetRevenueAnalytics(context.Background(), "30d")
	var qErr *events.QueryError
	require.ErrorAs(t, err, &qErr)
	assert.Equal(t, "current bookings", qErr.Query)

	_, err = engine.GetDashboardData(context.Background(), "30d")
	require.ErrorAs(t, err, &qErr)
}

func TestBookingStoreFilters(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	store := revenue.NewBookingStore(db, logger)
	ctx := context.Background()

	day := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	testsupport.CreateBooking(t, db, 100, day)
	testsupport.CreateBooking(t, db, 80, day.Add(time.Hour), testsupport.WithRepairType("battery_replacement"))
	testsupport.CreateBooking(t, db, 90, day.AddDate(0, 0, 1))
	testsupport.CreateBooking(t, db, 70, day, testsupport.WithStatus(revenue.StatusInProgress))

	all, err := store.QueryBookings(ctx, revenue.BookingFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 100.0, all[0].Value.InexactFloat64())
	assert.Equal(t, 90.0, all[2].Value.InexactFloat64())

	oneDay, err := store.QueryBookings(ctx, revenue.BookingFilter{From: day.Truncate(24 * time.Hour), To: day.AddDate(0, 0, 1)})
	require.NoError(t, err)
	assert.Len(t, oneDay, 2)

	batteries, err := store.QueryBookings(ctx, revenue.BookingFilter{RepairTypes: []string{"battery_replacement"}})
	require.NoError(t, err)
	require.Len(t, batteries, 1)
	assert.Equal(t, 80.0, batteries[0].Value.InexactFloat64())

	counts, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[revenue.StatusCompleted])
	assert.Equal(t, int64(1), counts[revenue.StatusInProgress])
}
