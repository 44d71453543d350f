package revenue_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repairpulse/internal/revenue"
)

func booking(customer, repairType string, value float64, completed time.Time) revenue.Booking {
	return revenue.Booking{
		CustomerID:        customer,
		CustomerCreatedAt: completed.AddDate(-1, 0, 0),
		RepairType:        repairType,
		DeviceCategory:    "smartphone",
		Urgency:           "standard",
		Status:            revenue.StatusCompleted,
		Value:             decimal.NewFromFloat(value),
		CompletedAt:       &completed,
	}
}

func TestGrowthRate(t *testing.T) {
	tests := []struct {
		name     string
		current  float64
		previous float64
		expected float64
	}{
		{"growth", 150, 100, 50},
		{"decline", 50, 100, -50},
		{"no previous revenue", 80, 0, 100},
		{"nothing at all", 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, revenue.GrowthRate(tt.current, tt.previous), 0.0001)
		})
	}
}

func TestComputeOverview(t *testing.T) {
	day := time.Date(2026, 5, 15, 10, 0, 0, 0, time.UTC)
	current := []revenue.Booking{
		booking("c1", "screen_repair", 100, day),
		booking("c2", "battery_replacement", 50.5, day),
	}
	previous := []revenue.Booking{booking("c3", "screen_repair", 100, day.AddDate(0, 0, -7))}

	overview := revenue.ComputeOverview(current, previous)
	assert.Equal(t, "150.5", overview.TotalRevenue.String())
	assert.Equal(t, 2, overview.BookingCount)
	assert.Equal(t, "75.25", overview.AverageOrderValue.String())
	assert.Equal(t, 1, overview.PreviousBookingCount)
	assert.InDelta(t, 50.5, overview.GrowthRate, 0.0001)

	empty := revenue.ComputeOverview(nil, nil)
	assert.True(t, empty.AverageOrderValue.IsZero())
	assert.Zero(t, empty.GrowthRate)
}

func TestMovingAverage(t *testing.T) {
	assert.Equal(t, []float64{4, 5}, revenue.MovingAverage([]float64{1, 2, 3, 4, 5, 6, 7, 8}, 7))
	assert.Equal(t, []float64{4}, revenue.MovingAverage([]float64{1, 2, 3, 4, 5, 6, 7}, 7))
	assert.Empty(t, revenue.MovingAverage([]float64{1, 2, 3, 4, 5, 6}, 7))
	assert.NotNil(t, revenue.MovingAverage(nil, 7))
}

func TestTrendDirection(t *testing.T) {
	assert.Equal(t, revenue.TrendUpward, revenue.TrendDirection([]float64{100, 100, 110, 110}))
	assert.Equal(t, revenue.TrendDownward, revenue.TrendDirection([]float64{100, 100, 90, 90}))
	assert.Equal(t, revenue.TrendStable, revenue.TrendDirection([]float64{100, 100, 104, 104}))
	assert.Equal(t, revenue.TrendStable, revenue.TrendDirection([]float64{100}))
	// Odd lengths put the middle point in the second half.
	assert.Equal(t, revenue.TrendUpward, revenue.TrendDirection([]float64{100, 200, 200}))
}

func TestComputeTrends(t *testing.T) {
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	var bookings []revenue.Booking
	for i := 0; i < 8; i++ {
		bookings = append(bookings, booking("c1", "screen_repair", float64(10*(i+1)), start.AddDate(0, 0, i)))
	}
	// Second booking on the last day.
	bookings = append(bookings, booking("c2", "screen_repair", 20, start.AddDate(0, 0, 7).Add(time.Hour)))

	trends := revenue.ComputeTrends(bookings, time.UTC)
	require.Len(t, trends.Daily, 8)
	assert.Equal(t, "2026-05-01", trends.Daily[0].Date)
	assert.Equal(t, "100", trends.Daily[7].Revenue.String())
	assert.Equal(t, 2, trends.Daily[7].Bookings)
	assert.Equal(t, []float64{40, 52.8571}, trends.MovingAverage)
	assert.Equal(t, revenue.TrendUpward, trends.TrendDirection)
}

func TestComputeBreakdown(t *testing.T) {
	periodStart := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	day := periodStart.AddDate(0, 0, 3)

	fresh := booking("c1", "screen_repair", 300, day)
	fresh.CustomerCreatedAt = periodStart
	fresh.Urgency = "express"
	returning := booking("c2", "water_damage", 100, day)
	returning.DeviceCategory = "laptop"
	noType := booking("c3", "", 100, day)

	breakdown := revenue.ComputeBreakdown([]revenue.Booking{fresh, returning, noType}, periodStart)

	require.Len(t, breakdown.ByRepairType, 3)
	assert.Equal(t, "screen_repair", breakdown.ByRepairType[0].Key)
	assert.Equal(t, "Screen Repair", breakdown.ByRepairType[0].Label)
	assert.Equal(t, 60.0, breakdown.ByRepairType[0].Share)
	assert.Equal(t, "unknown", breakdown.ByRepairType[1].Key, "ties are ordered by key")
	assert.Equal(t, "water_damage", breakdown.ByRepairType[2].Key)

	require.Len(t, breakdown.ByDeviceCategory, 2)
	assert.Equal(t, "smartphone", breakdown.ByDeviceCategory[0].Key)
	assert.Equal(t, 2, breakdown.ByDeviceCategory[0].Bookings)

	require.Len(t, breakdown.ByUrgency, 2)
	assert.Equal(t, "express", breakdown.ByUrgency[0].Key)

	require.Len(t, breakdown.ByCustomerType, 2)
	assert.Equal(t, revenue.CustomerNew, breakdown.ByCustomerType[0].Key)
	assert.Equal(t, "300", breakdown.ByCustomerType[0].Revenue.String())
	assert.Equal(t, revenue.CustomerReturning, breakdown.ByCustomerType[1].Key)
	assert.Equal(t, 2, breakdown.ByCustomerType[1].Bookings)
}

func TestComputeProfitability(t *testing.T) {
	day := time.Date(2026, 5, 3, 0, 0, 0, 0, time.UTC)
	profit := revenue.ComputeProfitability([]revenue.Booking{
		booking("c1", "screen_repair", 100, day),
		booking("c2", "data_recovery", 200, day),
		booking("c3", "keyboard_replacement", 100, day),
	})

	require.Len(t, profit.Lines, 3)
	lines := make(map[string]revenue.ProfitLine)
	for _, l := range profit.Lines {
		lines[l.RepairType] = l
	}

	assert.Equal(t, "40", lines["screen_repair"].EstimatedCost.String())
	assert.Equal(t, 60.0, lines["screen_repair"].Margin)
	assert.Equal(t, "160", lines["data_recovery"].Profit.String())
	assert.Equal(t, 80.0, lines["data_recovery"].Margin)
	assert.Equal(t, "35", lines["keyboard_replacement"].EstimatedCost.String())
	assert.Equal(t, "data_recovery", profit.Lines[0].RepairType, "ordered by profit")

	assert.Equal(t, "400", profit.TotalRevenue.String())
	assert.Equal(t, "115", profit.TotalCost.String())
	assert.Equal(t, 71.25, profit.OverallMargin)

	assert.Equal(t, 0.35, revenue.CostRatio("anything_else"))
	assert.Equal(t, 0.3, revenue.CostRatio("battery_replacement"))
	assert.Equal(t, 0.5, revenue.CostRatio("water_damage"))
}

func TestForecastFromPeriods(t *testing.T) {
	forecast, err := revenue.ForecastFromPeriods([]float64{100, 110, 121, 133, 146, 161})
	require.NoError(t, err)

	assert.InDelta(t, 0.10, forecast.GrowthRate, 0.005)
	assert.Equal(t, revenue.TrendGrowing, forecast.Trend)
	assert.InDelta(t, 177, forecast.NextPeriod, 1)
	assert.InDelta(t, forecast.NextPeriod*0.9, forecast.ConfidenceInterval.Lower, 0.01)
	assert.InDelta(t, forecast.NextPeriod*1.1, forecast.ConfidenceInterval.Upper, 0.01)
	assert.Greater(t, forecast.Slope, 0.0)

	declining, err := revenue.ForecastFromPeriods([]float64{200, 100})
	require.NoError(t, err)
	assert.Equal(t, -0.5, declining.GrowthRate)
	assert.Equal(t, revenue.TrendDeclining, declining.Trend)
	assert.Equal(t, 50.0, declining.NextPeriod)

	flat, err := revenue.ForecastFromPeriods([]float64{0, 0})
	require.NoError(t, err)
	assert.Equal(t, revenue.TrendStable, flat.Trend)

	_, err = revenue.ForecastFromPeriods([]float64{100})
	assert.ErrorIs(t, err, revenue.ErrInsufficientHistory)
}

func TestForecastDaily(t *testing.T) {
	line, err := revenue.ForecastDaily([]float64{10, 20, 30, 40})
	require.NoError(t, err)
	assert.InDelta(t, 10, line.Slope, 0.0001)
	assert.InDelta(t, 10, line.Intercept, 0.0001)
	assert.InDelta(t, 50, line.NextDay, 0.0001)
	assert.Zero(t, line.StandardError)
	assert.Equal(t, line.NextDay, line.ConfidenceInterval.Lower)
	assert.Equal(t, revenue.TrendGrowing, line.Trend)

	noisy, err := revenue.ForecastDaily([]float64{10, 30, 20, 40})
	require.NoError(t, err)
	assert.Greater(t, noisy.StandardError, 0.0)
	assert.InDelta(t, noisy.NextDay-1.96*noisy.StandardError, noisy.ConfidenceInterval.Lower, 0.01)

	_, err = revenue.ForecastDaily(nil)
	assert.ErrorIs(t, err, revenue.ErrInsufficientHistory)
}

func TestComputeCohorts(t *testing.T) {
	jan := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	feb := jan.AddDate(0, 1, 0)
	mar := jan.AddDate(0, 2, 0)

	bookings := []revenue.Booking{
		booking("a", "screen_repair", 100, jan),
		booking("b", "screen_repair", 100, jan.AddDate(0, 0, 5)),
		booking("c", "screen_repair", 100, feb),
		booking("a", "screen_repair", 100, feb),
		booking("a", "screen_repair", 100, mar),
		booking("b", "screen_repair", 100, mar),
		// After the window.
		booking("c", "screen_repair", 100, time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)),
	}

	cohorts := revenue.ComputeCohorts(bookings, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), 12)
	require.Len(t, cohorts, 2)

	assert.Equal(t, "2026-01", cohorts[0].Month)
	assert.Equal(t, 2, cohorts[0].Customers)
	require.Len(t, cohorts[0].Retention, 2)
	assert.Equal(t, revenue.RetentionPoint{MonthOffset: 1, Month: "2026-02", ActiveCustomers: 1, RetentionRate: 50}, cohorts[0].Retention[0])
	assert.Equal(t, revenue.RetentionPoint{MonthOffset: 2, Month: "2026-03", ActiveCustomers: 2, RetentionRate: 100}, cohorts[0].Retention[1])

	assert.Equal(t, "2026-02", cohorts[1].Month)
	assert.Equal(t, 1, cohorts[1].Customers)
	require.Len(t, cohorts[1].Retention, 1)
	assert.Zero(t, cohorts[1].Retention[0].RetentionRate)

	recent := revenue.ComputeCohorts(bookings, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), 2)
	require.Len(t, recent, 1)
	assert.Equal(t, "2026-02", recent[0].Month)
}
