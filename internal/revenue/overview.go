package revenue

import (
	"math"
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Trend directions and labels.
const (
	TrendUpward    = "upward"
	TrendDownward  = "downward"
	TrendStable    = "stable"
	TrendGrowing   = "growing"
	TrendDeclining = "declining"
)

const movingAverageWindow = 7

// Overview compares a period with the preceding period of equal length.
type Overview struct {
	TotalRevenue         decimal.Decimal `json:"total_revenue"`
	BookingCount         int             `json:"booking_count"`
	AverageOrderValue    decimal.Decimal `json:"average_order_value"`
	PreviousRevenue      decimal.Decimal `json:"previous_revenue"`
	PreviousBookingCount int             `json:"previous_booking_count"`
	GrowthRate           float64         `json:"growth_rate"`
}

// ComputeOverview totals current and previous bookings.
func ComputeOverview(current, previous []Booking) Overview {
	total := sumValues(current)
	prevTotal := sumValues(previous)

	overview := Overview{
		TotalRevenue:         total,
		BookingCount:         len(current),
		AverageOrderValue:    decimal.Zero,
		PreviousRevenue:      prevTotal,
		PreviousBookingCount: len(previous),
		GrowthRate:           GrowthRate(total.InexactFloat64(), prevTotal.InexactFloat64()),
	}
	if len(current) > 0 {
		overview.AverageOrderValue = total.Div(decimal.NewFromInt(int64(len(current)))).Round(2)
	}
	return overview
}

// GrowthRate is (cur-prev)/prev as a percentage. With no previous revenue it
// is 100 when there is current revenue and 0 otherwise.
func GrowthRate(current, previous float64) float64 {
	if previous == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	return (current - previous) / previous * 100
}

// DailyRevenue is one day of completed bookings.
type DailyRevenue struct {
	Date     string          `json:"date"`
	Revenue  decimal.Decimal `json:"revenue"`
	Bookings int             `json:"bookings"`
}

type Trends struct {
	Daily          []DailyRevenue `json:"daily"`
	MovingAverage  []float64      `json:"moving_average"`
	TrendDirection string         `json:"trend_direction"`
}

// ComputeTrends groups bookings by completion day in loc. Days without
// bookings are not filled in.
func ComputeTrends(bookings []Booking, loc *time.Location) Trends {
	if loc == nil {
		loc = time.UTC
	}
	byDay := lo.GroupBy(bookings, func(b Booking) string {
		return b.CompletedAt.In(loc).Format(time.DateOnly)
	})

	days := lo.Keys(byDay)
	sort.Strings(days)

	daily := make([]DailyRevenue, len(days))
	values := make([]float64, len(days))
	for i, day := range days {
		revenue := sumValues(byDay[day])
		daily[i] = DailyRevenue{Date: day, Revenue: revenue, Bookings: len(byDay[day])}
		values[i] = revenue.InexactFloat64()
	}

	return Trends{
		Daily:          daily,
		MovingAverage:  MovingAverage(values, movingAverageWindow),
		TrendDirection: TrendDirection(values),
	}
}

// MovingAverage returns the trailing averages of every full window: len-window+1
// values, or an empty slice when there are fewer than window values.
func MovingAverage(values []float64, window int) []float64 {
	if window < 1 || len(values) < window {
		return []float64{}
	}
	out := make([]float64, 0, len(values)-window+1)
	var sum float64
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i >= window-1 {
			out = append(out, round(sum/float64(window), 4))
		}
	}
	return out
}

// TrendDirection compares the means of the two halves of a series: upward
// above +5%, downward below -5%, stable otherwise.
func TrendDirection(values []float64) string {
	if len(values) < 2 {
		return TrendStable
	}
	mid := len(values) / 2
	first := lo.Sum(values[:mid]) / float64(mid)
	second := lo.Sum(values[mid:]) / float64(len(values)-mid)

	switch {
	case second > first*1.05:
		return TrendUpward
	case second < first*0.95:
		return TrendDownward
	default:
		return TrendStable
	}
}

func sumValues(bookings []Booking) decimal.Decimal {
	return lo.Reduce(bookings, func(acc decimal.Decimal, b Booking, _ int) decimal.Decimal {
		return acc.Add(b.Value)
	}, decimal.Zero)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
