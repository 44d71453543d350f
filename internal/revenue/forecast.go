package revenue

import (
	"errors"
	"math"

	"github.com/samber/lo"
)

// ErrInsufficientHistory is returned when a forecast has fewer than two
// data points to work from.
var ErrInsufficientHistory = errors.New("revenue: at least two periods are required to forecast")

const (
	forecastBand = 0.10
	// z-score of a 95% interval.
	confidenceZ = 1.96
)

// Interval is a forecast confidence band.
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// PeriodRevenue is the revenue of one historical period.
type PeriodRevenue struct {
	From    string  `json:"from"`
	To      string  `json:"to"`
	Revenue float64 `json:"revenue"`
}

// Forecast projects the next period from equal-length historical periods.
type Forecast struct {
	Periods            []PeriodRevenue `json:"periods,omitempty"`
	Current            float64         `json:"current"`
	GrowthRate         float64         `json:"growth_rate"`
	Slope              float64         `json:"slope"`
	NextPeriod         float64         `json:"next_period"`
	ConfidenceInterval Interval        `json:"confidence_interval"`
	Trend              string          `json:"trend"`
}

// ForecastFromPeriods projects revenues, oldest first. The growth rate is
// the mean period-over-period ratio (periods following a zero are skipped),
// the next period is current*(1+growth) and the band is +/-10%.
func ForecastFromPeriods(revenues []float64) (*Forecast, error) {
	if len(revenues) < 2 {
		return nil, ErrInsufficientHistory
	}

	var ratios []float64
	for i := 1; i < len(revenues); i++ {
		if revenues[i-1] == 0 {
			continue
		}
		ratios = append(ratios, (revenues[i]-revenues[i-1])/revenues[i-1])
	}
	var growth float64
	if len(ratios) > 0 {
		growth = lo.Sum(ratios) / float64(len(ratios))
	}

	current := revenues[len(revenues)-1]
	next := current * (1 + growth)
	slope, _ := LinearFit(revenues)

	return &Forecast{
		Current:    current,
		GrowthRate: round(growth, 4),
		Slope:      round(slope, 4),
		NextPeriod: round(next, 2),
		ConfidenceInterval: Interval{
			Lower: round(next*(1-forecastBand), 2),
			Upper: round(next*(1+forecastBand), 2),
		},
		Trend: growthTrend(growth),
	}, nil
}

// DailyForecast projects the next day of a daily revenue series by least
// squares.
type DailyForecast struct {
	Slope              float64  `json:"slope"`
	Intercept          float64  `json:"intercept"`
	NextDay            float64  `json:"next_day"`
	StandardError      float64  `json:"standard_error"`
	ConfidenceInterval Interval `json:"confidence_interval"`
	Trend              string   `json:"trend"`
}

// ForecastDaily fits a line through series (x = day index) and extends it
// one day. The band is 1.96 standard errors of the residuals.
func ForecastDaily(series []float64) (*DailyForecast, error) {
	if len(series) < 2 {
		return nil, ErrInsufficientHistory
	}

	slope, intercept := LinearFit(series)
	next := intercept + slope*float64(len(series))

	var se float64
	if len(series) > 2 {
		var sse float64
		for i, y := range series {
			residual := y - (intercept + slope*float64(i))
			sse += residual * residual
		}
		se = math.Sqrt(sse / float64(len(series)-2))
	}

	return &DailyForecast{
		Slope:         round(slope, 4),
		Intercept:     round(intercept, 4),
		NextDay:       round(next, 2),
		StandardError: round(se, 4),
		ConfidenceInterval: Interval{
			Lower: round(next-confidenceZ*se, 2),
			Upper: round(next+confidenceZ*se, 2),
		},
		Trend: growthTrend(slope),
	}, nil
}

// LinearFit returns the least squares slope and intercept of values against
// their index.
func LinearFit(values []float64) (slope, intercept float64) {
	n := float64(len(values))
	if n == 0 {
		return 0, 0
	}
	if n == 1 {
		return 0, values[0]
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	slope = (n*sumXY - sumX*sumY) / (n*sumXX - sumX*sumX)
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}

func growthTrend(rate float64) string {
	switch {
	case rate > 0:
		return TrendGrowing
	case rate < 0:
		return TrendDeclining
	default:
		return TrendStable
	}
}
