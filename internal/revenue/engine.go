// Package revenue computes read-time business intelligence over completed
// bookings: overview, trends, breakdowns, profitability, forecasts and
// cohort retention.
package revenue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/cache"
	"github.com/samber/lo"

	"repairpulse/internal/events"
	"repairpulse/internal/pkg/async"
	"repairpulse/internal/timeframe"
)

// Section names, also used as task names.
const (
	SectionOverview      = "overview"
	SectionTrends        = "trends"
	SectionBreakdown     = "breakdown"
	SectionProfitability = "profitability"
	SectionForecast      = "forecast"
	SectionDailyForecast = "daily_forecast"
	SectionCohorts       = "cohorts"
)

var allSections = []string{
	SectionOverview, SectionTrends, SectionBreakdown, SectionProfitability,
	SectionForecast, SectionDailyForecast, SectionCohorts,
}

const (
	defaultForecastPeriods = 6
	defaultDashboardTTL    = 5 * time.Minute
	topSegments            = 5
)

// RevenueAnalytics is the full report for one timeframe. Forecasts are nil
// when there is not enough history.
type RevenueAnalytics struct {
	Timeframe     *timeframe.TimeFrame `json:"timeframe"`
	Overview      Overview             `json:"overview"`
	Trends        Trends               `json:"trends"`
	Breakdown     Breakdown            `json:"breakdown"`
	Profitability Profitability        `json:"profitability"`
	Forecast      *Forecast            `json:"forecast"`
	DailyForecast *DailyForecast       `json:"daily_forecast"`
	Cohorts       []Cohort             `json:"cohorts"`
	GeneratedAt   time.Time            `json:"generated_at"`
}

// DashboardData is the condensed report shown on the dashboard.
type DashboardData struct {
	Period         string               `json:"period"`
	Timeframe      *timeframe.TimeFrame `json:"timeframe"`
	Overview       Overview             `json:"overview"`
	Trends         Trends               `json:"trends"`
	TopRepairTypes []Segment            `json:"top_repair_types"`
	TopDevices     []Segment            `json:"top_devices"`
	Forecast       *Forecast            `json:"forecast"`
	GeneratedAt    time.Time            `json:"generated_at"`
}

// Engine is stateless apart from the dashboard cache and safe for concurrent
// use.
type Engine struct {
	source          BookingSource
	logger          *slog.Logger
	parser          *timeframe.TimeFrameParser
	pool            *async.Pool
	forecastPeriods int
	cohortMonths    int
	dashboardTTL    time.Duration
	dashboard       *cache.Cache[string, *DashboardData]
	now             func() time.Time
}

type Option func(*Engine)

// WithTimeProvider sets the clock used to resolve timeframes.
func WithTimeProvider(tp timeframe.TimeProvider) Option {
	return func(e *Engine) {
		e.parser = timeframe.NewTimeFrameParser(tp)
		e.now = func() time.Time { return tp.Now(time.UTC) }
	}
}

// WithForecastPeriods sets how many equal-length periods feed the forecast.
func WithForecastPeriods(n int) Option {
	return func(e *Engine) { e.forecastPeriods = n }
}

func WithCohortMonths(n int) Option {
	return func(e *Engine) { e.cohortMonths = n }
}

func WithDashboardTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.dashboardTTL = ttl }
}

func NewEngine(source BookingSource, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		source:          source,
		logger:          logger,
		parser:          timeframe.NewTimeFrameParser(),
		pool:            async.NewPool(len(allSections)),
		forecastPeriods: defaultForecastPeriods,
		cohortMonths:    defaultCohortMonths,
		dashboardTTL:    defaultDashboardTTL,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.forecastPeriods < 2 {
		e.forecastPeriods = 2
	}

	e.dashboard = cache.NewCache[string, *DashboardData](logger, e.dashboardTTL, func(period string) (*DashboardData, error) {
		return e.buildDashboard(context.Background(), timeframe.TimeFrameRangeLabel(period))
	})
	return e
}

// ParseTimeframe resolves a timeframe name or alias in UTC.
func (e *Engine) ParseTimeframe(name string) (*timeframe.TimeFrame, error) {
	tf, err := e.parser.ParseRange(name, time.UTC)
	if err != nil {
		return nil, &events.ValidationError{Field: "timeframe", Reason: "is not a known time range"}
	}
	return tf, nil
}

// GetRevenueAnalytics computes every section for the named timeframe,
// fanning the sections out over a worker pool.
func (e *Engine) GetRevenueAnalytics(ctx context.Context, timeframeName string) (*RevenueAnalytics, error) {
	tf, err := e.ParseTimeframe(timeframeName)
	if err != nil {
		return nil, err
	}

	results, err := e.run(ctx, tf, allSections...)
	if err != nil {
		return nil, err
	}

	report := &RevenueAnalytics{
		Timeframe:     tf,
		Overview:      results[SectionOverview].Data.(Overview),
		Trends:        results[SectionTrends].Data.(Trends),
		Breakdown:     results[SectionBreakdown].Data.(Breakdown),
		Profitability: results[SectionProfitability].Data.(Profitability),
		Cohorts:       results[SectionCohorts].Data.([]Cohort),
		GeneratedAt:   e.now().UTC(),
	}
	report.Forecast, _ = results[SectionForecast].Data.(*Forecast)
	report.DailyForecast, _ = results[SectionDailyForecast].Data.(*DailyForecast)
	return report, nil
}

// GetDashboardData returns the dashboard for a period, memoised per period
// for the dashboard TTL.
func (e *Engine) GetDashboardData(ctx context.Context, period string) (*DashboardData, error) {
	label, err := timeframe.ParseRangeLabel(period)
	if err != nil {
		return nil, &events.ValidationError{Field: "period", Reason: "is not a known time range"}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := e.dashboard.Get(string(label))
	if err != nil {
		return nil, queryError("dashboard", err)
	}
	return data, nil
}

// InvalidateDashboard drops every memoised dashboard.
func (e *Engine) InvalidateDashboard() {
	e.dashboard.Clear()
}

func (e *Engine) buildDashboard(ctx context.Context, label timeframe.TimeFrameRangeLabel) (*DashboardData, error) {
	tf, err := e.parser.ParseRange(string(label), time.UTC)
	if err != nil {
		return nil, err
	}

	results, err := e.run(ctx, tf, SectionOverview, SectionTrends, SectionBreakdown, SectionForecast)
	if err != nil {
		return nil, err
	}

	breakdown := results[SectionBreakdown].Data.(Breakdown)
	data := &DashboardData{
		Period:         string(label),
		Timeframe:      tf,
		Overview:       results[SectionOverview].Data.(Overview),
		Trends:         results[SectionTrends].Data.(Trends),
		TopRepairTypes: lo.Subset(breakdown.ByRepairType, 0, topSegments),
		TopDevices:     lo.Subset(breakdown.ByDeviceCategory, 0, topSegments),
		GeneratedAt:    e.now().UTC(),
	}
	data.Forecast, _ = results[SectionForecast].Data.(*Forecast)

	e.logger.Debug("Dashboard computed",
		slog.String("period", string(label)),
		slog.Int("bookings", data.Overview.BookingCount))
	return data, nil
}

// run loads the current window once, then computes the requested sections
// concurrently.
func (e *Engine) run(ctx context.Context, tf *timeframe.TimeFrame, sections ...string) (map[string]async.Result, error) {
	current, err := e.source.QueryBookings(ctx, BookingFilter{From: tf.From, To: tf.To})
	if err != nil {
		return nil, queryError("current bookings", err)
	}

	builders := map[string]func(ctx context.Context) (any, error){
		SectionOverview: func(ctx context.Context) (any, error) {
			prev := tf.Previous()
			previous, err := e.source.QueryBookings(ctx, BookingFilter{From: prev.From, To: prev.To})
			if err != nil {
				return nil, err
			}
			return ComputeOverview(current, previous), nil
		},
		SectionTrends: func(context.Context) (any, error) {
			return ComputeTrends(current, tf.Tz), nil
		},
		SectionBreakdown: func(context.Context) (any, error) {
			return ComputeBreakdown(current, tf.From), nil
		},
		SectionProfitability: func(context.Context) (any, error) {
			return ComputeProfitability(current), nil
		},
		SectionForecast: func(ctx context.Context) (any, error) {
			return e.forecast(ctx, tf)
		},
		SectionDailyForecast: func(context.Context) (any, error) {
			trends := ComputeTrends(current, tf.Tz)
			series := lo.Map(trends.Daily, func(d DailyRevenue, _ int) float64 { return d.Revenue.InexactFloat64() })
			forecast, err := ForecastDaily(series)
			if errors.Is(err, ErrInsufficientHistory) {
				return (*DailyForecast)(nil), nil
			}
			return forecast, err
		},
		SectionCohorts: func(ctx context.Context) (any, error) {
			history, err := e.source.QueryBookings(ctx, BookingFilter{To: tf.To})
			if err != nil {
				return nil, err
			}
			return ComputeCohorts(history, tf.To, e.cohortMonths), nil
		},
	}

	tasks := make([]async.Task, 0, len(sections))
	for _, name := range sections {
		build, ok := builders[name]
		if !ok {
			return nil, fmt.Errorf("unknown revenue section %q", name)
		}
		tasks = append(tasks, async.Task{Name: name, Execute: build})
	}

	results := e.pool.Execute(ctx, tasks)

	// Check for errors first
	for _, name := range sections {
		result, ok := results[name]
		if !ok {
			return nil, queryError(name, errors.New("section did not complete"))
		}
		if result.Err != nil {
			e.logger.Error("Revenue section failed", slog.String("section", name), slog.Any("error", result.Err))
			return nil, queryError(name, result.Err)
		}
	}
	return results, nil
}

// forecast sums revenue over equal-length periods ending with tf.
func (e *Engine) forecast(ctx context.Context, tf *timeframe.TimeFrame) (*Forecast, error) {
	periods := tf.Periods(e.forecastPeriods)
	history, err := e.source.QueryBookings(ctx, BookingFilter{From: periods[0].From, To: tf.To})
	if err != nil {
		return nil, err
	}

	revenues := make([]float64, len(periods))
	summary := make([]PeriodRevenue, len(periods))
	for i, p := range periods {
		inPeriod := lo.Filter(history, func(b Booking, _ int) bool { return p.Contains(*b.CompletedAt) })
		revenues[i] = sumValues(inPeriod).InexactFloat64()
		summary[i] = PeriodRevenue{
			From:    p.From.Format(time.DateOnly),
			To:      p.To.Format(time.DateOnly),
			Revenue: revenues[i],
		}
	}

	// Leading periods before the first booking are not history.
	first := 0
	for first < len(revenues)-1 && revenues[first] == 0 {
		first++
	}

	forecast, err := ForecastFromPeriods(revenues[first:])
	if errors.Is(err, ErrInsufficientHistory) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	forecast.Periods = summary[first:]
	return forecast, nil
}

func queryError(query string, err error) error {
	var qErr *events.QueryError
	if errors.As(err, &qErr) {
		return err
	}
	return &events.QueryError{Query: query, Err: err}
}
