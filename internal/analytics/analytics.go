// Package analytics builds read-time views over the event store: per-user
// behavior profiles and per-customer journeys.
//
// The package is organized into focused modules:
//   - analytics.go: Analyzer, shared result types and label helpers
//   - behavior.go: behavior profiles and the engagement category table
//   - journey.go: journey stages, touchpoints and insights
package analytics

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/pariz/gountries"
	"github.com/samber/lo"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"repairpulse/internal/events"
)

const (
	// DefaultWindowDays is used when a caller passes a non-positive window.
	DefaultWindowDays = 30
	// MaxWindowDays caps the trailing window of every read path.
	MaxWindowDays = 365
)

// MetricCountResult represents a generic key-count pair for query results
type MetricCountResult struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// Reader is the part of the event store the read paths need.
type Reader interface {
	QueryEvents(ctx context.Context, filter events.EventFilter) ([]events.AnalyticsEvent, error)
	QuerySessions(ctx context.Context, filter events.SessionFilter) ([]events.SessionAggregate, error)
}

// Analyzer is stateless apart from its collaborators and is safe for
// concurrent use.
type Analyzer struct {
	reader Reader
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Analyzer)

// WithClock overrides the clock used to compute trailing windows.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

func NewAnalyzer(reader Reader, logger *slog.Logger, opts ...Option) *Analyzer {
	a := &Analyzer{reader: reader, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NormalizeDays clamps a requested window to [1, MaxWindowDays], using
// DefaultWindowDays for non-positive input.
func NormalizeDays(days int) int {
	if days <= 0 {
		return DefaultWindowDays
	}
	if days > MaxWindowDays {
		return MaxWindowDays
	}
	return days
}

func (a *Analyzer) since(days int) time.Time {
	return a.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
}

// queryError keeps store errors that are already typed and wraps the rest.
func queryError(query string, err error) error {
	var qErr *events.QueryError
	if errors.As(err, &qErr) {
		return err
	}
	return &events.QueryError{Query: query, Err: err}
}

// countBy tallies items by key, skipping empty keys, sorted by count desc
// then name asc.
func countBy[T any](items []T, key func(T) string) []MetricCountResult {
	keyed := lo.Filter(items, func(item T, _ int) bool { return key(item) != "" })
	counts := lo.CountValuesBy(keyed, key)

	results := lo.MapToSlice(counts, func(name string, count int) MetricCountResult {
		return MetricCountResult{Name: name, Count: int64(count)}
	})
	sort.Slice(results, func(i, j int) bool {
		if results[i].Count != results[j].Count {
			return results[i].Count > results[j].Count
		}
		return results[i].Name < results[j].Name
	})
	return results
}

func convertCountryStats(items []MetricCountResult) []MetricCountResult {
	caser := cases.Upper(language.AmericanEnglish)
	countries := gountries.New()

	result := make([]MetricCountResult, len(items))
	for i, item := range items {
		if item.Name == events.UnknownCountry {
			result[i] = MetricCountResult{Name: "Unknown", Count: item.Count}
			continue
		}
		country, err := countries.FindCountryByAlpha(item.Name)
		if err != nil {
			result[i] = MetricCountResult{Name: caser.String(item.Name), Count: item.Count}
			continue
		}
		result[i] = MetricCountResult{Name: country.Name.Common, Count: item.Count}
	}
	return result
}

func convertDeviceStats(items []MetricCountResult) []MetricCountResult {
	caser := cases.Title(language.AmericanEnglish)

	result := make([]MetricCountResult, len(items))
	for i, item := range items {
		name := item.Name
		if name == events.UnknownDevice {
			name = "Unknown"
		}
		result[i] = MetricCountResult{Name: caser.String(strings.ReplaceAll(name, "_", " ")), Count: item.Count}
	}
	return result
}
