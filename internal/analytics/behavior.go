package analytics

import (
	"context"
	"time"

	"github.com/samber/lo"

	"repairpulse/internal/events"
	"repairpulse/internal/pkg/referrers"
)

// Engagement categories, highest first.
const (
	CategoryHighlyEngaged = "highly_engaged"
	CategoryEngaged       = "engaged"
	CategoryCasual        = "casual"
	CategoryLowEngagement = "low_engagement"
)

const topPagesLimit = 5

// categoryRule matches when a user has strictly more than MinEvents events
// and a mean engagement score strictly above MinAvgEngagement.
type categoryRule struct {
	Category         string
	MinEvents        int
	MinAvgEngagement float64
}

// categoryRules is checked in order; the first match wins.
var categoryRules = []categoryRule{
	{Category: CategoryHighlyEngaged, MinEvents: 100, MinAvgEngagement: 5},
	{Category: CategoryEngaged, MinEvents: 50, MinAvgEngagement: 3},
	{Category: CategoryCasual, MinEvents: 10, MinAvgEngagement: 1},
}

// Categorize maps event volume and mean engagement to a category.
func Categorize(totalEvents int, avgEngagement float64) string {
	for _, rule := range categoryRules {
		if totalEvents > rule.MinEvents && avgEngagement > rule.MinAvgEngagement {
			return rule.Category
		}
	}
	return CategoryLowEngagement
}

// BehaviorProfile summarises one user's activity over a trailing window.
type BehaviorProfile struct {
	UserFingerprint      string              `json:"user_fingerprint"`
	Days                 int                 `json:"days"`
	TotalEvents          int                 `json:"total_events"`
	TotalSessions        int                 `json:"total_sessions"`
	AvgSessionDurationMs float64             `json:"avg_session_duration_ms"`
	AvgEngagementScore   float64             `json:"avg_engagement_score"`
	Category             string              `json:"category"`
	TopPages             []MetricCountResult `json:"top_pages"`
	EventTypes           []MetricCountResult `json:"event_types"`
	Devices              []MetricCountResult `json:"devices"`
	Countries            []MetricCountResult `json:"countries"`
	Sources              []MetricCountResult `json:"sources"`
	Channels             []MetricCountResult `json:"channels"`
	FirstSeen            *time.Time          `json:"first_seen,omitempty"`
	LastSeen             *time.Time          `json:"last_seen,omitempty"`
}

// GetUserBehaviorProfile loads a user's events and sessions from the last
// days days and derives their profile. A user with no activity gets an
// empty low_engagement profile.
func (a *Analyzer) GetUserBehaviorProfile(ctx context.Context, fingerprint string, days int) (*BehaviorProfile, error) {
	if fingerprint == "" {
		return nil, events.NewValidationError("user_fingerprint")
	}
	days = NormalizeDays(days)
	since := a.since(days)

	evts, err := a.reader.QueryEvents(ctx, events.EventFilter{UserFingerprint: fingerprint, Since: since})
	if err != nil {
		return nil, queryError("behavior events", err)
	}
	sessions, err := a.reader.QuerySessions(ctx, events.SessionFilter{UserFingerprint: fingerprint, Since: since})
	if err != nil {
		return nil, queryError("behavior sessions", err)
	}

	profile := BuildBehaviorProfile(evts, sessions)
	profile.UserFingerprint = fingerprint
	profile.Days = days
	return profile, nil
}

// BuildBehaviorProfile derives a profile from already loaded events (ordered
// by timestamp) and sessions.
func BuildBehaviorProfile(evts []events.AnalyticsEvent, sessions []events.SessionAggregate) *BehaviorProfile {
	profile := &BehaviorProfile{
		TotalEvents:   len(evts),
		TotalSessions: len(sessions),
		TopPages:      []MetricCountResult{},
		EventTypes:    []MetricCountResult{},
		Devices:       []MetricCountResult{},
		Countries:     []MetricCountResult{},
		Sources:       []MetricCountResult{},
		Channels:      []MetricCountResult{},
	}

	if len(sessions) > 0 {
		totalMs := lo.SumBy(sessions, func(s events.SessionAggregate) float64 {
			return float64(s.Duration().Milliseconds())
		})
		profile.AvgSessionDurationMs = totalMs / float64(len(sessions))
	}

	if len(evts) > 0 {
		totalScore := lo.SumBy(evts, func(e events.AnalyticsEvent) float64 { return e.EngagementScore })
		profile.AvgEngagementScore = totalScore / float64(len(evts))

		first := evts[0].Timestamp
		last := evts[len(evts)-1].Timestamp
		profile.FirstSeen = &first
		profile.LastSeen = &last

		pages := countBy(evts, func(e events.AnalyticsEvent) string { return e.PageURL })
		if len(pages) > topPagesLimit {
			pages = pages[:topPagesLimit]
		}
		profile.TopPages = pages
		profile.EventTypes = countBy(evts, func(e events.AnalyticsEvent) string { return e.EventType })
		profile.Devices = convertDeviceStats(countBy(evts, func(e events.AnalyticsEvent) string { return e.DeviceType }))
		profile.Countries = convertCountryStats(countBy(evts, func(e events.AnalyticsEvent) string { return e.Country }))

		// A session is attributed to the referrer of its first event.
		entries := lo.UniqBy(evts, func(e events.AnalyticsEvent) string { return e.SessionID })
		profile.Sources = countBy(entries, func(e events.AnalyticsEvent) string { return referrers.Source(e.Referrer) })
		profile.Channels = countBy(entries, func(e events.AnalyticsEvent) string { return referrers.Channel(e.Referrer) })
	}

	profile.Category = Categorize(profile.TotalEvents, profile.AvgEngagementScore)
	return profile
}
