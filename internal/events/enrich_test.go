package events_test

import (
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repairpulse/internal/events"
)

func TestEngagementScore(t *testing.T) {
	tests := []struct {
		eventType string
		pageURL   string
		want      float64
	}{
		{events.EventTypePageView, "/", 1},
		{events.EventTypePageView, "/booking/new", 2},
		{events.EventTypePageView, "/checkout", 3},
		{events.EventTypePageView, "/booking/checkout", 3},
		{events.EventTypeClick, "/services", 2},
		{events.EventTypeScroll, "/pricing", 1.5},
		{events.EventTypeFormSubmit, "/booking", 10},
		{events.EventTypeConversion, "/checkout/done", 30},
		{"video_play", "/", 1},
		{"video_play", "", 1},
	}

	for _, tc := range tests {
		t.Run(tc.eventType+" "+tc.pageURL, func(t *testing.T) {
			assert.Equal(t, tc.want, events.EngagementScore(tc.eventType, tc.pageURL))
			// Same inputs always yield the same score.
			assert.Equal(t, events.EngagementScore(tc.eventType, tc.pageURL), events.EngagementScore(tc.eventType, tc.pageURL))
		})
	}
}

func TestEnrichValidation(t *testing.T) {
	tests := []struct {
		name  string
		raw   events.RawEvent
		field string
	}{
		{"missing fingerprint", events.RawEvent{"session_id": "s", "event_type": "click"}, "user_fingerprint"},
		{"blank fingerprint", events.RawEvent{"user_fingerprint": "  ", "session_id": "s", "event_type": "click"}, "user_fingerprint"},
		{"missing session", events.RawEvent{"user_fingerprint": "u", "event_type": "click"}, "session_id"},
		{"missing event type", events.RawEvent{"user_fingerprint": "u", "session_id": "s"}, "event_type"},
		{"bad timestamp", events.RawEvent{"user_fingerprint": "u", "session_id": "s", "event_type": "click", "timestamp": "yesterday"}, "timestamp"},
		{"bad conversion value", events.RawEvent{"user_fingerprint": "u", "session_id": "s", "event_type": "conversion", "conversion_value": "lots"}, "conversion_value"},
		{"bad event id", events.RawEvent{"user_fingerprint": "u", "session_id": "s", "event_type": "click", "event_id": "42"}, "event_id"},
	}

	enricher := events.NewEnricher()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			event, err := enricher.Enrich(tc.raw)
			require.Error(t, err)
			assert.Nil(t, event)

			var vErr *events.ValidationError
			require.True(t, errors.As(err, &vErr))
			assert.Equal(t, tc.field, vErr.Field)
		})
	}
}

type staticCountries map[string]string

func (s staticCountries) Country(ip string) string { return s[ip] }

func TestEnrichDerivesFields(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	enricher := events.NewEnricher(
		events.WithClock(func() time.Time { return now }),
		events.WithCountryResolver(staticCountries{"81.2.69.142": "GB"}),
	)

	event, err := enricher.Enrich(events.RawEvent{
		"user_fingerprint": "fp-1",
		"session_id":       "sess-1",
		"customer_id":      "cust-9",
		"event_type":       "conversion",
		"page_url":         "https://shop.example/checkout?utm_source=google&utm_medium=cpc",
		"utm_campaign":     "spring",
		"user_agent":       "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
		"ip_address":       "81.2.69.142",
		"conversion_value": "149.90",
		"event_data":       map[string]any{"repair": "screen_repair"},
	})
	require.NoError(t, err)

	_, parseErr := ulid.ParseStrict(event.ID)
	assert.NoError(t, parseErr)
	assert.Equal(t, now, event.Timestamp)
	assert.Equal(t, now, event.CreatedAt)
	assert.Equal(t, "cust-9", event.CustomerID)
	assert.Equal(t, 30.0, event.EngagementScore)
	require.NotNil(t, event.ConversionValue)
	assert.InDelta(t, 149.90, *event.ConversionValue, 0.0001)
	assert.Equal(t, "google", event.UTMSource)
	assert.Equal(t, "cpc", event.UTMMedium)
	assert.Equal(t, "spring", event.UTMCampaign)
	assert.Equal(t, "mobile", event.DeviceType)
	assert.Equal(t, "Safari", event.BrowserName)
	assert.Equal(t, "iOS", event.OSName)
	assert.Equal(t, "GB", event.Country)
	assert.Equal(t, "screen_repair", event.EventData["repair"])
	assert.False(t, event.Processed)
	assert.True(t, event.IsCritical())
}

func TestEnrichDefaults(t *testing.T) {
	event, err := events.NewEnricher().Enrich(events.RawEvent{
		"userFingerprint": "fp-2",
		"sessionId":       "sess-2",
		"eventType":       "page_view",
		"timestamp":       float64(1700000000000),
	})
	require.NoError(t, err)

	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), event.Timestamp)
	assert.Equal(t, "unknown", event.DeviceType)
	assert.Equal(t, "Other", event.BrowserName)
	assert.Equal(t, "Other", event.OSName)
	assert.Equal(t, "unknown", event.Country)
	assert.Nil(t, event.ConversionValue)
	assert.Nil(t, event.EventData)
	assert.False(t, event.IsCritical())
}

func TestEnrichKeepsSuppliedEventID(t *testing.T) {
	id := ulid.Make().String()
	raw := events.RawEvent{"event_id": id, "user_fingerprint": "u", "session_id": "s", "event_type": "click"}

	first, err := events.NewEnricher().Enrich(raw)
	require.NoError(t, err)
	second, err := events.NewEnricher().Enrich(raw)
	require.NoError(t, err)

	assert.Equal(t, id, first.ID)
	assert.Equal(t, first.ID, second.ID)
}

func TestEnrichGeneratesUniqueIDs(t *testing.T) {
	enricher := events.NewEnricher()
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		e, err := enricher.Enrich(events.RawEvent{"user_fingerprint": "u", "session_id": "s", "event_type": "click"})
		require.NoError(t, err)
		require.False(t, seen[e.ID], "duplicate id %s", e.ID)
		seen[e.ID] = true
	}
}

func TestCriticalEventTypes(t *testing.T) {
	for _, typ := range []string{"conversion", "form_submit", "error", "checkout"} {
		assert.True(t, events.IsCriticalEventType(typ), typ)
	}
	for _, typ := range []string{"page_view", "click", "scroll", ""} {
		assert.False(t, events.IsCriticalEventType(typ), typ)
	}
}
