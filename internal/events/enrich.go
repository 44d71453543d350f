package events

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/datatypes"

	"repairpulse/internal/pkg/user_agent"
)

// RawEvent is an event as received from a client, before validation.
type RawEvent map[string]any

// CountryResolver maps an IP address to a country code.
type CountryResolver interface {
	Country(ip string) string
}

// Enricher validates raw events and derives the computed fields.
// It never touches the store or the cache.
type Enricher struct {
	countries CountryResolver
	now       func() time.Time
}

// EnricherOption configures an Enricher.
type EnricherOption func(*Enricher)

// WithCountryResolver enables country enrichment from ip_address.
func WithCountryResolver(r CountryResolver) EnricherOption {
	return func(e *Enricher) {
		e.countries = r
	}
}

// WithClock overrides the time source used for events without a timestamp.
func WithClock(now func() time.Time) EnricherOption {
	return func(e *Enricher) {
		e.now = now
	}
}

func NewEnricher(opts ...EnricherOption) *Enricher {
	e := &Enricher{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enrich validates raw and produces a new AnalyticsEvent. The id is taken
// from event_id when the client supplies a ULID, which makes redelivery of
// the same event idempotent; otherwise a fresh one is generated.
func (e *Enricher) Enrich(raw RawEvent) (*AnalyticsEvent, error) {
	fingerprint := raw.str("user_fingerprint", "userFingerprint")
	if fingerprint == "" {
		return nil, NewValidationError("user_fingerprint")
	}
	sessionID := raw.str("session_id", "sessionId")
	if sessionID == "" {
		return nil, NewValidationError("session_id")
	}
	eventType := raw.str("event_type", "eventType")
	if eventType == "" {
		return nil, NewValidationError("event_type")
	}

	timestamp, err := raw.timestamp(e.now)
	if err != nil {
		return nil, err
	}

	conversionValue, err := raw.conversionValue()
	if err != nil {
		return nil, err
	}

	pageURL := raw.str("page_url", "pageUrl")
	userAgent := raw.str("user_agent", "userAgent")
	ipAddress := raw.str("ip_address", "ipAddress")
	ua := user_agent.ParseUserAgent(userAgent)

	id, err := raw.eventID()
	if err != nil {
		return nil, err
	}

	event := &AnalyticsEvent{
		ID:              id,
		UserFingerprint: fingerprint,
		SessionID:       sessionID,
		CustomerID:      raw.str("customer_id", "customerId"),
		EventType:       eventType,
		EventData:       raw.eventData(),
		PageURL:         pageURL,
		PageTitle:       raw.str("page_title", "pageTitle"),
		Referrer:        raw.str("referrer"),
		UserAgent:       userAgent,
		IPAddress:       ipAddress,
		Country:         e.country(ipAddress),
		Timestamp:       timestamp,
		EngagementScore: EngagementScore(eventType, pageURL),
		ConversionValue: conversionValue,
		DeviceType:      ua.Device,
		BrowserName:     ua.Browser,
		OSName:          ua.OS,
		CreatedAt:       e.now().UTC(),
	}
	event.UTMSource, event.UTMMedium, event.UTMCampaign = raw.utm(pageURL)

	return event, nil
}

func (e *Enricher) country(ip string) string {
	if e.countries == nil || ip == "" {
		return UnknownCountry
	}
	if c := e.countries.Country(ip); c != "" {
		return c
	}
	return UnknownCountry
}

func (r RawEvent) str(keys ...string) string {
	for _, k := range keys {
		v, ok := r[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				return s
			}
		case fmt.Stringer:
			return t.String()
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		case int:
			return strconv.Itoa(t)
		case int64:
			return strconv.FormatInt(t, 10)
		}
	}
	return ""
}

func (r RawEvent) eventID() (string, error) {
	supplied := r.str("event_id", "eventId")
	if supplied == "" {
		return ulid.Make().String(), nil
	}
	id, err := ulid.ParseStrict(supplied)
	if err != nil {
		return "", &ValidationError{Field: "event_id", Reason: "must be a ULID"}
	}
	return id.String(), nil
}

func (r RawEvent) timestamp(now func() time.Time) (time.Time, error) {
	v, ok := r["timestamp"]
	if !ok || v == nil {
		return now().UTC(), nil
	}

	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return now().UTC(), nil
		}
		return t.UTC(), nil
	case string:
		if strings.TrimSpace(t) == "" {
			return now().UTC(), nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, &ValidationError{Field: "timestamp", Reason: "must be RFC3339 or unix milliseconds"}
		}
		return parsed.UTC(), nil
	case float64:
		return time.UnixMilli(int64(t)).UTC(), nil
	case int64:
		return time.UnixMilli(t).UTC(), nil
	case int:
		return time.UnixMilli(int64(t)).UTC(), nil
	case json.Number:
		ms, err := t.Int64()
		if err != nil {
			return time.Time{}, &ValidationError{Field: "timestamp", Reason: "must be RFC3339 or unix milliseconds"}
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, &ValidationError{Field: "timestamp", Reason: "has an unsupported type"}
}

func (r RawEvent) conversionValue() (*float64, error) {
	v, ok := r["conversion_value"]
	if !ok {
		v, ok = r["conversionValue"]
	}
	if !ok || v == nil {
		return nil, nil
	}

	var value float64
	switch t := v.(type) {
	case float64:
		value = t
	case float32:
		value = float64(t)
	case int:
		value = float64(t)
	case int64:
		value = float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, &ValidationError{Field: "conversion_value", Reason: "must be numeric"}
		}
		value = f
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil, &ValidationError{Field: "conversion_value", Reason: "must be numeric"}
		}
		value = f
	default:
		return nil, &ValidationError{Field: "conversion_value", Reason: "must be numeric"}
	}
	return &value, nil
}

func (r RawEvent) eventData() datatypes.JSONMap {
	v, ok := r["event_data"]
	if !ok {
		v, ok = r["eventData"]
	}
	if !ok || v == nil {
		return nil
	}
	if m, ok := v.(map[string]any); ok {
		return datatypes.JSONMap(m)
	}
	return datatypes.JSONMap{"value": v}
}

// utm prefers explicit fields and falls back to the page URL query string.
func (r RawEvent) utm(pageURL string) (source, medium, campaign string) {
	source = r.str("utm_source", "utmSource")
	medium = r.str("utm_medium", "utmMedium")
	campaign = r.str("utm_campaign", "utmCampaign")
	if (source != "" && medium != "" && campaign != "") || pageURL == "" {
		return source, medium, campaign
	}

	parsed, err := url.Parse(pageURL)
	if err != nil {
		return source, medium, campaign
	}
	q := parsed.Query()
	if source == "" {
		source = q.Get("utm_source")
	}
	if medium == "" {
		medium = q.Get("utm_medium")
	}
	if campaign == "" {
		campaign = q.Get("utm_campaign")
	}
	return source, medium, campaign
}
