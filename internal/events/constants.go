package events

// Well-known event types. Event types are open-ended; these are the ones
// the pipeline treats specially.
const (
	EventTypePageView   = "page_view"
	EventTypeClick      = "click"
	EventTypeScroll     = "scroll"
	EventTypeFormSubmit = "form_submit"
	EventTypeConversion = "conversion"
	EventTypeError      = "error"
	EventTypeCheckout   = "checkout"
)

// Constants for unknown or default values
const (
	UnknownDevice  = "unknown"
	UnknownBrowser = "Other"
	UnknownOS      = "Other"
	UnknownCountry = "unknown"
)

// Aggregation stages recorded in the idempotency ledger.
const (
	StageSession = "session"
	StageRollup  = "rollup"
)

// Rollup dimensions and member kinds used for exact unique counting.
const (
	dimensionEventType = "event_type"
	dimensionPageURL   = "page_url"
	memberKindUser     = "user"
	memberKindSession  = "session"
)

var criticalEventTypes = map[string]bool{
	EventTypeConversion: true,
	EventTypeFormSubmit: true,
	EventTypeError:      true,
	EventTypeCheckout:   true,
}

// IsCriticalEventType reports whether events of this type are persisted
// immediately in addition to being queued.
func IsCriticalEventType(eventType string) bool {
	return criticalEventTypes[eventType]
}
