package events

import "fmt"

// ValidationError is returned when a raw event lacks a required field or
// carries a malformed one. Such events are rejected synchronously and never
// enqueued.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "is required"
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, reason)
}

// NewValidationError creates a ValidationError for a missing field.
func NewValidationError(field string) *ValidationError {
	return &ValidationError{Field: field}
}

// PersistenceError wraps a failed write of one or more events.
type PersistenceError struct {
	Op    string
	Count int
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed for %d event(s): %v", e.Op, e.Count, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// AggregationError wraps a failed session or rollup upsert. It is logged
// and swallowed by the ingestion path.
type AggregationError struct {
	Stage   string
	EventID string
	Err     error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("%s aggregation failed for event %s: %v", e.Stage, e.EventID, e.Err)
}

func (e *AggregationError) Unwrap() error {
	return e.Err
}

// QueryError wraps a read path failure.
type QueryError struct {
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s failed: %v", e.Query, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}
