package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is the durable store consumed by the ingestion pipeline and the
// read paths.
type Repository interface {
	InsertEvent(ctx context.Context, event *AnalyticsEvent) error
	BulkInsertEvents(ctx context.Context, events []*AnalyticsEvent) (int64, error)
	MarkProcessed(ctx context.Context, ids []string) error
	UpsertSession(ctx context.Context, event *AnalyticsEvent) (bool, error)
	UpsertDailyRollup(ctx context.Context, event *AnalyticsEvent) (bool, error)
	QueryEvents(ctx context.Context, filter EventFilter) ([]AnalyticsEvent, error)
	QuerySessions(ctx context.Context, filter SessionFilter) ([]SessionAggregate, error)
}

// EventFilter narrows QueryEvents. Zero values are ignored.
type EventFilter struct {
	UserFingerprint string
	CustomerID      string
	SessionID       string
	EventTypes      []string
	Since           time.Time
	Until           time.Time
	Processed       *bool
	Limit           int
}

// SessionFilter narrows QuerySessions. Zero values are ignored.
type SessionFilter struct {
	UserFingerprint string
	SessionIDs      []string
	Since           time.Time
	Until           time.Time
	Limit           int
}

// Stats summarises the contents of the event store.
type Stats struct {
	Events            int64 `json:"events"`
	UnprocessedEvents int64 `json:"unprocessed_events"`
	Sessions          int64 `json:"sessions"`
	AggregationMarks  int64 `json:"aggregation_marks"`
}

// Store is the gorm implementation of Repository.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

var _ Repository = (*Store)(nil)

func NewStore(db *gorm.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// InsertEvent persists a single event immediately. Re-inserting an existing
// id is a no-op. gorm writes defaults back into the model it creates, so it
// is handed a copy and event itself is never touched.
func (s *Store) InsertEvent(ctx context.Context, event *AnalyticsEvent) error {
	row := *event
	err := sqlite.PerformWrite(s.logger, s.db.WithContext(ctx), func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	})
	if err != nil {
		return &PersistenceError{Op: "insert", Count: 1, Err: err}
	}
	return nil
}

// BulkInsertEvents inserts events in one transaction, skipping ids that
// already exist. It returns the number of rows actually inserted.
func (s *Store) BulkInsertEvents(ctx context.Context, events []*AnalyticsEvent) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}

	rows := make([]AnalyticsEvent, len(events))
	for i, e := range events {
		rows[i] = *e
	}

	var inserted int64
	err := sqlite.PerformWrite(s.logger, s.db.WithContext(ctx), func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(rows, 100)
		if result.Error != nil {
			return result.Error
		}
		inserted = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, &PersistenceError{Op: "bulk insert", Count: len(events), Err: err}
	}
	return inserted, nil
}

// MarkProcessed sets the processed flag once events are durably stored.
func (s *Store) MarkProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := sqlite.PerformWrite(s.logger, s.db.WithContext(ctx), func(tx *gorm.DB) error {
		return tx.Model(&AnalyticsEvent{}).
			Where("id IN ?", ids).
			Update("processed", true).Error
	})
	if err != nil {
		return &PersistenceError{Op: "mark processed", Count: len(ids), Err: err}
	}
	return nil
}

// QueryEvents returns matching events ordered by timestamp ascending.
func (s *Store) QueryEvents(ctx context.Context, filter EventFilter) ([]AnalyticsEvent, error) {
	q := s.db.WithContext(ctx).Model(&AnalyticsEvent{})
	if filter.UserFingerprint != "" {
		q = q.Where("user_fingerprint = ?", filter.UserFingerprint)
	}
	if filter.CustomerID != "" {
		q = q.Where("customer_id = ?", filter.CustomerID)
	}
	if filter.SessionID != "" {
		q = q.Where("session_id = ?", filter.SessionID)
	}
	if len(filter.EventTypes) > 0 {
		q = q.Where("event_type IN ?", filter.EventTypes)
	}
	if !filter.Since.IsZero() {
		q = q.Where("timestamp >= ?", filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		q = q.Where("timestamp < ?", filter.Until.UTC())
	}
	if filter.Processed != nil {
		q = q.Where("processed = ?", *filter.Processed)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var events []AnalyticsEvent
	if err := q.Order("timestamp ASC").Order("id ASC").Find(&events).Error; err != nil {
		return nil, &QueryError{Query: "events", Err: err}
	}
	return events, nil
}

// QuerySessions returns matching sessions ordered by start time ascending.
func (s *Store) QuerySessions(ctx context.Context, filter SessionFilter) ([]SessionAggregate, error) {
	q := s.db.WithContext(ctx).Model(&SessionAggregate{})
	if filter.UserFingerprint != "" {
		q = q.Where("user_fingerprint = ?", filter.UserFingerprint)
	}
	if len(filter.SessionIDs) > 0 {
		q = q.Where("session_id IN ?", filter.SessionIDs)
	}
	if !filter.Since.IsZero() {
		q = q.Where("last_activity >= ?", filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		q = q.Where("started_at < ?", filter.Until.UTC())
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var sessions []SessionAggregate
	if err := q.Order("started_at ASC").Find(&sessions).Error; err != nil {
		return nil, &QueryError{Query: "sessions", Err: err}
	}
	return sessions, nil
}

// GetEvent loads a single event by id.
func (s *Store) GetEvent(ctx context.Context, id string) (*AnalyticsEvent, error) {
	var event AnalyticsEvent
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&event).Error; err != nil {
		return nil, &QueryError{Query: "event", Err: err}
	}
	return &event, nil
}

// Stats counts rows in the event tables.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	db := s.db.WithContext(ctx)
	if err := db.Model(&AnalyticsEvent{}).Count(&stats.Events).Error; err != nil {
		return stats, &QueryError{Query: "stats", Err: err}
	}
	if err := db.Model(&AnalyticsEvent{}).Where("processed = ?", false).Count(&stats.UnprocessedEvents).Error; err != nil {
		return stats, &QueryError{Query: "stats", Err: err}
	}
	if err := db.Model(&SessionAggregate{}).Count(&stats.Sessions).Error; err != nil {
		return stats, &QueryError{Query: "stats", Err: err}
	}
	if err := db.Model(&AggregationMark{}).Count(&stats.AggregationMarks).Error; err != nil {
		return stats, &QueryError{Query: "stats", Err: err}
	}
	return stats, nil
}
