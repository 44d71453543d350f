package events

import (
	"time"

	"gorm.io/datatypes"
)

// AnalyticsEvent is a single enriched telemetry event.
// Everything except Processed is fixed once the enricher has produced it.
type AnalyticsEvent struct {
	ID              string            `gorm:"primaryKey;size:26" json:"id"`
	UserFingerprint string            `gorm:"index;not null" json:"user_fingerprint"`
	SessionID       string            `gorm:"index;not null" json:"session_id"`
	CustomerID      string            `gorm:"index" json:"customer_id,omitempty"`
	EventType       string            `gorm:"index;not null" json:"event_type"`
	EventData       datatypes.JSONMap `gorm:"type:json" json:"event_data,omitempty"`
	PageURL         string            `gorm:"index" json:"page_url,omitempty"`
	PageTitle       string            `json:"page_title,omitempty"`
	Referrer        string            `json:"referrer,omitempty"`
	UserAgent       string            `json:"user_agent,omitempty"`
	IPAddress       string            `json:"ip_address,omitempty"`
	Country         string            `json:"country,omitempty"`
	Timestamp       time.Time         `gorm:"index;not null" json:"timestamp"`
	EngagementScore float64           `gorm:"not null;default:0" json:"engagement_score"`
	ConversionValue *float64          `json:"conversion_value,omitempty"`
	UTMSource       string            `json:"utm_source,omitempty"`
	UTMMedium       string            `json:"utm_medium,omitempty"`
	UTMCampaign     string            `json:"utm_campaign,omitempty"`
	DeviceType      string            `json:"device_type"`
	BrowserName     string            `json:"browser_name"`
	OSName          string            `json:"os_name"`
	Processed       bool              `gorm:"index;not null;default:false" json:"processed"`
	CreatedAt       time.Time         `json:"created_at"`
}

// TableName pins the table name used by the raw SQL in this package.
func (AnalyticsEvent) TableName() string {
	return "analytics_events"
}

// IsCritical reports whether the event takes the immediate persistence path.
func (e *AnalyticsEvent) IsCritical() bool {
	return IsCriticalEventType(e.EventType)
}

// ConversionAmount returns the conversion value or zero.
func (e *AnalyticsEvent) ConversionAmount() float64 {
	if e.ConversionValue == nil {
		return 0
	}
	return *e.ConversionValue
}

// SessionAggregate holds the running counters for one session.
type SessionAggregate struct {
	SessionID            string    `gorm:"primaryKey" json:"session_id"`
	UserFingerprint      string    `gorm:"index;not null" json:"user_fingerprint"`
	StartedAt            time.Time `gorm:"index;not null" json:"started_at"`
	LastActivity         time.Time `gorm:"not null" json:"last_activity"`
	PageViews            int64     `gorm:"not null;default:0" json:"page_views"`
	TotalPagesViewed     int64     `gorm:"not null;default:0" json:"total_pages_viewed"`
	TotalClicks          int64     `gorm:"not null;default:0" json:"total_clicks"`
	Conversions          int64     `gorm:"not null;default:0" json:"conversions"`
	TotalConversionValue float64   `gorm:"not null;default:0" json:"total_conversion_value"`
	EntryPage            string    `json:"entry_page,omitempty"`
	DeviceType           string    `json:"device_type"`
	BrowserName          string    `json:"browser_name"`
	OSName               string    `json:"os_name"`
	UTMSource            string    `json:"utm_source,omitempty"`
	UTMMedium            string    `json:"utm_medium,omitempty"`
	UTMCampaign          string    `json:"utm_campaign,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// TableName pins the table name used by the raw SQL in this package.
func (SessionAggregate) TableName() string {
	return "session_aggregates"
}

// Duration is the time between the first and the latest event of the session.
func (s *SessionAggregate) Duration() time.Duration {
	return s.LastActivity.Sub(s.StartedAt)
}

// DailyEventRollup counts events per UTC day and event type.
type DailyEventRollup struct {
	ID                   uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	Date                 time.Time `gorm:"uniqueIndex:idx_event_rollup_key;not null" json:"date"`
	EventType            string    `gorm:"uniqueIndex:idx_event_rollup_key;not null" json:"event_type"`
	Count                int64     `gorm:"not null;default:0" json:"count"`
	TotalEngagementScore float64   `gorm:"not null;default:0" json:"total_engagement_score"`
	UniqueUsers          int64     `gorm:"not null;default:0" json:"unique_users"`
	UniqueSessions       int64     `gorm:"not null;default:0" json:"unique_sessions"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// TableName pins the table name used by the raw SQL in this package.
func (DailyEventRollup) TableName() string {
	return "daily_event_rollups"
}

// DailyPageRollup counts events per UTC day and page URL.
type DailyPageRollup struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	Date           time.Time `gorm:"uniqueIndex:idx_page_rollup_key;not null" json:"date"`
	PageURL        string    `gorm:"uniqueIndex:idx_page_rollup_key;not null" json:"page_url"`
	Count          int64     `gorm:"not null;default:0" json:"count"`
	UniqueUsers    int64     `gorm:"not null;default:0" json:"unique_users"`
	UniqueSessions int64     `gorm:"not null;default:0" json:"unique_sessions"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName pins the table name used by the raw SQL in this package.
func (DailyPageRollup) TableName() string {
	return "daily_page_rollups"
}

// RollupMember records that a user or session has already been counted
// for a rollup row, which keeps unique counters exact.
type RollupMember struct {
	Date         time.Time `gorm:"primaryKey"`
	Dimension    string    `gorm:"primaryKey;size:16"`
	DimensionKey string    `gorm:"primaryKey"`
	Kind         string    `gorm:"primaryKey;size:16"`
	Member       string    `gorm:"primaryKey"`
}

// TableName pins the table name used by the raw SQL in this package.
func (RollupMember) TableName() string {
	return "rollup_members"
}

// AggregationMark is the idempotency ledger: one row per event and stage
// that has already been folded into the aggregates.
type AggregationMark struct {
	EventID      string    `gorm:"primaryKey;size:26"`
	Stage        string    `gorm:"primaryKey;size:16"`
	AggregatedAt time.Time `gorm:"index;not null"`
}

// TableName pins the table name used by the raw SQL in this package.
func (AggregationMark) TableName() string {
	return "aggregation_marks"
}

// Models returns every table owned by this package, for migrations.
func Models() []any {
	return []any{
		&AnalyticsEvent{},
		&SessionAggregate{},
		&DailyEventRollup{},
		&DailyPageRollup{},
		&RollupMember{},
		&AggregationMark{},
	}
}
