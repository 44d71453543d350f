package events

import (
	"context"
	"fmt"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// RollupDate truncates a timestamp to its UTC day.
func RollupDate(ts time.Time) time.Time {
	ts = ts.UTC()
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
}

// UpsertSession folds event into its SessionAggregate. It returns false when
// the event had already been aggregated, in which case nothing changes.
func (s *Store) UpsertSession(ctx context.Context, event *AnalyticsEvent) (bool, error) {
	var applied bool
	err := sqlite.PerformWrite(s.logger, s.db.WithContext(ctx), func(tx *gorm.DB) error {
		fresh, err := claimMark(tx, event.ID, StageSession)
		if err != nil || !fresh {
			return err
		}
		if err := upsertSessionAggregate(tx, event); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, &AggregationError{Stage: StageSession, EventID: event.ID, Err: err}
	}
	return applied, nil
}

// UpsertDailyRollup folds event into its (date, event_type) row and, when it
// has a page URL, its (date, page_url) row. It returns false when the event
// had already been rolled up.
func (s *Store) UpsertDailyRollup(ctx context.Context, event *AnalyticsEvent) (bool, error) {
	var applied bool
	err := sqlite.PerformWrite(s.logger, s.db.WithContext(ctx), func(tx *gorm.DB) error {
		fresh, err := claimMark(tx, event.ID, StageRollup)
		if err != nil || !fresh {
			return err
		}

		date := RollupDate(event.Timestamp)
		if err := updateEventRollup(tx, date, event); err != nil {
			return fmt.Errorf("failed to update event rollup: %w", err)
		}
		if event.PageURL != "" {
			if err := updatePageRollup(tx, date, event); err != nil {
				return fmt.Errorf("failed to update page rollup: %w", err)
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, &AggregationError{Stage: StageRollup, EventID: event.ID, Err: err}
	}
	return applied, nil
}

// claimMark records (eventID, stage) in the ledger and reports whether this
// call was the first to do so.
func claimMark(tx *gorm.DB, eventID, stage string) (bool, error) {
	result := tx.Exec(`
		INSERT INTO aggregation_marks (event_id, stage, aggregated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (event_id, stage) DO NOTHING
	`, eventID, stage, time.Now().UTC())
	if result.Error != nil {
		return false, fmt.Errorf("failed to claim %s mark: %w", stage, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// claimMember records a distinct user or session for a rollup key and reports
// whether it was new.
func claimMember(tx *gorm.DB, date time.Time, dimension, key, kind, member string) (int, error) {
	result := tx.Exec(`
		INSERT INTO rollup_members (date, dimension, dimension_key, kind, member)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (date, dimension, dimension_key, kind, member) DO NOTHING
	`, date, dimension, key, kind, member)
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

func upsertSessionAggregate(tx *gorm.DB, event *AnalyticsEvent) error {
	var pageViewInc, clickInc, conversionInc int
	var valueInc float64
	switch event.EventType {
	case EventTypePageView:
		pageViewInc = 1
	case EventTypeClick:
		clickInc = 1
	case EventTypeConversion:
		conversionInc = 1
		valueInc = event.ConversionAmount()
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO session_aggregates (
			session_id, user_fingerprint, started_at, last_activity,
			page_views, total_pages_viewed, total_clicks, conversions, total_conversion_value,
			entry_page, device_type, browser_name, os_name,
			utm_source, utm_medium, utm_campaign, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			page_views = session_aggregates.page_views + 1,
			total_pages_viewed = session_aggregates.total_pages_viewed + ?,
			total_clicks = session_aggregates.total_clicks + ?,
			conversions = session_aggregates.conversions + ?,
			total_conversion_value = session_aggregates.total_conversion_value + ?,
			last_activity = MAX(session_aggregates.last_activity, excluded.last_activity),
			updated_at = ?
	`
	return tx.Exec(query,
		event.SessionID, event.UserFingerprint, event.Timestamp, event.Timestamp,
		pageViewInc, clickInc, conversionInc, valueInc,
		event.PageURL, event.DeviceType, event.BrowserName, event.OSName,
		event.UTMSource, event.UTMMedium, event.UTMCampaign, now, now,
		pageViewInc, clickInc, conversionInc, valueInc, now,
	).Error
}

func updateEventRollup(tx *gorm.DB, date time.Time, event *AnalyticsEvent) error {
	userInc, err := claimMember(tx, date, dimensionEventType, event.EventType, memberKindUser, event.UserFingerprint)
	if err != nil {
		return err
	}
	sessionInc, err := claimMember(tx, date, dimensionEventType, event.EventType, memberKindSession, event.SessionID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO daily_event_rollups (date, event_type, count, total_engagement_score, unique_users, unique_sessions, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?, ?, ?, ?)
		ON CONFLICT (date, event_type) DO UPDATE SET
			count = daily_event_rollups.count + 1,
			total_engagement_score = daily_event_rollups.total_engagement_score + ?,
			unique_users = daily_event_rollups.unique_users + ?,
			unique_sessions = daily_event_rollups.unique_sessions + ?,
			updated_at = ?
	`
	return tx.Exec(query,
		date, event.EventType, event.EngagementScore, userInc, sessionInc, now, now,
		event.EngagementScore, userInc, sessionInc, now,
	).Error
}

func updatePageRollup(tx *gorm.DB, date time.Time, event *AnalyticsEvent) error {
	userInc, err := claimMember(tx, date, dimensionPageURL, event.PageURL, memberKindUser, event.UserFingerprint)
	if err != nil {
		return err
	}
	sessionInc, err := claimMember(tx, date, dimensionPageURL, event.PageURL, memberKindSession, event.SessionID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO daily_page_rollups (date, page_url, count, unique_users, unique_sessions, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?, ?, ?)
		ON CONFLICT (date, page_url) DO UPDATE SET
			count = daily_page_rollups.count + 1,
			unique_users = daily_page_rollups.unique_users + ?,
			unique_sessions = daily_page_rollups.unique_sessions + ?,
			updated_at = ?
	`
	return tx.Exec(query,
		date, event.PageURL, userInc, sessionInc, now, now,
		userInc, sessionInc, now,
	).Error
}

// GetDailyEventRollups returns the (date, event_type) rows for the UTC day
// containing date, ordered by count descending.
func (s *Store) GetDailyEventRollups(ctx context.Context, date time.Time) ([]DailyEventRollup, error) {
	var rows []DailyEventRollup
	err := s.db.WithContext(ctx).
		Where("date = ?", RollupDate(date)).
		Order("count DESC").Order("event_type ASC").
		Find(&rows).Error
	if err != nil {
		return nil, &QueryError{Query: "daily event rollups", Err: err}
	}
	return rows, nil
}

// GetDailyPageRollups returns the (date, page_url) rows for the UTC day
// containing date, ordered by count descending.
func (s *Store) GetDailyPageRollups(ctx context.Context, date time.Time) ([]DailyPageRollup, error) {
	var rows []DailyPageRollup
	err := s.db.WithContext(ctx).
		Where("date = ?", RollupDate(date)).
		Order("count DESC").Order("page_url ASC").
		Find(&rows).Error
	if err != nil {
		return nil, &QueryError{Query: "daily page rollups", Err: err}
	}
	return rows, nil
}

// PruneAggregationMarks deletes ledger rows older than cutoff, together with
// the distinct-member rows of days before cutoff. It returns the number of
// ledger rows removed.
func (s *Store) PruneAggregationMarks(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := sqlite.PerformWrite(s.logger, s.db.WithContext(ctx), func(tx *gorm.DB) error {
		result := tx.Where("aggregated_at < ?", cutoff.UTC()).Delete(&AggregationMark{})
		if result.Error != nil {
			return result.Error
		}
		removed = result.RowsAffected
		return tx.Where("date < ?", RollupDate(cutoff)).Delete(&RollupMember{}).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune aggregation marks: %w", err)
	}
	return removed, nil
}
