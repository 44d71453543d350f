package timeframe

import (
	"fmt"
	"time"
)

// TimeFrame structs
type TimeFrameBucketSize string

const (
	TimeFrameBucketSizeYear  TimeFrameBucketSize = "year"
	TimeFrameBucketSizeMonth TimeFrameBucketSize = "month"
	TimeFrameBucketSizeWeek  TimeFrameBucketSize = "week"
	TimeFrameBucketSizeDay   TimeFrameBucketSize = "day"
	TimeFrameBucketSizeHour  TimeFrameBucketSize = "hour"
)

// TimeFrameRangeLabel represents the available time range options
type TimeFrameRangeLabel string

const (
	TimeFrameRangeLabelToday        TimeFrameRangeLabel = "today"
	TimeFrameRangeLabelYesterday    TimeFrameRangeLabel = "yesterday"
	TimeFrameRangeLabelLast7Days    TimeFrameRangeLabel = "last_7_days"
	TimeFrameRangeLabelLast30Days   TimeFrameRangeLabel = "last_30_days"
	TimeFrameRangeLabelLast90Days   TimeFrameRangeLabel = "last_90_days"
	TimeFrameRangeLabelMonthToDate  TimeFrameRangeLabel = "month_to_date"
	TimeFrameRangeLabelLastMonth    TimeFrameRangeLabel = "last_month"
	TimeFrameRangeLabelYearToDate   TimeFrameRangeLabel = "year_to_date"
	TimeFrameRangeLabelLast12Months TimeFrameRangeLabel = "last_12_months"
	TimeFrameRangeLabelCustom       TimeFrameRangeLabel = "custom"
)

// DefaultRangeLabel is used when no period is requested.
const DefaultRangeLabel = TimeFrameRangeLabelLast30Days

type TimeProvider interface {
	Now(loc *time.Location) time.Time
}

// DefaultTimeProvider uses the system clock.
type DefaultTimeProvider struct{}

func (p *DefaultTimeProvider) Now(loc *time.Location) time.Time {
	return time.Now().In(loc)
}

// TimeFrame is the half-open window [From, To), stored in UTC.
type TimeFrame struct {
	From       time.Time           `json:"from"`
	To         time.Time           `json:"to"`
	Label      TimeFrameRangeLabel `json:"label"`
	BucketSize TimeFrameBucketSize `json:"bucket_size"`
	Tz         *time.Location      `json:"-"`
}

func NewTimeFrame(from, to time.Time, label TimeFrameRangeLabel, tz *time.Location) (*TimeFrame, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("fromTime must be before toTime")
	}
	if tz == nil {
		tz = time.UTC
	}
	return &TimeFrame{
		From:       from.UTC(),
		To:         to.UTC(),
		Label:      label,
		BucketSize: GetAppropriateBucketSize(from, to),
		Tz:         tz,
	}, nil
}

// GetAppropriateBucketSize picks the chart granularity for a window.
func GetAppropriateBucketSize(fromTime, toTime time.Time) TimeFrameBucketSize {
	days := toTime.Sub(fromTime).Hours() / 24

	switch {
	case days >= 5*365:
		return TimeFrameBucketSizeYear
	case days > 3*31:
		return TimeFrameBucketSizeMonth
	case days >= 2:
		return TimeFrameBucketSizeDay
	default:
		return TimeFrameBucketSizeHour
	}
}

func (tf *TimeFrame) Duration() time.Duration {
	return tf.To.Sub(tf.From)
}

// Days returns the length of the window in whole days, at least one.
func (tf *TimeFrame) Days() int {
	days := int(tf.Duration().Round(time.Hour).Hours() / 24)
	if days < 1 {
		return 1
	}
	return days
}

// Contains reports whether t falls inside [From, To).
func (tf *TimeFrame) Contains(t time.Time) bool {
	return !t.Before(tf.From) && t.Before(tf.To)
}

// Previous returns the window of equal length that ends where tf starts.
func (tf *TimeFrame) Previous() *TimeFrame {
	d := tf.Duration()
	return &TimeFrame{
		From:       tf.From.Add(-d),
		To:         tf.From,
		Label:      tf.Label,
		BucketSize: tf.BucketSize,
		Tz:         tf.Tz,
	}
}

// Periods returns n consecutive windows of equal length, oldest first, the
// last one being tf itself.
func (tf *TimeFrame) Periods(n int) []*TimeFrame {
	if n < 1 {
		return nil
	}
	periods := make([]*TimeFrame, n)
	current := tf
	for i := n - 1; i >= 0; i-- {
		periods[i] = current
		current = current.Previous()
	}
	return periods
}

// DayKey formats t as the calendar day it falls on in the frame's timezone.
func (tf *TimeFrame) DayKey(t time.Time) string {
	return t.In(tf.Tz).Format(time.DateOnly)
}

// MonthKey formats t as the calendar month it falls on in the frame's timezone.
func (tf *TimeFrame) MonthKey(t time.Time) string {
	return t.In(tf.Tz).Format("2006-01")
}

func (tf *TimeFrame) String() string {
	return fmt.Sprintf("%s [%s, %s)", tf.Label, tf.From.Format(time.RFC3339), tf.To.Format(time.RFC3339))
}

// TruncateToBucketInTimezone truncates a time to the appropriate bucket boundary in the given timezone
func TruncateToBucketInTimezone(t time.Time, bucketSize TimeFrameBucketSize, loc *time.Location) time.Time {
	localTime := t.In(loc)
	year, month, day := localTime.Year(), localTime.Month(), localTime.Day()

	switch bucketSize {
	case TimeFrameBucketSizeYear:
		return time.Date(year, 1, 1, 0, 0, 0, 0, loc)
	case TimeFrameBucketSizeMonth:
		return time.Date(year, month, 1, 0, 0, 0, 0, loc)
	case TimeFrameBucketSizeWeek:
		weekday := int(localTime.Weekday())
		if weekday == 0 { // Sunday
			weekday = 7
		}
		daysToSubtract := weekday - 1
		return time.Date(year, month, day-daysToSubtract, 0, 0, 0, 0, loc)
	case TimeFrameBucketSizeDay:
		return time.Date(year, month, day, 0, 0, 0, 0, loc)
	case TimeFrameBucketSizeHour:
		return time.Date(year, month, day, localTime.Hour(), 0, 0, 0, loc)
	default:
		return localTime
	}
}
