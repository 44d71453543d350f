package timeframe

import (
	"fmt"
	"strings"
	"time"
)

// rangeAliases maps the short period names accepted by the API onto range
// labels.
var rangeAliases = map[string]TimeFrameRangeLabel{
	"":        DefaultRangeLabel,
	"day":     TimeFrameRangeLabelToday,
	"1d":      TimeFrameRangeLabelToday,
	"week":    TimeFrameRangeLabelLast7Days,
	"7d":      TimeFrameRangeLabelLast7Days,
	"month":   TimeFrameRangeLabelLast30Days,
	"30d":     TimeFrameRangeLabelLast30Days,
	"quarter": TimeFrameRangeLabelLast90Days,
	"90d":     TimeFrameRangeLabelLast90Days,
	"year":    TimeFrameRangeLabelLast12Months,
	"1y":      TimeFrameRangeLabelLast12Months,
	"12m":     TimeFrameRangeLabelLast12Months,
}

type TimeFrameParserParams struct {
	Range    string
	FromDate string
	ToDate   string
	Tz       string
}

type TimeFrameParser struct {
	timeProvider TimeProvider
}

func NewTimeFrameParser(timeProvider ...TimeProvider) *TimeFrameParser {
	var provider TimeProvider = &DefaultTimeProvider{}
	if len(timeProvider) > 0 && timeProvider[0] != nil {
		provider = timeProvider[0]
	}

	return &TimeFrameParser{
		timeProvider: provider,
	}
}

// ParseTimeFrame resolves explicit from/to dates when either is given,
// otherwise the named range.
func (p *TimeFrameParser) ParseTimeFrame(params TimeFrameParserParams) (*TimeFrame, error) {
	tz := params.Tz
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("error loading timezone: %w", err)
	}

	if params.FromDate != "" || params.ToDate != "" {
		return p.parseCustomDateRange(params, loc)
	}
	return p.ParseRange(params.Range, loc)
}

// ParseRange resolves a range label or alias relative to now in loc.
func (p *TimeFrameParser) ParseRange(name string, loc *time.Location) (*TimeFrame, error) {
	label, err := ParseRangeLabel(name)
	if err != nil {
		return nil, err
	}

	now := p.timeProvider.Now(loc)
	today := TruncateToBucketInTimezone(now, TimeFrameBucketSizeDay, loc)
	tomorrow := today.AddDate(0, 0, 1)

	var from, to time.Time
	switch label {
	case TimeFrameRangeLabelToday:
		from, to = today, tomorrow
	case TimeFrameRangeLabelYesterday:
		from, to = today.AddDate(0, 0, -1), today
	case TimeFrameRangeLabelLast7Days:
		from, to = today.AddDate(0, 0, -6), tomorrow
	case TimeFrameRangeLabelLast30Days:
		from, to = today.AddDate(0, 0, -29), tomorrow
	case TimeFrameRangeLabelLast90Days:
		from, to = today.AddDate(0, 0, -89), tomorrow
	case TimeFrameRangeLabelMonthToDate:
		from, to = TruncateToBucketInTimezone(now, TimeFrameBucketSizeMonth, loc), tomorrow
	case TimeFrameRangeLabelLastMonth:
		to = TruncateToBucketInTimezone(now, TimeFrameBucketSizeMonth, loc)
		from = to.AddDate(0, -1, 0)
	case TimeFrameRangeLabelYearToDate:
		from, to = TruncateToBucketInTimezone(now, TimeFrameBucketSizeYear, loc), tomorrow
	case TimeFrameRangeLabelLast12Months:
		from, to = today.AddDate(-1, 0, 1), tomorrow
	default:
		return nil, fmt.Errorf("range %q needs explicit dates", label)
	}

	return NewTimeFrame(from, to, label, loc)
}

// ParseRangeLabel accepts canonical labels and their short aliases.
func ParseRangeLabel(name string) (TimeFrameRangeLabel, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if label, ok := rangeAliases[key]; ok {
		return label, nil
	}
	switch label := TimeFrameRangeLabel(key); label {
	case TimeFrameRangeLabelToday, TimeFrameRangeLabelYesterday,
		TimeFrameRangeLabelLast7Days, TimeFrameRangeLabelLast30Days, TimeFrameRangeLabelLast90Days,
		TimeFrameRangeLabelMonthToDate, TimeFrameRangeLabelLastMonth,
		TimeFrameRangeLabelYearToDate, TimeFrameRangeLabelLast12Months:
		return label, nil
	}
	return "", fmt.Errorf("unknown time range: %q", name)
}

func (p *TimeFrameParser) parseCustomDateRange(params TimeFrameParserParams, loc *time.Location) (*TimeFrame, error) {
	now := p.timeProvider.Now(loc)
	today := TruncateToBucketInTimezone(now, TimeFrameBucketSizeDay, loc)

	from, err := parseDateWithDefault(params.FromDate, today.AddDate(0, 0, -29), loc)
	if err != nil {
		return nil, fmt.Errorf("invalid 'from' date: %w", err)
	}
	to, err := parseDateWithDefault(params.ToDate, today, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid 'to' date: %w", err)
	}

	// The to date is inclusive.
	return NewTimeFrame(from, to.AddDate(0, 0, 1), TimeFrameRangeLabelCustom, loc)
}

func parseDateWithDefault(dateStr string, defaultDate time.Time, loc *time.Location) (time.Time, error) {
	if dateStr == "" {
		return defaultDate, nil
	}
	return time.ParseInLocation(time.DateOnly, dateStr, loc)
}
