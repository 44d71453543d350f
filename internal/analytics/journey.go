package analytics

import (
	"context"
	"strings"
	"time"

	"github.com/samber/lo"

	"repairpulse/internal/events"
)

// Journey stages. An event may belong to several stages at once.
const (
	StageAwareness     = "awareness"
	StageConsideration = "consideration"
	StageDecision      = "decision"
	StageConversion    = "conversion"
)

// Journey insights.
const (
	InsightHighEngagement     = "High engagement"
	InsightRepeatCustomer     = "Repeat customer"
	InsightConsideredDecision = "Considered decision"
)

const (
	highEngagementTouchpoints = 20
	consideredDecisionGap     = 5 * time.Minute
)

// Touch is the journey view of a single event.
type Touch struct {
	EventID         string    `json:"event_id"`
	EventType       string    `json:"event_type"`
	PageURL         string    `json:"page_url,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	ConversionValue float64   `json:"conversion_value,omitempty"`
}

type JourneyStages struct {
	Awareness     []Touch `json:"awareness"`
	Consideration []Touch `json:"consideration"`
	Decision      []Touch `json:"decision"`
	Conversion    []Touch `json:"conversion"`
}

// CustomerJourney is a customer's ordered activity split into stages.
type CustomerJourney struct {
	CustomerID           string        `json:"customer_id"`
	Days                 int           `json:"days"`
	TotalEvents          int           `json:"total_events"`
	TotalConversionValue float64       `json:"total_conversion_value"`
	Stages               JourneyStages `json:"stages"`
	Touchpoints          []Touch       `json:"touchpoints"`
	Insights             []string      `json:"insights"`
	FirstTouch           *time.Time    `json:"first_touch,omitempty"`
	LastTouch            *time.Time    `json:"last_touch,omitempty"`
}

type stageRule struct {
	Stage   string
	Matches func(e *events.AnalyticsEvent) bool
}

// stageRules are all evaluated for every event; buckets overlap.
var stageRules = []stageRule{
	{Stage: StageAwareness, Matches: func(e *events.AnalyticsEvent) bool {
		return strings.Contains(e.PageURL, "/") && !strings.Contains(e.PageURL, "/booking")
	}},
	{Stage: StageConsideration, Matches: func(e *events.AnalyticsEvent) bool {
		return strings.Contains(e.PageURL, "/services") || strings.Contains(e.PageURL, "/pricing")
	}},
	{Stage: StageDecision, Matches: func(e *events.AnalyticsEvent) bool {
		return strings.Contains(e.PageURL, "/booking") || e.EventType == events.EventTypeFormSubmit
	}},
	{Stage: StageConversion, Matches: func(e *events.AnalyticsEvent) bool {
		return e.ConversionAmount() > 0
	}},
}

// StagesOf returns every stage the event belongs to, in funnel order.
func StagesOf(e *events.AnalyticsEvent) []string {
	var stages []string
	for _, rule := range stageRules {
		if rule.Matches(e) {
			stages = append(stages, rule.Stage)
		}
	}
	return stages
}

// GetCustomerJourney loads a customer's events from the last days days and
// builds their journey.
func (a *Analyzer) GetCustomerJourney(ctx context.Context, customerID string, days int) (*CustomerJourney, error) {
	if customerID == "" {
		return nil, events.NewValidationError("customer_id")
	}
	days = NormalizeDays(days)

	evts, err := a.reader.QueryEvents(ctx, events.EventFilter{CustomerID: customerID, Since: a.since(days)})
	if err != nil {
		return nil, queryError("journey events", err)
	}

	journey := BuildCustomerJourney(evts)
	journey.CustomerID = customerID
	journey.Days = days
	return journey, nil
}

// BuildCustomerJourney derives a journey from events ordered by timestamp.
func BuildCustomerJourney(evts []events.AnalyticsEvent) *CustomerJourney {
	journey := &CustomerJourney{
		TotalEvents: len(evts),
		Stages: JourneyStages{
			Awareness:     []Touch{},
			Consideration: []Touch{},
			Decision:      []Touch{},
			Conversion:    []Touch{},
		},
		Touchpoints: []Touch{},
		Insights:    []string{},
	}
	if len(evts) == 0 {
		return journey
	}

	conversions := 0
	for i := range evts {
		e := &evts[i]
		touch := toTouch(e)
		journey.TotalConversionValue += e.ConversionAmount()
		if e.EventType == events.EventTypeConversion {
			conversions++
		}

		for _, stage := range StagesOf(e) {
			switch stage {
			case StageAwareness:
				journey.Stages.Awareness = append(journey.Stages.Awareness, touch)
			case StageConsideration:
				journey.Stages.Consideration = append(journey.Stages.Consideration, touch)
			case StageDecision:
				journey.Stages.Decision = append(journey.Stages.Decision, touch)
			case StageConversion:
				journey.Stages.Conversion = append(journey.Stages.Conversion, touch)
			}
		}

		var previous *events.AnalyticsEvent
		if i > 0 {
			previous = &evts[i-1]
		}
		if isTouchpoint(e, previous) {
			journey.Touchpoints = append(journey.Touchpoints, touch)
		}
	}

	first := evts[0].Timestamp
	last := evts[len(evts)-1].Timestamp
	journey.FirstTouch = &first
	journey.LastTouch = &last

	if len(journey.Touchpoints) > highEngagementTouchpoints {
		journey.Insights = append(journey.Insights, InsightHighEngagement)
	}
	if conversions > 1 {
		journey.Insights = append(journey.Insights, InsightRepeatCustomer)
	}
	if meanGap(evts) > consideredDecisionGap {
		journey.Insights = append(journey.Insights, InsightConsideredDecision)
	}
	return journey
}

// isTouchpoint reports whether e is the first event, a conversion, a form
// submission or a change of page.
func isTouchpoint(e, previous *events.AnalyticsEvent) bool {
	switch {
	case previous == nil:
		return true
	case e.EventType == events.EventTypeConversion || e.ConversionAmount() > 0:
		return true
	case e.EventType == events.EventTypeFormSubmit:
		return true
	default:
		return e.PageURL != previous.PageURL
	}
}

// meanGap is the mean time between consecutive events, zero for fewer than
// two events.
func meanGap(evts []events.AnalyticsEvent) time.Duration {
	if len(evts) < 2 {
		return 0
	}
	gaps := lo.Map(evts[1:], func(e events.AnalyticsEvent, i int) time.Duration {
		return e.Timestamp.Sub(evts[i].Timestamp)
	})
	return lo.Sum(gaps) / time.Duration(len(gaps))
}

func toTouch(e *events.AnalyticsEvent) Touch {
	return Touch{
		EventID:         e.ID,
		EventType:       e.EventType,
		PageURL:         e.PageURL,
		Timestamp:       e.Timestamp,
		ConversionValue: e.ConversionAmount(),
	}
}
