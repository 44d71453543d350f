package events

import "strings"

var baseEngagementScores = map[string]float64{
	EventTypePageView:   1,
	EventTypeClick:      2,
	EventTypeScroll:     1.5,
	EventTypeFormSubmit: 5,
	EventTypeConversion: 10,
}

const defaultEngagementScore = 1.0

// pageModifiers is checked in order and the first match applies, so the
// larger multiplier is listed first and modifiers never stack.
var pageModifiers = []struct {
	fragment   string
	multiplier float64
}{
	{fragment: "/checkout", multiplier: 3},
	{fragment: "/booking", multiplier: 2},
}

// EngagementScore is a pure function of event type and page URL.
func EngagementScore(eventType, pageURL string) float64 {
	base, ok := baseEngagementScores[eventType]
	if !ok {
		base = defaultEngagementScore
	}
	return base * pageModifier(pageURL)
}

func pageModifier(pageURL string) float64 {
	for _, m := range pageModifiers {
		if strings.Contains(pageURL, m.fragment) {
			return m.multiplier
		}
	}
	return 1
}
