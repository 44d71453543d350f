package revenue

import (
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Customer types in the new-vs-returning breakdown.
const (
	CustomerNew       = "new"
	CustomerReturning = "returning"
)

const unknownSegment = "unknown"

// costRatios estimates the share of revenue spent on parts and labour per
// repair type.
var costRatios = map[string]float64{
	"screen_repair":       0.40,
	"battery_replacement": 0.30,
	"water_damage":        0.50,
	"data_recovery":       0.20,
}

const defaultCostRatio = 0.35

// CostRatio returns the estimated cost ratio of a repair type.
func CostRatio(repairType string) float64 {
	if ratio, ok := costRatios[repairType]; ok {
		return ratio
	}
	return defaultCostRatio
}

// Segment is one group of a breakdown.
type Segment struct {
	Key      string          `json:"key"`
	Label    string          `json:"label"`
	Revenue  decimal.Decimal `json:"revenue"`
	Bookings int             `json:"bookings"`
	Share    float64         `json:"share"`
}

type Breakdown struct {
	ByRepairType     []Segment `json:"by_repair_type"`
	ByDeviceCategory []Segment `json:"by_device_category"`
	ByUrgency        []Segment `json:"by_urgency"`
	ByCustomerType   []Segment `json:"by_customer_type"`
}

// ComputeBreakdown groups bookings of a period starting at periodStart. A
// customer is new when their account was created on or after periodStart.
func ComputeBreakdown(bookings []Booking, periodStart time.Time) Breakdown {
	return Breakdown{
		ByRepairType:     segmentBy(bookings, func(b Booking) string { return b.RepairType }),
		ByDeviceCategory: segmentBy(bookings, func(b Booking) string { return b.DeviceCategory }),
		ByUrgency:        segmentBy(bookings, func(b Booking) string { return b.Urgency }),
		ByCustomerType: segmentBy(bookings, func(b Booking) string {
			if !b.CustomerCreatedAt.Before(periodStart) {
				return CustomerNew
			}
			return CustomerReturning
		}),
	}
}

func segmentBy(bookings []Booking, key func(Booking) string) []Segment {
	total := sumValues(bookings)
	groups := lo.GroupBy(bookings, func(b Booking) string {
		if k := key(b); k != "" {
			return k
		}
		return unknownSegment
	})

	segments := lo.MapToSlice(groups, func(k string, group []Booking) Segment {
		revenue := sumValues(group)
		return Segment{
			Key:      k,
			Label:    Label(k),
			Revenue:  revenue,
			Bookings: len(group),
			Share:    percentOf(revenue, total),
		}
	})
	sortSegments(segments)
	return segments
}

func sortSegments(segments []Segment) {
	sort.Slice(segments, func(i, j int) bool {
		if c := segments[i].Revenue.Cmp(segments[j].Revenue); c != 0 {
			return c > 0
		}
		return segments[i].Key < segments[j].Key
	})
}

// Label turns a snake_case key into a display label.
func Label(key string) string {
	caser := cases.Title(language.AmericanEnglish)
	return caser.String(strings.ReplaceAll(key, "_", " "))
}

// ProfitLine is the estimated profit of one repair type.
type ProfitLine struct {
	RepairType    string          `json:"repair_type"`
	Label         string          `json:"label"`
	Bookings      int             `json:"bookings"`
	Revenue       decimal.Decimal `json:"revenue"`
	EstimatedCost decimal.Decimal `json:"estimated_cost"`
	Profit        decimal.Decimal `json:"profit"`
	Margin        float64         `json:"margin"`
}

type Profitability struct {
	Lines         []ProfitLine    `json:"lines"`
	TotalRevenue  decimal.Decimal `json:"total_revenue"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	TotalProfit   decimal.Decimal `json:"total_profit"`
	OverallMargin float64         `json:"overall_margin"`
}

// ComputeProfitability estimates cost per repair type from the cost ratio
// table. Margin is profit/revenue*100.
func ComputeProfitability(bookings []Booking) Profitability {
	groups := lo.GroupBy(bookings, func(b Booking) string {
		if b.RepairType != "" {
			return b.RepairType
		}
		return unknownSegment
	})

	result := Profitability{
		Lines:        []ProfitLine{},
		TotalRevenue: decimal.Zero,
		TotalCost:    decimal.Zero,
		TotalProfit:  decimal.Zero,
	}
	for repairType, group := range groups {
		revenue := sumValues(group)
		cost := revenue.Mul(decimal.NewFromFloat(CostRatio(repairType))).Round(2)
		profit := revenue.Sub(cost)

		result.Lines = append(result.Lines, ProfitLine{
			RepairType:    repairType,
			Label:         Label(repairType),
			Bookings:      len(group),
			Revenue:       revenue,
			EstimatedCost: cost,
			Profit:        profit,
			Margin:        percentOf(profit, revenue),
		})
		result.TotalRevenue = result.TotalRevenue.Add(revenue)
		result.TotalCost = result.TotalCost.Add(cost)
		result.TotalProfit = result.TotalProfit.Add(profit)
	}

	sort.Slice(result.Lines, func(i, j int) bool {
		if c := result.Lines[i].Profit.Cmp(result.Lines[j].Profit); c != 0 {
			return c > 0
		}
		return result.Lines[i].RepairType < result.Lines[j].RepairType
	})
	result.OverallMargin = percentOf(result.TotalProfit, result.TotalRevenue)
	return result
}

// percentOf returns part/whole*100 rounded to two places, zero when whole is zero.
func percentOf(part, whole decimal.Decimal) float64 {
	if whole.IsZero() {
		return 0
	}
	return part.Div(whole).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
}
