package revenue

import (
	"sort"
	"time"

	"github.com/samber/lo"
)

const defaultCohortMonths = 12

// RetentionPoint is a cohort's activity in one later calendar month.
type RetentionPoint struct {
	MonthOffset     int     `json:"month_offset"`
	Month           string  `json:"month"`
	ActiveCustomers int     `json:"active_customers"`
	RetentionRate   float64 `json:"retention_rate"`
}

// Cohort is the set of customers whose first completed booking fell in Month.
type Cohort struct {
	Month     string           `json:"month"`
	Customers int              `json:"customers"`
	Retention []RetentionPoint `json:"retention"`
}

// ComputeCohorts groups customers by the calendar month (UTC) of their first
// completed booking and, for every later month up to the one containing the
// exclusive bound until, reports the share of the cohort that booked again.
// Only cohorts starting within the last months months are returned; bookings
// must include each customer's full history for first-purchase months to be
// right.
func ComputeCohorts(bookings []Booking, until time.Time, months int) []Cohort {
	if months < 1 {
		months = defaultCohortMonths
	}
	lastMonth := monthStart(until.Add(-time.Nanosecond))
	firstReported := lastMonth.AddDate(0, -(months - 1), 0)

	firstPurchase := make(map[string]time.Time)
	activeMonths := make(map[string]map[time.Time]bool)
	for _, b := range bookings {
		if b.CompletedAt == nil || !b.CompletedAt.Before(until) {
			continue
		}
		m := monthStart(*b.CompletedAt)
		if first, ok := firstPurchase[b.CustomerID]; !ok || m.Before(first) {
			firstPurchase[b.CustomerID] = m
		}
		if activeMonths[b.CustomerID] == nil {
			activeMonths[b.CustomerID] = make(map[time.Time]bool)
		}
		activeMonths[b.CustomerID][m] = true
	}

	members := lo.GroupBy(lo.Keys(firstPurchase), func(customerID string) time.Time {
		return firstPurchase[customerID]
	})

	cohorts := make([]Cohort, 0, len(members))
	for start, customers := range members {
		if start.Before(firstReported) {
			continue
		}
		cohort := Cohort{
			Month:     start.Format("2006-01"),
			Customers: len(customers),
			Retention: []RetentionPoint{},
		}
		for offset, m := 1, start.AddDate(0, 1, 0); !m.After(lastMonth); offset, m = offset+1, m.AddDate(0, 1, 0) {
			active := lo.CountBy(customers, func(customerID string) bool {
				return activeMonths[customerID][m]
			})
			cohort.Retention = append(cohort.Retention, RetentionPoint{
				MonthOffset:     offset,
				Month:           m.Format("2006-01"),
				ActiveCustomers: active,
				RetentionRate:   round(float64(active)/float64(len(customers))*100, 2),
			})
		}
		cohorts = append(cohorts, cohort)
	}

	sort.Slice(cohorts, func(i, j int) bool { return cohorts[i].Month < cohorts[j].Month })
	return cohorts
}

func monthStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}
