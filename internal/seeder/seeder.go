package seeder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"repairpulse/internal/events"
	"repairpulse/internal/pipeline"
	"repairpulse/internal/revenue"
)

// EventSink is the ingestion side of the pipeline.
type EventSink interface {
	ProcessEvent(ctx context.Context, raw events.RawEvent) (*pipeline.ProcessResult, error)
	Flush(ctx context.Context) pipeline.FlushResult
}

// BookingWriter stores generated bookings.
type BookingWriter interface {
	CreateBookings(ctx context.Context, bookings []*revenue.Booking) error
}

// Summary reports what a seeding run produced.
type Summary struct {
	Customers   int `json:"customers"`
	Bookings    int `json:"bookings"`
	Sessions    int `json:"sessions"`
	Events      int `json:"events"`
	Rejected    int `json:"rejected"`
	Conversions int `json:"conversions"`
}

// Seeder generates demo bookings and storefront traffic. Events go through
// the pipeline exactly like live traffic, so sessions and rollups are built
// by the normal aggregation path.
type Seeder struct {
	Events       EventSink
	Bookings     BookingWriter
	Logger       *slog.Logger
	EventCount   int
	BookingCount int
	Days         int

	rng        *rand.Rand
	now        func() time.Time
	afterSeed  []func()
	customers  []customer
	ipPool     []string
	userAgents []string
	referrers  []string
}

type customer struct {
	id          string
	fingerprint string
	createdAt   time.Time
}

type Option func(*Seeder)

func WithEventCount(n int) Option {
	return func(s *Seeder) { s.EventCount = n }
}

func WithBookingCount(n int) Option {
	return func(s *Seeder) { s.BookingCount = n }
}

// WithDays spreads generated data over the last n days.
func WithDays(n int) Option {
	return func(s *Seeder) { s.Days = n }
}

// WithRandSeed makes a run reproducible.
func WithRandSeed(seed uint64) Option {
	return func(s *Seeder) { s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Seeder) { s.now = now }
}

// WithAfterSeed registers a hook run after a successful seed, e.g. to drop
// cached dashboards.
func WithAfterSeed(fn func()) Option {
	return func(s *Seeder) { s.afterSeed = append(s.afterSeed, fn) }
}

// NewSeeder creates a new seeder instance
func NewSeeder(sink EventSink, bookings BookingWriter, logger *slog.Logger, opts ...Option) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Seeder{
		Events:       sink,
		Bookings:     bookings,
		Logger:       logger,
		EventCount:   2000,
		BookingCount: 300,
		Days:         90,
		rng:          rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 1)),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Days < 1 {
		s.Days = 1
	}
	return s
}

// journeyTemplates are realistic paths through a repair shop's storefront.
var journeyTemplates = [][]string{
	{"/", "/services", "/services/screen-repair", "/pricing", "/book"},
	{"/", "/pricing", "/book"},
	{"/services/battery-replacement", "/pricing", "/contact"},
	{"/", "/locations", "/contact"},
	{"/blog/cracked-screen-tips", "/services/screen-repair", "/book"},
	{"/", "/track-repair"},
	{"/services/water-damage", "/services/data-recovery", "/contact"},
	{"/", "/services", "/services/laptop-repair", "/pricing", "/locations", "/book"},
	{"/reviews", "/pricing", "/book"},
}

var repairPrices = map[string]float64{
	"screen_repair":       129,
	"battery_replacement": 79,
	"water_damage":        189,
	"data_recovery":       249,
	"charging_port":       69,
	"camera_repair":       99,
}

var repairTypes = []string{
	"screen_repair", "screen_repair", "screen_repair",
	"battery_replacement", "battery_replacement",
	"water_damage", "data_recovery", "charging_port", "camera_repair",
}

var deviceCategories = []string{"smartphone", "smartphone", "smartphone", "tablet", "laptop", "smartwatch"}

var urgencies = []string{"standard", "standard", "standard", "express", "same_day"}

// Run executes the seeding process
func (s *Seeder) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	s.Logger.Info("Starting database seeding...",
		slog.Int("eventCount", s.EventCount),
		slog.Int("bookingCount", s.BookingCount),
		slog.Int("days", s.Days))

	s.ipPool = generateIPPool(s.rng, 100)
	s.userAgents = getUserAgents()
	s.referrers = getReferrers()
	s.customers = s.generateCustomers(max(s.BookingCount/3, 5))

	summary := &Summary{Customers: len(s.customers)}

	bookings := s.generateBookings()
	if err := s.Bookings.CreateBookings(ctx, bookings); err != nil {
		return nil, fmt.Errorf("failed to seed bookings: %w", err)
	}
	summary.Bookings = len(bookings)
	s.Logger.Info("Seeded bookings", slog.Int("count", len(bookings)))

	if err := s.generateTraffic(ctx, summary); err != nil {
		return nil, fmt.Errorf("failed to seed events: %w", err)
	}

	s.Logger.Info("Flushing generated events...")
	if err := s.drain(ctx); err != nil {
		return nil, err
	}

	for _, fn := range s.afterSeed {
		fn()
	}

	s.Logger.Info("Seeding completed successfully",
		slog.Int("bookings", summary.Bookings),
		slog.Int("sessions", summary.Sessions),
		slog.Int("events", summary.Events),
		slog.Int("conversions", summary.Conversions),
		slog.Duration("elapsed", time.Since(start)))
	return summary, nil
}

func (s *Seeder) generateCustomers(count int) []customer {
	now := s.now().UTC()
	customers := make([]customer, count)
	for i := range customers {
		customers[i] = customer{
			id:          fmt.Sprintf("cust-%04d", i+1),
			fingerprint: fmt.Sprintf("fp-%08x", s.rng.Uint32()),
			// Some customers signed up before the seeded window.
			createdAt: now.Add(-time.Duration(s.rng.IntN((s.Days+180)*24)) * time.Hour),
		}
	}
	return customers
}

func (s *Seeder) generateBookings() []*revenue.Booking {
	now := s.now().UTC()
	bookings := make([]*revenue.Booking, 0, s.BookingCount)
	for i := 0; i < s.BookingCount; i++ {
		c := s.customers[s.rng.IntN(len(s.customers))]
		repairType := pick(s.rng, repairTypes)
		urgency := pick(s.rng, urgencies)

		created := now.Add(-time.Duration(s.rng.IntN(s.Days*24*60)) * time.Minute)
		if created.Before(c.createdAt) {
			created = c.createdAt
		}

		price := repairPrices[repairType] * (0.85 + s.rng.Float64()*0.3)
		switch urgency {
		case "express":
			price *= 1.25
		case "same_day":
			price *= 1.5
		}

		b := &revenue.Booking{
			CustomerID:        c.id,
			CustomerCreatedAt: c.createdAt,
			RepairType:        repairType,
			DeviceCategory:    pick(s.rng, deviceCategories),
			Urgency:           urgency,
			Status:            s.bookingStatus(),
			Value:             decimal.NewFromFloat(price).Round(2),
			CreatedAt:         created,
		}
		if b.Status == revenue.StatusCompleted {
			completed := created.Add(time.Duration(s.rng.IntN(72)+1) * time.Hour)
			if completed.After(now) {
				completed = now
			}
			b.CompletedAt = &completed
		}
		bookings = append(bookings, b)
	}
	return bookings
}

func (s *Seeder) bookingStatus() string {
	switch r := s.rng.IntN(100); {
	case r < 78:
		return revenue.StatusCompleted
	case r < 86:
		return revenue.StatusInProgress
	case r < 93:
		return revenue.StatusPending
	default:
		return revenue.StatusCancelled
	}
}

// generateTraffic creates sessions following the journey templates until
// EventCount events were attempted.
func (s *Seeder) generateTraffic(ctx context.Context, summary *Summary) error {
	now := s.now().UTC()
	attempted := 0

	for attempted < s.EventCount {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c := s.customers[s.rng.IntN(len(s.customers))]
		journey := journeyTemplates[s.rng.IntN(len(journeyTemplates))]
		sessionID := fmt.Sprintf("sess-%012x", s.rng.Uint64()&0xffffffffffff)
		ip := s.ipPool[s.rng.IntN(len(s.ipPool))]
		userAgent := pick(s.rng, s.userAgents)
		referrer := pick(s.rng, s.referrers)

		// Anonymous visitors are not linked to a customer.
		customerID := c.id
		if s.rng.Float64() < 0.4 {
			customerID = ""
		}

		ts := now.Add(-time.Duration(s.rng.IntN(s.Days*24*60*60)) * time.Second)
		summary.Sessions++

		base := events.RawEvent{
			"user_fingerprint": c.fingerprint,
			"session_id":       sessionID,
			"customer_id":      customerID,
			"user_agent":       userAgent,
			"ip_address":       ip,
		}

		for i, path := range journey {
			if i > 0 {
				ts = ts.Add(time.Duration(s.rng.IntN(110)+10) * time.Second)
			}
			pageURL := "https://shop.example.com" + path
			raw := cloneRaw(base, events.EventTypePageView, pageURL, ts)
			if i == 0 {
				raw["page_url"] = addUTMParams(s.rng, pageURL)
				raw["referrer"] = referrer
			}
			s.send(ctx, raw, summary)
			attempted++

			if s.rng.Float64() < 0.35 {
				ts = ts.Add(time.Duration(s.rng.IntN(20)+2) * time.Second)
				click := cloneRaw(base, events.EventTypeClick, pageURL, ts)
				click["event_data"] = map[string]any{"element": pick(s.rng, []string{"cta_book", "nav_pricing", "phone_link"})}
				s.send(ctx, click, summary)
				attempted++
			}
		}

		last := "https://shop.example.com" + journey[len(journey)-1]
		switch {
		case journey[len(journey)-1] == "/book" && s.rng.Float64() < 0.5:
			ts = ts.Add(time.Duration(s.rng.IntN(240)+30) * time.Second)
			s.send(ctx, cloneRaw(base, events.EventTypeFormSubmit, last, ts), summary)
			ts = ts.Add(5 * time.Second)
			conversion := cloneRaw(base, events.EventTypeConversion, "https://shop.example.com/book/confirmed", ts)
			repairType := pick(s.rng, repairTypes)
			conversion["conversion_value"] = repairPrices[repairType]
			conversion["event_data"] = map[string]any{"repair_type": repairType}
			s.send(ctx, conversion, summary)
			summary.Conversions++
			attempted += 2
		case s.rng.Float64() < 0.03:
			errEvent := cloneRaw(base, events.EventTypeError, last, ts.Add(time.Second))
			errEvent["event_data"] = map[string]any{"message": "quote widget failed to load"}
			s.send(ctx, errEvent, summary)
			attempted++
		}
	}
	return nil
}

// send pushes one event, flushing once and retrying when the queue is full.
func (s *Seeder) send(ctx context.Context, raw events.RawEvent, summary *Summary) {
	_, err := s.Events.ProcessEvent(ctx, raw)
	if errors.Is(err, pipeline.ErrQueueFull) {
		s.Events.Flush(ctx)
		_, err = s.Events.ProcessEvent(ctx, raw)
	}
	if err != nil {
		summary.Rejected++
		s.Logger.Warn("Failed to ingest seeded event", slog.Any("error", err))
		return
	}
	summary.Events++
}

// drain flushes until the queue is empty or a flush stops making progress.
func (s *Seeder) drain(ctx context.Context) error {
	for {
		result := s.Events.Flush(ctx)
		if result.Err != nil {
			return fmt.Errorf("failed to flush seeded events: %w", result.Err)
		}
		if result.Dequeued == 0 && !result.Skipped {
			return nil
		}
		if result.Skipped {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(50 * time.Millisecond):
			}
		}
	}
}

func cloneRaw(base events.RawEvent, eventType, pageURL string, ts time.Time) events.RawEvent {
	raw := make(events.RawEvent, len(base)+3)
	for k, v := range base {
		raw[k] = v
	}
	raw["event_type"] = eventType
	raw["page_url"] = pageURL
	raw["timestamp"] = ts
	return raw
}

func pick[T any](rng *rand.Rand, items []T) T {
	return items[rng.IntN(len(items))]
}

// generateIPPool creates a pool of unique IPv4 addresses
func generateIPPool(rng *rand.Rand, count int) []string {
	seen := make(map[string]bool)
	var ips []string
	for len(ips) < count {
		ip := fmt.Sprintf("%d.%d.%d.%d", rng.IntN(223)+1, rng.IntN(256), rng.IntN(256), rng.IntN(254)+1)
		if !seen[ip] {
			seen[ip] = true
			ips = append(ips, ip)
		}
	}
	return ips
}

// getUserAgents returns a list of common user agent strings
func getUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
		"Mozilla/5.0 (Linux; Android 13; SM-S911B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Mobile Safari/537.36",
		"Mozilla/5.0 (iPad; CPU OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
	}
}

// getReferrers returns a list of common referrer domains
func getReferrers() []string {
	return []string{
		"", // Direct visit
		"",
		"https://www.google.com/",
		"https://www.bing.com/",
		"https://maps.google.com/",
		"https://www.yelp.com/biz/fixit-repair",
		"https://www.facebook.com/",
		"https://www.instagram.com/",
	}
}

// addUTMParams adds campaign parameters to some landing pages.
func addUTMParams(rng *rand.Rand, pageURL string) string {
	if rng.IntN(10) < 7 {
		return pageURL
	}

	u, err := url.Parse(pageURL)
	if err != nil {
		return pageURL
	}
	params := u.Query()
	params.Set("utm_source", pick(rng, []string{"google", "facebook", "newsletter", "instagram"}))
	params.Set("utm_medium", pick(rng, []string{"cpc", "social", "email"}))
	params.Set("utm_campaign", pick(rng, []string{"spring_screen_sale", "battery_week", "back_to_school"}))
	u.RawQuery = params.Encode()
	return u.String()
}
