package revenue

import (
	"context"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"repairpulse/internal/events"
)

// Booking statuses. Only completed bookings count as revenue.
const (
	StatusPending    = "pending"
	StatusConfirmed  = "confirmed"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// Booking is a repair job. The booking CRUD lives outside this service; the
// revenue engine only reads completed rows.
type Booking struct {
	ID                uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	CustomerID        string          `gorm:"index;not null" json:"customer_id"`
	CustomerCreatedAt time.Time       `gorm:"not null" json:"customer_created_at"`
	RepairType        string          `gorm:"index;not null" json:"repair_type"`
	DeviceCategory    string          `json:"device_category"`
	Urgency           string          `json:"urgency"`
	Status            string          `gorm:"index;not null;default:pending" json:"status"`
	Value             decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"value"`
	CreatedAt         time.Time       `json:"created_at"`
	CompletedAt       *time.Time      `gorm:"index" json:"completed_at,omitempty"`
}

func (Booking) TableName() string {
	return "bookings"
}

// BookingFilter narrows QueryBookings by completion time. Zero bounds are open.
type BookingFilter struct {
	From        time.Time
	To          time.Time
	RepairTypes []string
}

// BookingSource is read-only access to completed bookings.
type BookingSource interface {
	QueryBookings(ctx context.Context, filter BookingFilter) ([]Booking, error)
}

// BookingStore is the gorm implementation of BookingSource.
type BookingStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

var _ BookingSource = (*BookingStore)(nil)

func NewBookingStore(db *gorm.DB, logger *slog.Logger) *BookingStore {
	return &BookingStore{db: db, logger: logger}
}

// QueryBookings returns completed bookings with completed_at in [From, To),
// ordered by completion time.
func (s *BookingStore) QueryBookings(ctx context.Context, filter BookingFilter) ([]Booking, error) {
	q := s.db.WithContext(ctx).
		Where("status = ?", StatusCompleted).
		Where("completed_at IS NOT NULL")
	if !filter.From.IsZero() {
		q = q.Where("completed_at >= ?", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		q = q.Where("completed_at < ?", filter.To.UTC())
	}
	if len(filter.RepairTypes) > 0 {
		q = q.Where("repair_type IN ?", filter.RepairTypes)
	}

	var bookings []Booking
	if err := q.Order("completed_at ASC").Order("id ASC").Find(&bookings).Error; err != nil {
		return nil, &events.QueryError{Query: "bookings", Err: err}
	}
	return bookings, nil
}

// CreateBookings stores bookings in one write transaction. Used by the seeder.
func (s *BookingStore) CreateBookings(ctx context.Context, bookings []*Booking) error {
	if len(bookings) == 0 {
		return nil
	}
	return sqlite.PerformWrite(s.logger, s.db.WithContext(ctx), func(tx *gorm.DB) error {
		return tx.CreateInBatches(bookings, 100).Error
	})
}

// Count returns the number of bookings by status.
func (s *BookingStore) Count(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&Booking{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, &events.QueryError{Query: "booking counts", Err: err}
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
