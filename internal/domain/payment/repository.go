package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"coworkspace/internal/database"
)

var (
	ErrNotFound         = errors.New("payment not found")
	ErrDuplicateSession = errors.New("payment session already recorded")
	ErrStaleStatus      = errors.New("payment status changed concurrently")
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, p *Payment) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return ErrDuplicateSession
		}
		return err
	}
	return nil
}

func (r *Repository) GetBySession(ctx context.Context, sessionID string) (*Payment, error) {
	var p Payment
	if err := r.db.WithContext(ctx).First(&p, "session_id = ?", sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *Repository) GetByIntent(ctx context.Context, intentID string) (*Payment, error) {
	var p Payment
	err := r.db.WithContext(ctx).
		Where("intent_id = ?", intentID).
		Order("created_at DESC").
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// LatestCompleted returns the most recent completed payment of a booking.
func (r *Repository) LatestCompleted(ctx context.Context, bookingID uuid.UUID) (*Payment, error) {
	var p Payment
	err := r.db.WithContext(ctx).
		Where("booking_id = ? AND payment_status = ?", bookingID, string(StatusCompleted)).
		Order("created_at DESC").
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// UpdateStatus moves a payment from one of from to to. ErrStaleStatus when nothing matched.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, from []Status, to Status, extra map[string]any) error {
	updates := map[string]any{"payment_status": string(to), "updated_at": time.Now().UTC()}
	for k, v := range extra {
		updates[k] = v
	}
	fromStr := make([]string, len(from))
	for i, s := range from {
		fromStr[i] = string(s)
	}
	res := r.db.WithContext(ctx).Model(&Payment{}).
		Where("id = ? AND payment_status IN ?", id, fromStr).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update payment status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}

// ListStalePending returns pending payments created at or before cutoff whose booking still awaits payment.
func (r *Repository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]Payment, error) {
	var out []Payment
	err := r.db.WithContext(ctx).
		Where("payment_status = ? AND created_at <= ?", string(StatusPending), cutoff).
		Where("booking_id IN (?)", r.db.Table("bookings").Select("id").Where("status = ?", "pending_payment")).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListRefundPending returns refunds with a provider intent that have not moved since cutoff.
func (r *Repository) ListRefundPending(ctx context.Context, cutoff time.Time, limit int) ([]Payment, error) {
	var out []Payment
	err := r.db.WithContext(ctx).
		Where("payment_status = ? AND updated_at <= ?", string(StatusRefundPending), cutoff).
		Where("intent_id <> ''").
		Order("updated_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// NotBlockingSQL is a guard predicate for booking updates: no refund or dispute is open.
func NotBlockingSQL() (string, []any) {
	return "NOT EXISTS (SELECT 1 FROM payments WHERE payments.booking_id = bookings.id AND payments.payment_status IN ?)",
		[]any{blockingStrings()}
}

func blockingStrings() []string {
	out := make([]string, len(BlockingStatuses))
	for i, s := range BlockingStatuses {
		out[i] = string(s)
	}
	return out
}
