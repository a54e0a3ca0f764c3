package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"coworkspace/internal/domain/payment"
	"coworkspace/internal/domain/space"
)

const sweepBatchSize = 500

// Guard is an extra WHERE predicate evaluated in the same conditional update as the status check.
type Guard struct {
	Query string
	Args  []any
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	var b Booking
	if err := r.db.WithContext(ctx).First(&b, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

// SumGuests adds up guests_count of bookings in statuses that overlap [start, end).
func (r *Repository) SumGuests(ctx context.Context, spaceID uuid.UUID, start, end time.Time, statuses []Status) (int, error) {
	return sumGuests(r.db.WithContext(ctx), spaceID, start, end, statuses)
}

func sumGuests(db *gorm.DB, spaceID uuid.UUID, start, end time.Time, statuses []Status) (int, error) {
	var total int64
	err := db.Model(&Booking{}).
		Select("COALESCE(SUM(guests_count), 0)").
		Where("space_id = ?", spaceID).
		Where("status IN ?", statusStrings(statuses)).
		Where("start_time < ? AND end_time > ?", end.UTC(), start.UTC()).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return int(total), nil
}

// CreateWithinCapacity inserts b after re-summing occupancy under a lock on the space row.
func (r *Repository) CreateWithinCapacity(ctx context.Context, b *Booking) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sp space.Space
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&sp, "id = ?", b.SpaceID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return space.ErrNotFound
			}
			return fmt.Errorf("lock space: %w", err)
		}

		booked, err := sumGuests(tx, b.SpaceID, b.StartTime, b.EndTime, HoldingStatuses)
		if err != nil {
			return fmt.Errorf("sum occupancy: %w", err)
		}
		if booked+b.GuestsCount > sp.MaxCapacity {
			return ErrCapacityExceeded
		}

		return tx.Create(b).Error
	})
}

// Transition applies t as a conditional update keyed on the legal source statuses.
// A lost race or an illegal source returns *InvalidTransitionError; a failed guard returns ErrGuardRejected.
func (r *Repository) Transition(ctx context.Context, id uuid.UUID, t Transition, now time.Time, updates map[string]any, guards ...Guard) (*Booking, error) {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["status"] = string(t.Target())
	updates["updated_at"] = now

	q := r.db.WithContext(ctx).Model(&Booking{}).
		Where("id = ?", id).
		Where("status IN ?", statusStrings(t.Sources()))
	for _, g := range guards {
		q = q.Where(g.Query, g.Args...)
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		if t.AllowedFrom(current.Status) {
			return current, ErrGuardRejected
		}
		return current, &InvalidTransitionError{BookingID: id, Current: current.Status, Requested: t}
	}
	return current, nil
}

// SetFlag flips a boolean guard column once; false means another caller already set it.
func (r *Repository) SetFlag(ctx context.Context, id uuid.UUID, status Status, column string, extra map[string]any, now time.Time) (bool, error) {
	updates := map[string]any{column: true, "updated_at": now}
	for k, v := range extra {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).Model(&Booking{}).
		Where("id = ? AND status = ? AND "+column+" = ?", id, string(status), false).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetPaymentSession records the checkout session of a booking still awaiting payment.
func (r *Repository) SetPaymentSession(ctx context.Context, id uuid.UUID, sessionID string, now time.Time) error {
	res := r.db.WithContext(ctx).Model(&Booking{}).
		Where("id = ? AND status = ?", id, string(StatusPendingPayment)).
		Updates(map[string]any{"payment_session_id": sessionID, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		current, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		return &InvalidTransitionError{BookingID: id, Current: current.Status, Requested: TransitionMarkPaid}
	}
	return nil
}

func (r *Repository) ListApproachingApproval(ctx context.Context, now time.Time, window time.Duration) ([]Booking, error) {
	var out []Booking
	err := r.db.WithContext(ctx).
		Where("status = ? AND approval_reminder_sent = ?", string(StatusPendingApproval), false).
		Where("approval_deadline > ? AND approval_deadline <= ?", now, now.Add(window)).
		Order("approval_deadline ASC").
		Limit(sweepBatchSize).
		Find(&out).Error
	return out, err
}

func (r *Repository) ListApproachingPayment(ctx context.Context, now time.Time, window time.Duration) ([]Booking, error) {
	var out []Booking
	err := r.db.WithContext(ctx).
		Where("status = ? AND payment_reminder_sent = ?", string(StatusPendingPayment), false).
		Where("payment_deadline > ? AND payment_deadline <= ?", now, now.Add(window)).
		Order("payment_deadline ASC").
		Limit(sweepBatchSize).
		Find(&out).Error
	return out, err
}

func (r *Repository) ListOverdue(ctx context.Context, now time.Time) ([]Booking, error) {
	var out []Booking
	err := r.db.WithContext(ctx).
		Where("(status = ? AND approval_deadline <= ?) OR (status = ? AND payment_deadline <= ?)",
			string(StatusPendingApproval), now, string(StatusPendingPayment), now).
		Order("created_at ASC").
		Limit(sweepBatchSize).
		Find(&out).Error
	return out, err
}

func (r *Repository) ListExpiredHolds(ctx context.Context, now time.Time) ([]Booking, error) {
	var out []Booking
	err := r.db.WithContext(ctx).
		Where("status = ? AND slot_reserved_until IS NOT NULL AND slot_reserved_until <= ?", string(StatusPending), now).
		Order("slot_reserved_until ASC").
		Limit(sweepBatchSize).
		Find(&out).Error
	return out, err
}

// ListSettleable returns confirmed or checked-in bookings that ended at or before cutoff and
// have no refund or dispute open.
func (r *Repository) ListSettleable(ctx context.Context, cutoff time.Time) ([]Booking, error) {
	notBlocking, args := payment.NotBlockingSQL()
	var out []Booking
	err := r.db.WithContext(ctx).
		Where("status IN ?", statusStrings(TransitionMarkServed.Sources())).
		Where("end_time <= ?", cutoff).
		Where(notBlocking, args...).
		Order("end_time ASC").
		Limit(sweepBatchSize).
		Find(&out).Error
	return out, err
}

func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Booking, error) {
	var out []Booking
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("start_time DESC").
		Limit(limit).Offset(offset).
		Find(&out).Error
	return out, err
}

func (r *Repository) ListByHost(ctx context.Context, hostID uuid.UUID, limit, offset int) ([]Booking, error) {
	var out []Booking
	err := r.db.WithContext(ctx).
		Where("host_id = ?", hostID).
		Order("start_time DESC").
		Limit(limit).Offset(offset).
		Find(&out).Error
	return out, err
}
