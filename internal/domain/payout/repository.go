package payout

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"coworkspace/internal/pkg/tracing"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// ListDue returns served bookings whose payout is scheduled at or before now and not yet completed.
func (r *Repository) ListDue(ctx context.Context, now time.Time, limit int) ([]DueBooking, error) {
	ctx, done := tracing.BeginSubsegment(ctx, "PayoutRepository.ListDue")
	var err error
	defer func() { done(err) }()

	query := r.db.Rebind(`
		SELECT
			b.id,
			b.host_id,
			b.total_amount,
			b.currency,
			COALESCE(h.payout_account_id, '') AS payout_account_id
		FROM bookings b
		LEFT JOIN host_profiles h ON h.user_id = b.host_id
		WHERE b.status = 'served'
		AND b.payout_scheduled_at IS NOT NULL
		AND b.payout_scheduled_at <= ?
		AND b.payout_completed_at IS NULL
		ORDER BY b.payout_scheduled_at ASC
		LIMIT ?
	`)

	var due []DueBooking
	if err = r.db.SelectContext(ctx, &due, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to query due payouts: %w", err)
	}
	return due, nil
}

// Claim records a processing payout for the booking. It returns false when another run
// already holds the booking, either in flight or transferred.
func (r *Repository) Claim(ctx context.Context, p *Payout) (bool, error) {
	ctx, done := tracing.BeginSubsegment(ctx, "PayoutRepository.Claim")
	var err error
	defer func() { done(err) }()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.Status = StatusProcessing
	p.Attempts = 1

	insert := `
		INSERT INTO payouts (
			id,
			booking_id,
			host_id,
			idempotency_key,
			amount,
			currency,
			status,
			transfer_id,
			attempts,
			last_error,
			created_at,
			updated_at
		) VALUES (
			:id,
			:booking_id,
			:host_id,
			:idempotency_key,
			:amount,
			:currency,
			:status,
			:transfer_id,
			:attempts,
			:last_error,
			:created_at,
			:updated_at
		)
		ON CONFLICT (booking_id) DO NOTHING
	`
	res, err := r.db.NamedExecContext(ctx, insert, p)
	if err != nil {
		return false, fmt.Errorf("failed to insert payout: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	// a previous attempt failed before the provider accepted the transfer: take it over
	retry := r.db.Rebind(`
		UPDATE payouts
		SET status = ?,
			attempts = attempts + 1,
			amount = ?,
			updated_at = ?
		WHERE booking_id = ?
		AND status = ?
	`)
	res, err = r.db.ExecContext(ctx, retry, StatusProcessing, p.Amount, p.UpdatedAt, p.BookingID, StatusFailed)
	if err != nil {
		return false, fmt.Errorf("failed to reclaim payout: %w", err)
	}
	n, err = res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// MarkTransferred stamps the payout and the booking in one transaction.
func (r *Repository) MarkTransferred(ctx context.Context, bookingID uuid.UUID, transferID string, now time.Time) error {
	ctx, done := tracing.BeginSubsegment(ctx, "PayoutRepository.MarkTransferred")
	var err error
	defer func() { done(err) }()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		UPDATE payouts
		SET status = ?,
			transfer_id = ?,
			last_error = '',
			updated_at = ?
		WHERE booking_id = ?
	`), StatusTransferred, transferID, now, bookingID)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Printf("rollback failed: %v, original error: %v", rbErr, err)
		}
		return fmt.Errorf("failed to update payout: %w", err)
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		UPDATE bookings
		SET payout_completed_at = ?,
			payout_stripe_transfer_id = ?,
			updated_at = ?
		WHERE id = ?
	`), now, transferID, now, bookingID)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Printf("rollback failed: %v, original error: %v", rbErr, err)
		}
		return fmt.Errorf("failed to stamp booking payout: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit payout: %w", err)
	}
	return nil
}

func (r *Repository) MarkFailed(ctx context.Context, bookingID uuid.UUID, cause string, now time.Time) error {
	query := r.db.Rebind(`
		UPDATE payouts
		SET status = ?,
			last_error = ?,
			updated_at = ?
		WHERE booking_id = ?
		AND status = ?
	`)
	if _, err := r.db.ExecContext(ctx, query, StatusFailed, cause, now, bookingID, StatusProcessing); err != nil {
		return fmt.Errorf("failed to mark payout failed: %w", err)
	}
	return nil
}

func (r *Repository) GetByBooking(ctx context.Context, bookingID uuid.UUID) (*Payout, error) {
	var p Payout
	query := r.db.Rebind(`
		SELECT id, booking_id, host_id, idempotency_key, amount, currency, status,
			transfer_id, attempts, last_error, created_at, updated_at
		FROM payouts
		WHERE booking_id = ?
	`)
	if err := r.db.GetContext(ctx, &p, query, bookingID); err != nil {
		return nil, fmt.Errorf("failed to get payout: %w", err)
	}
	return &p, nil
}
