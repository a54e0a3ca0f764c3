package payout

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coworkspace/internal/domain/booking"
	"coworkspace/internal/domain/space"
	"coworkspace/internal/testutil"
)

var now = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

func setupRepo(t *testing.T) (*Repository, *sqlx.DB) {
	t.Helper()
	gdb := testutil.OpenDB(t, &booking.Booking{}, &space.HostProfile{}, &Payout{})
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	db := sqlx.NewDb(sqlDB, "sqlite")
	return NewRepository(db), db
}

func insertServed(t *testing.T, db *sqlx.DB, scheduled *time.Time, completed *time.Time) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := db.Exec(`
		INSERT INTO bookings (id, space_id, user_id, host_id, booking_date, start_time, end_time,
			guests_count, status, total_amount, currency, cancellation_policy, cancellation_fee,
			payout_scheduled_at, payout_completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, '2026-04-09', ?, ?, 1, 'served', 100, 'EUR', 'moderate', 0, ?, ?, ?, ?)`,
		id, uuid.New(), uuid.New(), uuid.New(), now.Add(-26*time.Hour), now.Add(-24*time.Hour),
		scheduled, completed, now, now)
	require.NoError(t, err)
	return id
}

func ptr(t time.Time) *time.Time { return &t }

func TestListDue(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()

	due := insertServed(t, db, ptr(now.Add(-time.Hour)), nil)
	insertServed(t, db, ptr(now.Add(time.Hour)), nil)
	insertServed(t, db, ptr(now.Add(-2*time.Hour)), ptr(now.Add(-time.Hour)))
	insertServed(t, db, nil, nil)

	list, err := repo.ListDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, due, list[0].BookingID)
	assert.True(t, list[0].TotalAmount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "EUR", list[0].Currency)
}

func TestClaim_OnlyOnce(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()
	id := insertServed(t, db, ptr(now.Add(-time.Hour)), nil)

	newPayout := func() *Payout {
		return &Payout{
			BookingID:      id,
			HostID:         uuid.New(),
			IdempotencyKey: IdempotencyKeyFor(id),
			Amount:         decimal.RequireFromString("95.00"),
			Currency:       "EUR",
			CreatedAt:      now,
			UpdatedAt:      now,
		}
	}

	claimed, err := repo.Claim(ctx, newPayout())
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = repo.Claim(ctx, newPayout())
	require.NoError(t, err)
	assert.False(t, claimed, "in-flight payout must not be claimed twice")

	require.NoError(t, repo.MarkFailed(ctx, id, "provider unavailable", now))
	claimed, err = repo.Claim(ctx, newPayout())
	require.NoError(t, err)
	assert.True(t, claimed, "failed payout is retried")

	p, err := repo.GetByBooking(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, p.Status)
	assert.Equal(t, 2, p.Attempts)
	assert.Equal(t, "payout_"+id.String(), p.IdempotencyKey)
}

func TestMarkTransferred_StampsBooking(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()
	id := insertServed(t, db, ptr(now.Add(-time.Hour)), nil)

	claimed, err := repo.Claim(ctx, &Payout{
		BookingID:      id,
		HostID:         uuid.New(),
		IdempotencyKey: IdempotencyKeyFor(id),
		Amount:         decimal.NewFromInt(95),
		Currency:       "EUR",
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, repo.MarkTransferred(ctx, id, "tr_123", now))

	p, err := repo.GetByBooking(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusTransferred, p.Status)
	assert.Equal(t, "tr_123", p.TransferID)

	list, err := repo.ListDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	var transferID string
	require.NoError(t, db.Get(&transferID, `SELECT payout_stripe_transfer_id FROM bookings WHERE id = ?`, id))
	assert.Equal(t, "tr_123", transferID)
}
