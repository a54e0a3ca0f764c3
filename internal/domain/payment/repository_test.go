package payment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coworkspace/internal/testutil"
)

type bookingRow struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	Status string
}

func (bookingRow) TableName() string { return "bookings" }

func newPayment(bookingID uuid.UUID, session string, status Status, created time.Time) *Payment {
	return &Payment{
		BookingID:  bookingID,
		UserID:     uuid.New(),
		Amount:     decimal.RequireFromString("105"),
		BaseAmount: decimal.RequireFromString("100"),
		HostAmount: decimal.RequireFromString("95"),
		Currency:   "EUR",
		Status:     status,
		SessionID:  session,
		CreatedAt:  created,
	}
}

func TestRepository_CreateAndLookups(t *testing.T) {
	db := testutil.OpenDB(t, &Payment{}, &bookingRow{})
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	bookingID := uuid.New()

	require.NoError(t, repo.Create(ctx, newPayment(bookingID, "cs_1", StatusFailed, now.Add(-time.Hour))))
	require.NoError(t, repo.Create(ctx, newPayment(bookingID, "cs_2", StatusCompleted, now)))
	assert.ErrorIs(t, repo.Create(ctx, newPayment(bookingID, "cs_2", StatusPending, now)), ErrDuplicateSession)

	p, err := repo.GetBySession(ctx, "cs_2")
	require.NoError(t, err)
	assert.True(t, p.Amount.Equal(decimal.NewFromInt(105)))

	latest, err := repo.LatestCompleted(ctx, bookingID)
	require.NoError(t, err)
	assert.Equal(t, "cs_2", latest.SessionID)

	_, err = repo.LatestCompleted(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Create(&bookingRow{ID: bookingID, Status: "confirmed"}).Error)
	settleable := func() bool {
		query, args := NotBlockingSQL()
		var n int64
		require.NoError(t, db.Table("bookings").Where("id = ?", bookingID).Where(query, args...).Count(&n).Error)
		return n == 1
	}
	assert.True(t, settleable())

	require.NoError(t, repo.UpdateStatus(ctx, latest.ID, []Status{StatusCompleted}, StatusDisputed, nil))
	assert.False(t, settleable())

	assert.ErrorIs(t, repo.UpdateStatus(ctx, latest.ID, []Status{StatusCompleted}, StatusRefunded, nil), ErrStaleStatus)
}

func TestRepository_ListStalePending(t *testing.T) {
	db := testutil.OpenDB(t, &Payment{}, &bookingRow{})
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	awaiting := bookingRow{ID: uuid.New(), Status: "pending_payment"}
	confirmed := bookingRow{ID: uuid.New(), Status: "confirmed"}
	require.NoError(t, db.Create(&awaiting).Error)
	require.NoError(t, db.Create(&confirmed).Error)

	require.NoError(t, repo.Create(ctx, newPayment(awaiting.ID, "cs_old", StatusPending, now.Add(-time.Hour))))
	require.NoError(t, repo.Create(ctx, newPayment(awaiting.ID, "cs_new", StatusPending, now.Add(-time.Minute))))
	require.NoError(t, repo.Create(ctx, newPayment(confirmed.ID, "cs_done", StatusPending, now.Add(-time.Hour))))

	stale, err := repo.ListStalePending(ctx, now.Add(-30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "cs_old", stale[0].SessionID)
}

func TestRepository_ListRefundPending(t *testing.T) {
	db := testutil.OpenDB(t, &Payment{}, &bookingRow{})
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	bookingID := uuid.New()

	stuck := newPayment(bookingID, "cs_stuck", StatusRefundPending, now.Add(-3*time.Hour))
	stuck.IntentID = "pi_stuck"
	fresh := newPayment(bookingID, "cs_fresh", StatusRefundPending, now.Add(-3*time.Hour))
	fresh.IntentID = "pi_fresh"
	noIntent := newPayment(bookingID, "cs_nointent", StatusRefundPending, now.Add(-3*time.Hour))
	done := newPayment(bookingID, "cs_done", StatusRefunded, now.Add(-3*time.Hour))
	done.IntentID = "pi_done"
	for _, p := range []*Payment{stuck, fresh, noIntent, done} {
		require.NoError(t, repo.Create(ctx, p))
	}
	require.NoError(t, db.Model(&Payment{}).Where("1 = 1").Update("updated_at", now.Add(-2*time.Hour)).Error)
	require.NoError(t, db.Model(&Payment{}).Where("id = ?", fresh.ID).Update("updated_at", now.Add(-time.Minute)).Error)

	got, err := repo.ListRefundPending(ctx, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cs_stuck", got[0].SessionID)
}
