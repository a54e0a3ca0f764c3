package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coworkspace/internal/domain/payment"
	"coworkspace/internal/domain/space"
	"coworkspace/internal/testutil"
)

var day = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func setupRepo(t *testing.T, capacity int) (*Repository, *space.Space) {
	t.Helper()
	db := testutil.OpenDB(t, &space.Space{}, &Booking{}, &payment.Payment{})
	sp := &space.Space{HostID: uuid.New(), Title: "Open desk", MaxCapacity: capacity, Timezone: "UTC"}
	require.NoError(t, db.Create(sp).Error)
	return NewRepository(db), sp
}

func newBooking(sp *space.Space, start, end time.Time, guests int, status Status) *Booking {
	return &Booking{
		SpaceID:     sp.ID,
		UserID:      uuid.New(),
		HostID:      sp.HostID,
		BookingDate: start.Format("2006-01-02"),
		StartTime:   start,
		EndTime:     end,
		GuestsCount: guests,
		Status:      status,
		Currency:    "EUR",
	}
}

func TestCreateWithinCapacity_RejectsOverbooking(t *testing.T) {
	repo, sp := setupRepo(t, 10)
	ctx := context.Background()

	a := newBooking(sp, at(10, 0), at(12, 0), 6, StatusConfirmed)
	require.NoError(t, repo.CreateWithinCapacity(ctx, a))

	b := newBooking(sp, at(11, 0), at(13, 0), 5, StatusPendingPayment)
	err := repo.CreateWithinCapacity(ctx, b)
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	_, err = repo.GetByID(ctx, b.ID)
	assert.ErrorIs(t, err, ErrNotFound, "rejected booking must not be persisted")

	c := newBooking(sp, at(11, 0), at(13, 0), 4, StatusPendingPayment)
	assert.NoError(t, repo.CreateWithinCapacity(ctx, c))
}

func TestCreateWithinCapacity_TouchingWindowsDoNotOverlap(t *testing.T) {
	repo, sp := setupRepo(t, 6)
	ctx := context.Background()

	require.NoError(t, repo.CreateWithinCapacity(ctx, newBooking(sp, at(10, 0), at(11, 0), 6, StatusConfirmed)))
	assert.NoError(t, repo.CreateWithinCapacity(ctx, newBooking(sp, at(11, 0), at(12, 0), 6, StatusConfirmed)))
}

func TestCreateWithinCapacity_UnknownSpace(t *testing.T) {
	repo, sp := setupRepo(t, 6)
	b := newBooking(sp, at(10, 0), at(11, 0), 1, StatusConfirmed)
	b.SpaceID = uuid.New()
	assert.ErrorIs(t, repo.CreateWithinCapacity(context.Background(), b), space.ErrNotFound)
}

func TestSumGuests_StatusFilterAndOverlap(t *testing.T) {
	repo, sp := setupRepo(t, 50)
	ctx := context.Background()

	for _, b := range []*Booking{
		newBooking(sp, at(10, 0), at(12, 0), 3, StatusConfirmed),
		newBooking(sp, at(10, 0), at(12, 0), 2, StatusPending),
		newBooking(sp, at(10, 0), at(12, 0), 7, StatusCancelled),
		newBooking(sp, at(10, 0), at(12, 0), 4, StatusPendingApproval),
		newBooking(sp, at(12, 0), at(13, 0), 9, StatusConfirmed),
	} {
		require.NoError(t, repo.db.Create(b).Error)
	}

	n, err := repo.SumGuests(ctx, sp.ID, at(11, 0), at(12, 0), DisplayOccupyingStatuses)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = repo.SumGuests(ctx, sp.ID, at(11, 0), at(12, 0), HoldingStatuses)
	require.NoError(t, err)
	assert.Equal(t, 9, n)

	n, err = repo.SumGuests(ctx, sp.ID, at(11, 30), at(12, 30), DisplayOccupyingStatuses)
	require.NoError(t, err)
	assert.Equal(t, 14, n)
}

func TestTransition_CompareAndSwap(t *testing.T) {
	repo, sp := setupRepo(t, 10)
	ctx := context.Background()
	now := at(8, 0)

	b := newBooking(sp, at(10, 0), at(12, 0), 1, StatusPendingApproval)
	deadline := now.Add(24 * time.Hour)
	b.ApprovalDeadline = &deadline
	require.NoError(t, repo.db.Create(b).Error)

	updated, err := repo.Transition(ctx, b.ID, TransitionApprove, now, map[string]any{"approval_deadline": nil})
	require.NoError(t, err)
	assert.Equal(t, StatusPendingPayment, updated.Status)
	assert.Nil(t, updated.ApprovalDeadline)

	current, err := repo.Transition(ctx, b.ID, TransitionApprove, now, nil)
	var invalid *InvalidTransitionError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, StatusPendingPayment, invalid.Current)
	assert.Equal(t, TransitionApprove, invalid.Requested)
	assert.Equal(t, StatusPendingPayment, current.Status)
}

func TestTransition_GuardRejected(t *testing.T) {
	repo, sp := setupRepo(t, 10)
	ctx := context.Background()

	b := newBooking(sp, at(10, 0), at(12, 0), 1, StatusConfirmed)
	require.NoError(t, repo.db.Create(b).Error)

	_, err := repo.Transition(ctx, b.ID, TransitionMarkServed, at(12, 1), nil, Guard{Query: "end_time <= ?", Args: []any{at(11, 0)}})
	assert.ErrorIs(t, err, ErrGuardRejected)

	got, err := repo.Transition(ctx, b.ID, TransitionMarkServed, at(12, 6), nil, Guard{Query: "end_time <= ?", Args: []any{at(12, 1)}})
	require.NoError(t, err)
	assert.Equal(t, StatusServed, got.Status)

	_, err = repo.Transition(ctx, uuid.New(), TransitionMarkServed, at(12, 6), nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransition_ConcurrentCallersHaveOneWinner(t *testing.T) {
	cases := []struct {
		name  string
		from  Status
		left  Transition
		right Transition
	}{
		{"approve vs reject", StatusPendingApproval, TransitionApprove, TransitionReject},
		{"mark paid vs expire", StatusPendingPayment, TransitionMarkPaid, TransitionExpire},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo, sp := setupRepo(t, 10)
			ctx := context.Background()
			b := newBooking(sp, at(10, 0), at(12, 0), 1, tc.from)
			require.NoError(t, repo.db.Create(b).Error)

			const callers = 16
			errs := make([]error, callers)
			var wg sync.WaitGroup
			start := make(chan struct{})
			for i := 0; i < callers; i++ {
				tr := tc.left
				if i%2 == 1 {
					tr = tc.right
				}
				wg.Add(1)
				go func(i int, tr Transition) {
					defer wg.Done()
					<-start
					_, errs[i] = repo.Transition(ctx, b.ID, tr, at(8, 0), nil)
				}(i, tr)
			}
			close(start)
			wg.Wait()

			winners := 0
			var winner Transition
			for i, err := range errs {
				if err == nil {
					winners++
					winner = tc.left
					if i%2 == 1 {
						winner = tc.right
					}
					continue
				}
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
			require.Equal(t, 1, winners)

			stored, err := repo.GetByID(ctx, b.ID)
			require.NoError(t, err)
			assert.Equal(t, winner.Target(), stored.Status)
		})
	}
}

func TestSetFlag_OnlyOnce(t *testing.T) {
	repo, sp := setupRepo(t, 10)
	ctx := context.Background()

	b := newBooking(sp, at(10, 0), at(12, 0), 1, StatusPendingApproval)
	require.NoError(t, repo.db.Create(b).Error)

	ok, err := repo.SetFlag(ctx, b.ID, StatusPendingApproval, "approval_reminder_sent", map[string]any{"is_urgent": true}, at(8, 0))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.SetFlag(ctx, b.ID, StatusPendingApproval, "approval_reminder_sent", nil, at(8, 5))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.IsUrgent)
	assert.True(t, got.ApprovalReminderSent)
}

func TestSweepQueries(t *testing.T) {
	repo, sp := setupRepo(t, 100)
	ctx := context.Background()
	now := at(9, 0)

	soon := now.Add(time.Hour)
	later := now.Add(5 * time.Hour)
	past := now.Add(-time.Minute)

	approvalSoon := newBooking(sp, at(14, 0), at(15, 0), 1, StatusPendingApproval)
	approvalSoon.ApprovalDeadline = &soon
	approvalLater := newBooking(sp, at(14, 0), at(15, 0), 1, StatusPendingApproval)
	approvalLater.ApprovalDeadline = &later
	approvalPast := newBooking(sp, at(14, 0), at(15, 0), 1, StatusPendingApproval)
	approvalPast.ApprovalDeadline = &past
	paymentSoon := newBooking(sp, at(14, 0), at(15, 0), 1, StatusPendingPayment)
	paymentSoon.PaymentDeadline = &soon
	paymentPast := newBooking(sp, at(14, 0), at(15, 0), 1, StatusPendingPayment)
	paymentPast.PaymentDeadline = &past
	hold := newBooking(sp, at(14, 0), at(15, 0), 1, StatusPending)
	hold.SlotReservedUntil = &past
	ended := newBooking(sp, at(7, 0), at(8, 0), 1, StatusCheckedIn)
	running := newBooking(sp, at(8, 0), at(10, 0), 1, StatusConfirmed)
	refunding := newBooking(sp, at(6, 0), at(7, 0), 1, StatusConfirmed)

	for _, b := range []*Booking{approvalSoon, approvalLater, approvalPast, paymentSoon, paymentPast, hold, ended, running, refunding} {
		require.NoError(t, repo.db.Create(b).Error)
	}
	require.NoError(t, repo.db.Create(&payment.Payment{
		BookingID: refunding.ID,
		UserID:    refunding.UserID,
		Currency:  "EUR",
		Status:    payment.StatusRefundPending,
		SessionID: "cs_refunding",
	}).Error)

	ids := func(bs []Booking) []uuid.UUID {
		out := make([]uuid.UUID, 0, len(bs))
		for _, b := range bs {
			out = append(out, b.ID)
		}
		return out
	}

	got, err := repo.ListApproachingApproval(ctx, now, 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{approvalSoon.ID}, ids(got))

	got, err = repo.ListApproachingPayment(ctx, now, 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{paymentSoon.ID}, ids(got))

	got, err = repo.ListOverdue(ctx, now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{approvalPast.ID, paymentPast.ID}, ids(got))

	got, err = repo.ListExpiredHolds(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{hold.ID}, ids(got))

	got, err = repo.ListSettleable(ctx, now.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{ended.ID}, ids(got))
}
