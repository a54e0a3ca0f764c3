package payout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"coworkspace/internal/clock"
	"coworkspace/internal/domain/booking"
	"coworkspace/internal/domain/notification"
	"coworkspace/internal/domain/payout"
	"coworkspace/internal/domain/space"
	"coworkspace/internal/modules/fiscal"
	"coworkspace/internal/testutil"
)

type MockTransferer struct {
	mock.Mock
}

func (m *MockTransferer) Transfer(ctx context.Context, destination string, amount decimal.Decimal, currency, key string) (string, error) {
	args := m.Called(ctx, destination, amount, currency, key)
	return args.String(0), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, userID uuid.UUID, t notification.Type, title, content string, meta map[string]any) {
	m.Called(ctx, userID, t, title, content, meta)
}

func amountOf(v string) any {
	want := decimal.RequireFromString(v)
	return mock.MatchedBy(func(d decimal.Decimal) bool { return d.Equal(want) })
}

var now = time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db        *sqlx.DB
	repo      *payout.Repository
	transfers *MockTransferer
	notifier  *MockNotifier
	dispatch  *Dispatcher
}

func setup(t *testing.T) *fixture {
	t.Helper()
	gdb := testutil.OpenDB(t, &booking.Booking{}, &space.HostProfile{}, &payout.Payout{})
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	db := sqlx.NewDb(sqlDB, "sqlite")

	f := &fixture{
		db:        db,
		repo:      payout.NewRepository(db),
		transfers: new(MockTransferer),
		notifier:  new(MockNotifier),
	}
	f.dispatch = NewDispatcher(f.repo, f.transfers, fiscal.NewRates(5, 5),
		WithClock(clock.NewManual(now)),
		WithNotifier(f.notifier),
		WithLogger(t.Logf),
	)
	return f
}

// served inserts a served booking of total due for payout an hour ago.
func (f *fixture) served(t *testing.T, total, account string) (bookingID, hostID uuid.UUID) {
	t.Helper()
	bookingID, hostID = uuid.New(), uuid.New()
	if account != "" {
		_, err := f.db.Exec(`INSERT INTO host_profiles (user_id, fiscal_regime, payout_account_id, created_at, updated_at)
			VALUES (?, 'privato', ?, ?, ?)`, hostID, account, now, now)
		require.NoError(t, err)
	}
	_, err := f.db.Exec(`
		INSERT INTO bookings (id, space_id, user_id, host_id, booking_date, start_time, end_time,
			guests_count, status, total_amount, currency, cancellation_policy, cancellation_fee,
			payout_scheduled_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, '2025-03-01', ?, ?, 1, 'served', ?, 'EUR', 'moderate', 0, ?, ?, ?)`,
		bookingID, uuid.New(), uuid.New(), hostID, now.Add(-27*time.Hour), now.Add(-25*time.Hour),
		total, now.Add(-time.Hour), now, now)
	require.NoError(t, err)
	return bookingID, hostID
}

func TestDispatch_TransfersHostShareOnce(t *testing.T) {
	f := setup(t)
	id, host := f.served(t, "100.00", "acct_host")

	f.transfers.On("Transfer", mock.Anything, "acct_host", amountOf("95"), "EUR", "payout_"+id.String()).
		Return("tr_1", nil).Once()
	f.notifier.On("Notify", mock.Anything, host, notification.TypePayoutSent, mock.Anything, mock.Anything, mock.Anything).Once()

	rep, err := f.dispatch.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Due: 1, Transferred: 1}, rep)

	rep, err = f.dispatch.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{}, rep)

	p, err := f.repo.GetByBooking(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, payout.StatusTransferred, p.Status)
	assert.Equal(t, "tr_1", p.TransferID)
	f.transfers.AssertExpectations(t)
	f.notifier.AssertExpectations(t)
}

func TestDispatch_FailureIsRetriedNextRun(t *testing.T) {
	f := setup(t)
	id, _ := f.served(t, "40.00", "acct_host")
	f.notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Maybe()

	f.transfers.On("Transfer", mock.Anything, "acct_host", amountOf("38"), "EUR", "payout_"+id.String()).
		Return("", errors.New("provider down")).Once()
	rep, err := f.dispatch.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Due: 1, Failed: 1}, rep)

	p, err := f.repo.GetByBooking(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, payout.StatusFailed, p.Status)
	assert.Equal(t, "provider down", p.LastError)

	f.transfers.On("Transfer", mock.Anything, "acct_host", amountOf("38"), "EUR", "payout_"+id.String()).
		Return("tr_2", nil).Once()
	rep, err = f.dispatch.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Due: 1, Transferred: 1}, rep)
}

func TestDispatch_SkipsClaimedAndUnconfigured(t *testing.T) {
	f := setup(t)
	claimed, host := f.served(t, "10.00", "acct_a")
	f.served(t, "10.00", "")

	ok, err := f.repo.Claim(context.Background(), &payout.Payout{
		BookingID: claimed, HostID: host, IdempotencyKey: payout.IdempotencyKeyFor(claimed),
		Amount: decimal.RequireFromString("9.50"), Currency: "EUR", CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	require.True(t, ok)

	rep, err := f.dispatch.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Due: 2, Skipped: 1, Failed: 1}, rep)
	f.transfers.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// memLedger is a ledger whose Claim is atomic across goroutines.
type memLedger struct {
	mu      sync.Mutex
	due     []payout.DueBooking
	claimed map[uuid.UUID]bool
	done    map[uuid.UUID]string
}

func (l *memLedger) ListDue(context.Context, time.Time, int) ([]payout.DueBooking, error) {
	return l.due, nil
}

func (l *memLedger) Claim(_ context.Context, p *payout.Payout) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.claimed[p.BookingID] {
		return false, nil
	}
	l.claimed[p.BookingID] = true
	return true, nil
}

func (l *memLedger) MarkTransferred(_ context.Context, id uuid.UUID, transferID string, _ time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.done[id] = transferID
	return nil
}

func (l *memLedger) MarkFailed(context.Context, uuid.UUID, string, time.Time) error {
	return nil
}

func TestDispatch_ConcurrentRunsPayOnce(t *testing.T) {
	id := uuid.New()
	l := &memLedger{
		due: []payout.DueBooking{{
			BookingID: id, HostID: uuid.New(), TotalAmount: decimal.NewFromInt(200),
			Currency: "EUR", Destination: "acct_c",
		}},
		claimed: map[uuid.UUID]bool{},
		done:    map[uuid.UUID]string{},
	}
	transfers := new(MockTransferer)
	transfers.On("Transfer", mock.Anything, "acct_c", amountOf("190"), "EUR", "payout_"+id.String()).Return("tr_c", nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := NewDispatcher(l, transfers, fiscal.NewRates(5, 5), WithClock(clock.NewManual(now)), WithLogger(t.Logf))
			_, err := d.Dispatch(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	transfers.AssertNumberOfCalls(t, "Transfer", 1)
	assert.Equal(t, "tr_c", l.done[id])
}
