package payout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"coworkspace/internal/clock"
	"coworkspace/internal/domain/notification"
	"coworkspace/internal/domain/payout"
	"coworkspace/internal/modules/fiscal"
	"coworkspace/internal/pkg/tracing"
)

const defaultBatchSize = 100

var ErrNoPayoutAccount = errors.New("host has no payout account")

type ledger interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]payout.DueBooking, error)
	Claim(ctx context.Context, p *payout.Payout) (bool, error)
	MarkTransferred(ctx context.Context, bookingID uuid.UUID, transferID string, now time.Time) error
	MarkFailed(ctx context.Context, bookingID uuid.UUID, cause string, now time.Time) error
}

// Transferer moves funds to a host's connected account.
type Transferer interface {
	Transfer(ctx context.Context, destination string, amount decimal.Decimal, currency, idempotencyKey string) (string, error)
}

type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, t notification.Type, title, content string, meta map[string]any)
}

type Report struct {
	Due         int `json:"due"`
	Transferred int `json:"transferred"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`
}

type Option func(*Dispatcher)

func WithClock(c clock.Clock) Option                   { return func(d *Dispatcher) { d.clock = c } }
func WithNotifier(n Notifier) Option                   { return func(d *Dispatcher) { d.notifier = n } }
func WithBatchSize(n int) Option                       { return func(d *Dispatcher) { d.batch = n } }
func WithLogger(f func(string, ...interface{})) Option { return func(d *Dispatcher) { d.loggerf = f } }

// Dispatcher pays hosts for served bookings. Each booking is claimed in the ledger before the
// transfer, so overlapping runs never pay the same booking twice.
type Dispatcher struct {
	ledger    ledger
	transfers Transferer
	rates     fiscal.Rates

	clock    clock.Clock
	notifier Notifier
	batch    int
	loggerf  func(format string, args ...interface{})
}

func NewDispatcher(l ledger, transfers Transferer, rates fiscal.Rates, options ...Option) *Dispatcher {
	d := &Dispatcher{
		ledger:    l,
		transfers: transfers,
		rates:     rates,
		clock:     clock.NewSystem(),
		batch:     defaultBatchSize,
		loggerf:   log.Printf,
	}
	for _, o := range options {
		o(d)
	}
	return d
}

// Dispatch runs one pass over the due bookings. Per-booking failures are recorded and skipped.
func (d *Dispatcher) Dispatch(ctx context.Context) (Report, error) {
	ctx, done := tracing.BeginSubsegment(ctx, "PayoutDispatcher.Dispatch")
	var rep Report
	var err error
	defer func() { done(err) }()

	now := d.clock.Now().UTC()
	due, err := d.ledger.ListDue(ctx, now, d.batch)
	if err != nil {
		return rep, fmt.Errorf("list due payouts: %w", err)
	}
	rep.Due = len(due)

	for _, item := range due {
		switch sent, perr := d.payOne(ctx, item, now); {
		case perr != nil:
			rep.Failed++
			d.loggerf("level=error msg=payout failed booking_id=%s host_id=%s err=%v", item.BookingID, item.HostID, perr)
		case sent:
			rep.Transferred++
		default:
			rep.Skipped++
		}
	}

	tracing.AddMetadata(ctx, "payout_report", rep)
	d.loggerf("level=info msg=payout pass finished due=%d transferred=%d skipped=%d failed=%d",
		rep.Due, rep.Transferred, rep.Skipped, rep.Failed)
	return rep, nil
}

func (d *Dispatcher) payOne(ctx context.Context, item payout.DueBooking, now time.Time) (bool, error) {
	if item.Destination == "" {
		return false, ErrNoPayoutAccount
	}
	amount := d.rates.Split(item.TotalAmount).HostAmount
	key := payout.IdempotencyKeyFor(item.BookingID)

	claimed, err := d.ledger.Claim(ctx, &payout.Payout{
		BookingID:      item.BookingID,
		HostID:         item.HostID,
		IdempotencyKey: key,
		Amount:         amount,
		Currency:       item.Currency,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return false, err
	}
	if !claimed {
		d.loggerf("level=info msg=payout already claimed booking_id=%s", item.BookingID)
		return false, nil
	}

	transferID, err := d.transfers.Transfer(ctx, item.Destination, amount, item.Currency, key)
	if err != nil {
		if merr := d.ledger.MarkFailed(ctx, item.BookingID, err.Error(), now); merr != nil {
			d.loggerf("level=error msg=payout failure not recorded booking_id=%s err=%v", item.BookingID, merr)
		}
		return false, err
	}
	if err := d.ledger.MarkTransferred(ctx, item.BookingID, transferID, now); err != nil {
		// the transfer went through; releasing the claim lets the next run replay it under the same key
		if merr := d.ledger.MarkFailed(ctx, item.BookingID, err.Error(), now); merr != nil {
			d.loggerf("level=error msg=payout failure not recorded booking_id=%s err=%v", item.BookingID, merr)
		}
		return false, fmt.Errorf("record transfer %s: %w", transferID, err)
	}

	d.loggerf("level=info msg=payout transferred booking_id=%s transfer_id=%s amount=%s", item.BookingID, transferID, amount)
	if d.notifier != nil {
		d.notifier.Notify(ctx, item.HostID, notification.TypePayoutSent, "Payout sent",
			fmt.Sprintf("%s %s is on its way to your account.", amount.StringFixed(2), item.Currency),
			map[string]any{"booking_id": item.BookingID.String(), "transfer_id": transferID})
	}
	return true, nil
}
