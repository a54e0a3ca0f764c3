package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"coworkspace/internal/clock"
	"coworkspace/internal/domain/booking"
	"coworkspace/internal/domain/notification"
	bookingmod "coworkspace/internal/modules/booking"
	"coworkspace/internal/modules/payment"
)

var ErrSweepRunning = errors.New("sweep already running")

type bookingStore interface {
	ListApproachingApproval(ctx context.Context, now time.Time, window time.Duration) ([]booking.Booking, error)
	ListApproachingPayment(ctx context.Context, now time.Time, window time.Duration) ([]booking.Booking, error)
	ListOverdue(ctx context.Context, now time.Time) ([]booking.Booking, error)
	ListExpiredHolds(ctx context.Context, now time.Time) ([]booking.Booking, error)
	ListSettleable(ctx context.Context, cutoff time.Time) ([]booking.Booking, error)
	SetFlag(ctx context.Context, id uuid.UUID, status booking.Status, column string, extra map[string]any, now time.Time) (bool, error)
}

// Lifecycle is the part of the state machine the sweep drives.
type Lifecycle interface {
	ExpireIfOverdue(ctx context.Context, id uuid.UUID) (*booking.Booking, bool, error)
	ReleaseExpiredHold(ctx context.Context, id uuid.UUID) (*booking.Booking, bool, error)
	MarkServed(ctx context.Context, id uuid.UUID, by booking.CompletedBy) (*booking.Booking, error)
	PaymentLink(id uuid.UUID) string
}

type Reconciler interface {
	ReconcileOrphans(ctx context.Context) (payment.ReconcileReport, error)
}

type RefundRetrier interface {
	RetryRefunds(ctx context.Context) (int, error)
}

type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, t notification.Type, title, content string, meta map[string]any)
}

type Config struct {
	ReminderWindow  time.Duration
	SettlementGrace time.Duration
}

type Report struct {
	ApprovalReminders int                     `json:"approval_reminders"`
	PaymentReminders  int                     `json:"payment_reminders"`
	Expired           int                     `json:"expired"`
	HoldsReleased     int                     `json:"holds_released"`
	Served            int                     `json:"served"`
	Orphans           payment.ReconcileReport `json:"orphans"`
	RefundsRetried    int                     `json:"refunds_retried"`
	Errors            int                     `json:"errors"`
}

type Option func(*Sweeper)

func WithClock(c clock.Clock) Option                   { return func(s *Sweeper) { s.clock = c } }
func WithNotifier(n Notifier) Option                   { return func(s *Sweeper) { s.notifier = n } }
func WithReconciler(r Reconciler) Option               { return func(s *Sweeper) { s.reconciler = r } }
func WithRefundRetrier(r RefundRetrier) Option         { return func(s *Sweeper) { s.refunds = r } }
func WithLogger(f func(string, ...interface{})) Option { return func(s *Sweeper) { s.loggerf = f } }

// Sweeper runs the periodic deadline scans. Every scan is idempotent, so overlapping
// deployments are safe; within one process runs are serialized.
type Sweeper struct {
	bookings  bookingStore
	lifecycle Lifecycle
	cfg       Config

	clock      clock.Clock
	notifier   Notifier
	reconciler Reconciler
	refunds    RefundRetrier
	loggerf    func(format string, args ...interface{})
	running    sync.Mutex
}

func NewSweeper(bookings bookingStore, lifecycle Lifecycle, cfg Config, options ...Option) *Sweeper {
	s := &Sweeper{
		bookings:  bookings,
		lifecycle: lifecycle,
		cfg:       cfg,
		clock:     clock.NewSystem(),
		loggerf:   log.Printf,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Run performs one full sweep. It returns ErrSweepRunning when a sweep is already in progress.
func (s *Sweeper) Run(ctx context.Context) (Report, error) {
	if !s.running.TryLock() {
		return Report{}, ErrSweepRunning
	}
	defer s.running.Unlock()

	var rep Report
	now := s.clock.Now().UTC()
	started := time.Now()

	s.remindApprovals(ctx, now, &rep)
	s.remindPayments(ctx, now, &rep)
	s.expireOverdue(ctx, now, &rep)
	s.releaseHolds(ctx, now, &rep)
	s.settle(ctx, now, &rep)
	if s.reconciler != nil {
		orphans, err := s.reconciler.ReconcileOrphans(ctx)
		if err != nil {
			rep.Errors++
			s.loggerf("level=error msg=sweep scan failed scan=orphans err=%v", err)
		}
		rep.Orphans = orphans
		rep.Errors += orphans.Failed
	}
	if s.refunds != nil {
		n, err := s.refunds.RetryRefunds(ctx)
		if err != nil {
			s.scanFailed("refunds", err, &rep)
		}
		rep.RefundsRetried = n
	}

	s.loggerf("level=info msg=sweep finished approval_reminders=%d payment_reminders=%d expired=%d holds_released=%d served=%d orphans_confirmed=%d refunds_retried=%d errors=%d duration=%s",
		rep.ApprovalReminders, rep.PaymentReminders, rep.Expired, rep.HoldsReleased, rep.Served, rep.Orphans.Confirmed, rep.RefundsRetried, rep.Errors, time.Since(started))
	return rep, nil
}

// Loop runs a sweep every interval until ctx is done.
func (s *Sweeper) Loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.loggerf("level=info msg=sweep ticker started interval=%s", interval)
	for {
		select {
		case <-ctx.Done():
			s.loggerf("level=info msg=sweep ticker stopped")
			return
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil {
				s.loggerf("level=warn msg=sweep skipped err=%v", err)
			}
		}
	}
}

func (s *Sweeper) scanFailed(scan string, err error, rep *Report) {
	rep.Errors++
	s.loggerf("level=error msg=sweep scan failed scan=%s err=%v", scan, err)
}

func (s *Sweeper) itemFailed(scan string, id uuid.UUID, err error, rep *Report) {
	rep.Errors++
	s.loggerf("level=error msg=sweep item failed scan=%s booking_id=%s err=%v", scan, id, err)
}

func (s *Sweeper) remindApprovals(ctx context.Context, now time.Time, rep *Report) {
	list, err := s.bookings.ListApproachingApproval(ctx, now, s.cfg.ReminderWindow)
	if err != nil {
		s.scanFailed("approval_reminders", err, rep)
		return
	}
	for i := range list {
		b := &list[i]
		set, err := s.bookings.SetFlag(ctx, b.ID, booking.StatusPendingApproval, "approval_reminder_sent",
			map[string]any{"is_urgent": true}, now)
		if err != nil {
			s.itemFailed("approval_reminders", b.ID, err, rep)
			continue
		}
		if !set {
			continue
		}
		rep.ApprovalReminders++
		s.notify(ctx, b.HostID, notification.TypeApprovalReminder, "Booking request expiring soon",
			fmt.Sprintf("A booking request expires at %s. Approve or reject it before then.", b.ApprovalDeadline.Format(time.RFC3339)),
			map[string]any{"booking_id": b.ID.String(), "approval_deadline": b.ApprovalDeadline, "is_urgent": true})
	}
}

func (s *Sweeper) remindPayments(ctx context.Context, now time.Time, rep *Report) {
	list, err := s.bookings.ListApproachingPayment(ctx, now, s.cfg.ReminderWindow)
	if err != nil {
		s.scanFailed("payment_reminders", err, rep)
		return
	}
	for i := range list {
		b := &list[i]
		set, err := s.bookings.SetFlag(ctx, b.ID, booking.StatusPendingPayment, "payment_reminder_sent", nil, now)
		if err != nil {
			s.itemFailed("payment_reminders", b.ID, err, rep)
			continue
		}
		if !set {
			continue
		}
		rep.PaymentReminders++
		link := s.lifecycle.PaymentLink(b.ID)
		s.notify(ctx, b.UserID, notification.TypePaymentReminder, "Complete your payment",
			fmt.Sprintf("Your reservation is held until %s. Pay now to confirm it.", b.PaymentDeadline.Format(time.RFC3339)),
			map[string]any{"booking_id": b.ID.String(), "payment_deadline": b.PaymentDeadline, "payment_link": link})
	}
}

func (s *Sweeper) expireOverdue(ctx context.Context, now time.Time, rep *Report) {
	list, err := s.bookings.ListOverdue(ctx, now)
	if err != nil {
		s.scanFailed("expire", err, rep)
		return
	}
	for i := range list {
		_, expired, err := s.lifecycle.ExpireIfOverdue(ctx, list[i].ID)
		if err != nil {
			s.itemFailed("expire", list[i].ID, err, rep)
			continue
		}
		if expired {
			rep.Expired++
		}
	}
}

func (s *Sweeper) releaseHolds(ctx context.Context, now time.Time, rep *Report) {
	list, err := s.bookings.ListExpiredHolds(ctx, now)
	if err != nil {
		s.scanFailed("release_holds", err, rep)
		return
	}
	for i := range list {
		_, released, err := s.lifecycle.ReleaseExpiredHold(ctx, list[i].ID)
		if err != nil {
			s.itemFailed("release_holds", list[i].ID, err, rep)
			continue
		}
		if released {
			rep.HoldsReleased++
		}
	}
}

func (s *Sweeper) settle(ctx context.Context, now time.Time, rep *Report) {
	list, err := s.bookings.ListSettleable(ctx, now.Add(-s.cfg.SettlementGrace))
	if err != nil {
		s.scanFailed("settle", err, rep)
		return
	}
	for i := range list {
		_, err := s.lifecycle.MarkServed(ctx, list[i].ID, booking.CompletedBySystem)
		switch {
		case err == nil:
			rep.Served++
		case errors.Is(err, bookingmod.ErrNotSettleable), errors.Is(err, booking.ErrInvalidTransition):
			// open dispute or refund, or another writer got there first
		default:
			s.itemFailed("settle", list[i].ID, err, rep)
		}
	}
}

func (s *Sweeper) notify(ctx context.Context, userID uuid.UUID, t notification.Type, title, content string, meta map[string]any) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, userID, t, title, content, meta)
}
