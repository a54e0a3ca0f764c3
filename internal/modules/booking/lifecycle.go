package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"coworkspace/internal/domain/booking"
	fiscaldomain "coworkspace/internal/domain/fiscal"
	"coworkspace/internal/domain/payment"
	"coworkspace/internal/modules/refund"
	"coworkspace/internal/pkg/jwt"
)

const (
	ReasonExpired     = "expired"
	ReasonSlotExpired = "slot_expired"
)

// clearedDeadlines is merged into every transition that leaves the pending states.
func clearedDeadlines(extra map[string]any) map[string]any {
	u := map[string]any{
		"approval_deadline":   nil,
		"payment_deadline":    nil,
		"slot_reserved_until": nil,
		"reservation_token":   nil,
	}
	for k, v := range extra {
		u[k] = v
	}
	return u
}

func (s *Service) loadForHost(ctx context.Context, id, hostID uuid.UUID) (*booking.Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.HostID != hostID {
		return nil, ErrForbidden
	}
	return b, nil
}

func (s *Service) logTransitionError(id uuid.UUID, t booking.Transition, err error) {
	var ite *booking.InvalidTransitionError
	if errors.As(err, &ite) {
		s.loggerf("level=warn msg=invalid transition booking_id=%s current=%s requested=%s", id, ite.Current, ite.Requested)
		return
	}
	s.loggerf("level=warn msg=transition rejected booking_id=%s requested=%s err=%v", id, t, err)
}

// Approve moves pending_approval to pending_payment and starts the payment clock.
// An approval deadline that already passed expires the booking instead.
func (s *Service) Approve(ctx context.Context, id, hostID uuid.UUID) (*booking.Booking, error) {
	if _, err := s.loadForHost(ctx, id, hostID); err != nil {
		return nil, err
	}

	now := s.now()
	deadline := now.Add(s.opts.PaymentTimeout)
	b, err := s.bookings.Transition(ctx, id, booking.TransitionApprove, now, map[string]any{
		"approval_deadline":   nil,
		"payment_deadline":    deadline,
		"slot_reserved_until": deadline,
		"reservation_token":   *newReservationToken(),
		"is_urgent":           false,
	}, booking.Guard{Query: "approval_deadline > ?", Args: []any{now}})
	if err != nil {
		s.logTransitionError(id, booking.TransitionApprove, err)
		if errors.Is(err, booking.ErrGuardRejected) {
			if _, _, expErr := s.ExpireIfOverdue(ctx, id); expErr != nil {
				s.loggerf("level=error op=expire_on_approve booking_id=%s err=%v", id, expErr)
			}
			return nil, ErrReservationExpired
		}
		return nil, err
	}

	s.loggerf("level=info msg=booking approved booking_id=%s payment_deadline=%s", b.ID, deadline.Format(time.RFC3339))
	s.notify(ctx, b.UserID, notifyPaymentRequired(b, s.PaymentLink(b.ID)))
	s.afterChange(ctx, b)
	return b, nil
}

func (s *Service) Reject(ctx context.Context, id, hostID uuid.UUID, reason string) (*booking.Booking, error) {
	if _, err := s.loadForHost(ctx, id, hostID); err != nil {
		return nil, err
	}

	now := s.now()
	b, err := s.bookings.Transition(ctx, id, booking.TransitionReject, now, clearedDeadlines(map[string]any{
		"cancelled_at":        now,
		"cancelled_by_host":   true,
		"cancellation_reason": strings.TrimSpace(reason),
		"cancellation_fee":    decimal.Zero,
	}))
	if err != nil {
		s.logTransitionError(id, booking.TransitionReject, err)
		return nil, err
	}

	s.loggerf("level=info msg=booking rejected booking_id=%s", b.ID)
	s.notify(ctx, b.UserID, notifyRejected(b))
	s.afterChange(ctx, b)
	return b, nil
}

// MarkPaid confirms a booking once its payment completed. A payment landing after the payment
// deadline expires the booking instead, even when no sweep ran yet, and fails with ErrReservationExpired.
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID, paymentID uuid.UUID) (*booking.Booking, error) {
	now := s.now()
	b, err := s.bookings.Transition(ctx, id, booking.TransitionMarkPaid, now, clearedDeadlines(map[string]any{
		"is_urgent":       false,
		"paid_payment_id": paymentID,
	}), booking.Guard{Query: "(payment_deadline IS NULL OR payment_deadline > ?)", Args: []any{now}})
	if err != nil {
		s.logTransitionError(id, booking.TransitionMarkPaid, err)
		if errors.Is(err, booking.ErrGuardRejected) {
			if _, _, expErr := s.ExpireIfOverdue(ctx, id); expErr != nil {
				s.loggerf("level=error op=expire_on_paid booking_id=%s err=%v", id, expErr)
			}
			return nil, ErrReservationExpired
		}
		return nil, err
	}

	s.loggerf("level=info msg=booking paid booking_id=%s payment_id=%s", b.ID, paymentID)
	s.notify(ctx, b.UserID, notifyConfirmed(b))
	s.notify(ctx, b.HostID, notifyConfirmed(b))
	s.afterChange(ctx, b)
	return b, nil
}

// Cancel is open to the coworker, the host and admins. Host and admin cancellations refund in
// full; the coworker gets the policy refund of what was actually paid.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor Actor, reason string) (*CancelResponse, error) {
	current, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	byHost := current.HostID == actor.UserID
	if !byHost && current.UserID != actor.UserID && actor.Role != jwt.RoleAdmin {
		return nil, ErrForbidden
	}
	fullRefund := byHost || (actor.Role == jwt.RoleAdmin && current.UserID != actor.UserID)

	now := s.now()
	paid, err := s.payments.LatestCompleted(ctx, id)
	if err != nil && !errors.Is(err, payment.ErrNotFound) {
		return nil, fmt.Errorf("load payment: %w", err)
	}

	result := refund.Result{Policy: refund.ParsePolicy(current.CancellationPolicy), RefundAmount: decimal.Zero, PenaltyAmount: decimal.Zero}
	if paid != nil {
		if fullRefund {
			result = refund.Full(paid.Amount)
		} else {
			result = refund.Calculate(paid.Amount, current.CancellationPolicy, current.StartTime, now)
		}
	}

	b, err := s.bookings.Transition(ctx, id, booking.TransitionCancel, now, clearedDeadlines(map[string]any{
		"cancelled_at":        now,
		"cancelled_by_host":   byHost,
		"cancellation_reason": strings.TrimSpace(reason),
		"cancellation_fee":    result.PenaltyAmount.Round(2),
		"is_urgent":           false,
	}))
	if err != nil {
		s.logTransitionError(id, booking.TransitionCancel, err)
		return nil, err
	}

	s.loggerf("level=info msg=booking cancelled booking_id=%s by_host=%t refund=%s penalty=%s",
		b.ID, byHost, result.RefundAmount, result.PenaltyAmount)

	if paid != nil && result.RefundAmount.IsPositive() {
		s.scheduleRefund(ctx, b, paid, result.RefundAmount.Round(2))
	}

	counterparty := b.HostID
	if byHost {
		counterparty = b.UserID
	}
	s.notify(ctx, counterparty, notifyCancelled(b, result.RefundAmount.StringFixed(2)))
	s.afterChange(ctx, b)
	return &CancelResponse{Booking: b, Refund: result}, nil
}

// scheduleRefund moves the payment to refund_pending and asks the provider to pay it back.
// Failures leave the payment in refund_pending and the sweep retries it.
func (s *Service) scheduleRefund(ctx context.Context, b *booking.Booking, p *payment.Payment, amount decimal.Decimal) {
	err := s.payments.UpdateStatus(ctx, p.ID, []payment.Status{payment.StatusCompleted}, payment.StatusRefundPending,
		map[string]any{"refund_amount": amount})
	if err != nil {
		s.loggerf("level=error op=schedule_refund booking_id=%s payment_id=%s err=%v", b.ID, p.ID, err)
		return
	}
	if s.refunds == nil {
		return
	}
	if err := s.refunds.IssueRefund(ctx, p, amount); err != nil {
		s.loggerf("level=error op=issue_refund booking_id=%s payment_id=%s amount=%s err=%v", b.ID, p.ID, amount, err)
		return
	}
	s.notify(ctx, b.UserID, notifyRefunded(b, amount.StringFixed(2)))
}

// ExpireIfOverdue cancels a pending_approval or pending_payment booking whose deadline passed.
// Any other case returns the booking unchanged with expired=false.
func (s *Service) ExpireIfOverdue(ctx context.Context, id uuid.UUID) (*booking.Booking, bool, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	now := s.now()
	if !overdue(b, now) {
		return b, false, nil
	}

	updated, err := s.bookings.Transition(ctx, id, booking.TransitionExpire, now, clearedDeadlines(map[string]any{
		"cancelled_at":        now,
		"cancellation_reason": ReasonExpired,
		"cancellation_fee":    decimal.Zero,
		"is_urgent":           false,
	}), booking.Guard{
		Query: "((status = ? AND approval_deadline <= ?) OR (status = ? AND payment_deadline <= ?))",
		Args:  []any{string(booking.StatusPendingApproval), now, string(booking.StatusPendingPayment), now},
	})
	if err != nil {
		if errors.Is(err, booking.ErrGuardRejected) || errors.Is(err, booking.ErrInvalidTransition) {
			// another writer moved it first
			return updated, false, nil
		}
		return nil, false, err
	}

	s.loggerf("level=info msg=booking expired booking_id=%s previous=%s", updated.ID, b.Status)
	s.notify(ctx, updated.UserID, notifyExpired(updated))
	if b.Status == booking.StatusPendingApproval {
		s.notify(ctx, updated.HostID, notifyExpired(updated))
	}
	s.afterChange(ctx, updated)
	return updated, true, nil
}

func overdue(b *booking.Booking, now time.Time) bool {
	switch b.Status {
	case booking.StatusPendingApproval:
		return b.ApprovalDeadline != nil && !b.ApprovalDeadline.After(now)
	case booking.StatusPendingPayment:
		return b.PaymentDeadline != nil && !b.PaymentDeadline.After(now)
	}
	return false
}

// ReleaseExpiredHold cancels a pending hold whose slot_reserved_until passed.
func (s *Service) ReleaseExpiredHold(ctx context.Context, id uuid.UUID) (*booking.Booking, bool, error) {
	now := s.now()
	b, err := s.bookings.Transition(ctx, id, booking.TransitionReleaseHold, now, clearedDeadlines(map[string]any{
		"cancelled_at":        now,
		"cancellation_reason": ReasonSlotExpired,
		"cancellation_fee":    decimal.Zero,
	}), booking.Guard{Query: "slot_reserved_until IS NOT NULL AND slot_reserved_until <= ?", Args: []any{now}})
	if err != nil {
		if errors.Is(err, booking.ErrGuardRejected) || errors.Is(err, booking.ErrInvalidTransition) {
			return b, false, nil
		}
		return nil, false, err
	}

	s.loggerf("level=info msg=slot hold released booking_id=%s", b.ID)
	s.notify(ctx, b.UserID, notifyExpired(b))
	s.afterChange(ctx, b)
	return b, true, nil
}

// PrepareCheckout returns a booking that may be charged now. A pending hold starts its payment
// clock here. An elapsed hold or payment deadline expires the booking and fails with ErrReservationExpired.
func (s *Service) PrepareCheckout(ctx context.Context, id, userID uuid.UUID) (*booking.Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.UserID != userID {
		return nil, ErrForbidden
	}
	now := s.now()

	switch b.Status {
	case booking.StatusPending:
		if b.SlotReservedUntil != nil && !b.SlotReservedUntil.After(now) {
			if _, _, err := s.ReleaseExpiredHold(ctx, id); err != nil {
				s.loggerf("level=error op=release_on_checkout booking_id=%s err=%v", id, err)
			}
			return nil, ErrReservationExpired
		}
		deadline := now.Add(s.opts.PaymentTimeout)
		updated, err := s.bookings.Transition(ctx, id, booking.TransitionBeginPayment, now, map[string]any{
			"payment_deadline":    deadline,
			"slot_reserved_until": deadline,
		}, booking.Guard{Query: "(slot_reserved_until IS NULL OR slot_reserved_until > ?)", Args: []any{now}})
		if err != nil {
			s.logTransitionError(id, booking.TransitionBeginPayment, err)
			if errors.Is(err, booking.ErrGuardRejected) {
				return nil, ErrReservationExpired
			}
			return nil, err
		}
		s.afterChange(ctx, updated)
		return updated, nil
	case booking.StatusPendingPayment:
		if overdue(b, now) {
			if _, _, err := s.ExpireIfOverdue(ctx, id); err != nil {
				s.loggerf("level=error op=expire_on_checkout booking_id=%s err=%v", id, err)
			}
			return nil, ErrReservationExpired
		}
		return b, nil
	}
	return nil, &booking.InvalidTransitionError{BookingID: id, Current: b.Status, Requested: booking.TransitionMarkPaid}
}

// CheckIn is host-only and allowed from CheckInLead before start until the end of the booking.
func (s *Service) CheckIn(ctx context.Context, id, hostID uuid.UUID) (*booking.Booking, error) {
	current, err := s.loadForHost(ctx, id, hostID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	opens := current.StartTime.Add(-s.opts.CheckInLead)
	if now.Before(opens) || !now.Before(current.EndTime) {
		loc := time.UTC
		if sp, err := s.spaces.GetByID(ctx, current.SpaceID); err == nil {
			loc = sp.Location()
		}
		return nil, fmt.Errorf("%w: opens %s, closes %s", ErrCheckInWindow,
			opens.In(loc).Format(startLayout), current.EndTime.In(loc).Format(startLayout))
	}

	b, err := s.bookings.Transition(ctx, id, booking.TransitionCheckIn, now, map[string]any{
		"checked_in_at": now,
		"checked_in_by": hostID,
	})
	if err != nil {
		s.logTransitionError(id, booking.TransitionCheckIn, err)
		return nil, err
	}
	s.loggerf("level=info msg=booking checked in booking_id=%s", b.ID)
	s.afterChange(ctx, b)
	return b, nil
}

// MarkServed settles a confirmed or checked-in booking once end_time plus the grace period passed
// and no payment of it is refund_pending or disputed. Both preconditions are part of the update.
func (s *Service) MarkServed(ctx context.Context, id uuid.UUID, by booking.CompletedBy) (*booking.Booking, error) {
	now := s.now()
	notBlocked, notBlockedArgs := payment.NotBlockingSQL()
	b, err := s.bookings.Transition(ctx, id, booking.TransitionMarkServed, now,
		s.servedUpdates(now, by),
		booking.Guard{Query: "end_time <= ?", Args: []any{now.Add(-s.opts.SettlementGrace)}},
		booking.Guard{Query: notBlocked, Args: notBlockedArgs},
	)
	if err != nil {
		s.logTransitionError(id, booking.TransitionMarkServed, err)
		if errors.Is(err, booking.ErrGuardRejected) {
			return nil, fmt.Errorf("%w: %w", ErrNotSettleable, err)
		}
		return nil, err
	}

	s.loggerf("level=info msg=booking served booking_id=%s by=%s", b.ID, by)
	s.onServed(ctx, b)
	return b, nil
}

func (s *Service) servedUpdates(now time.Time, by booking.CompletedBy) map[string]any {
	return clearedDeadlines(map[string]any{
		"service_completed_at": now,
		"service_completed_by": string(by),
		"payout_scheduled_at":  now.Add(s.opts.PayoutDelay),
		"is_urgent":            false,
	})
}

// onServed fires the fiscal documents and notifications. Failures never undo the settlement.
func (s *Service) onServed(ctx context.Context, b *booking.Booking) {
	if s.fiscal != nil {
		regime := fiscaldomain.RegimePrivato
		if host, err := s.spaces.GetHost(ctx, b.HostID); err != nil {
			s.loggerf("level=warn op=fiscal_regime booking_id=%s host_id=%s err=%v", b.ID, b.HostID, err)
		} else {
			regime = fiscaldomain.ParseRegime(host.FiscalRegime)
		}
		if err := s.fiscal.Route(ctx, b, regime); err != nil {
			s.loggerf("level=error op=fiscal_route booking_id=%s regime=%s err=%v", b.ID, regime, err)
		}
	}
	s.notify(ctx, b.UserID, notifyServed(b))
	s.notify(ctx, b.HostID, notifyServed(b))
	s.afterChange(ctx, b)
}

// ReportIssue freezes a confirmed or checked-in booking until an admin resolves it.
func (s *Service) ReportIssue(ctx context.Context, id uuid.UUID, actor Actor) (*booking.Booking, error) {
	current, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.UserID != actor.UserID && current.HostID != actor.UserID {
		return nil, ErrForbidden
	}

	b, err := s.bookings.Transition(ctx, id, booking.TransitionReportIssue, s.now(), map[string]any{
		"host_issue_reported": true,
	})
	if err != nil {
		s.logTransitionError(id, booking.TransitionReportIssue, err)
		return nil, err
	}

	s.loggerf("level=info msg=booking frozen booking_id=%s reported_by=%s", b.ID, actor.UserID)
	counterparty := b.HostID
	if actor.UserID == b.HostID {
		counterparty = b.UserID
	}
	s.notify(ctx, counterparty, notifyIssueReported(b))
	s.afterChange(ctx, b)
	return b, nil
}

// ResolveFrozen is the admin decision on a frozen booking: "served" settles it, "refunded" pays the coworker back in full.
func (s *Service) ResolveFrozen(ctx context.Context, id uuid.UUID, outcome string) (*booking.Booking, error) {
	now := s.now()
	switch outcome {
	case "served":
		b, err := s.bookings.Transition(ctx, id, booking.TransitionResolveServed, now, s.servedUpdates(now, booking.CompletedByAdmin))
		if err != nil {
			s.logTransitionError(id, booking.TransitionResolveServed, err)
			return nil, err
		}
		s.loggerf("level=info msg=frozen booking resolved booking_id=%s outcome=served", b.ID)
		s.onServed(ctx, b)
		return b, nil
	case "refunded":
		return s.refundBooking(ctx, id, true)
	}
	return nil, ErrInvalidOutcome
}

// refundBooking moves a booking to refunded. When issue is set, the completed payment is refunded in full.
func (s *Service) refundBooking(ctx context.Context, id uuid.UUID, issue bool) (*booking.Booking, error) {
	b, err := s.bookings.Transition(ctx, id, booking.TransitionRefund, s.now(), map[string]any{
		"payout_scheduled_at": nil,
	}, booking.Guard{Query: "payout_completed_at IS NULL"})
	if err != nil {
		s.logTransitionError(id, booking.TransitionRefund, err)
		return nil, err
	}
	s.loggerf("level=info msg=booking refunded booking_id=%s", b.ID)

	if issue {
		paid, err := s.payments.LatestCompleted(ctx, id)
		switch {
		case err == nil:
			s.scheduleRefund(ctx, b, paid, paid.Amount)
		case !errors.Is(err, payment.ErrNotFound):
			s.loggerf("level=error op=load_payment booking_id=%s err=%v", id, err)
		}
	}
	s.afterChange(ctx, b)
	return b, nil
}

// OpenDispute is driven by the payment provider when the coworker's bank disputes the charge.
func (s *Service) OpenDispute(ctx context.Context, id uuid.UUID) (*booking.Booking, error) {
	b, err := s.bookings.Transition(ctx, id, booking.TransitionOpenDispute, s.now(), nil)
	if err != nil {
		s.logTransitionError(id, booking.TransitionOpenDispute, err)
		return nil, err
	}
	s.loggerf("level=info msg=booking disputed booking_id=%s", b.ID)
	s.notify(ctx, b.HostID, notifyDisputeOpened(b))
	s.afterChange(ctx, b)
	return b, nil
}

// CloseDispute settles a disputed booking: a won dispute serves it, a lost one marks it refunded
// (the provider already returned the funds).
func (s *Service) CloseDispute(ctx context.Context, id uuid.UUID, won bool) (*booking.Booking, error) {
	if !won {
		return s.refundBooking(ctx, id, false)
	}

	current, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	updates := map[string]any{}
	if current.ServiceCompletedAt == nil {
		updates = s.servedUpdates(now, booking.CompletedBySystem)
	} else if current.PayoutCompletedAt == nil {
		updates["payout_scheduled_at"] = now.Add(s.opts.PayoutDelay)
	}

	b, err := s.bookings.Transition(ctx, id, booking.TransitionWinDispute, now, updates)
	if err != nil {
		s.logTransitionError(id, booking.TransitionWinDispute, err)
		return nil, err
	}
	s.loggerf("level=info msg=dispute won booking_id=%s", b.ID)
	s.onServed(ctx, b)
	return b, nil
}

// MarkRefunded records a refund made outside the engine, e.g. from the provider dashboard.
func (s *Service) MarkRefunded(ctx context.Context, id uuid.UUID) (*booking.Booking, error) {
	return s.refundBooking(ctx, id, false)
}

// RefundPreview reports what cancelling now would refund to the coworker.
func (s *Service) RefundPreview(ctx context.Context, id uuid.UUID, actor Actor) (refund.Result, error) {
	b, err := s.Get(ctx, id, actor)
	if err != nil {
		return refund.Result{}, err
	}
	amount := b.TotalAmount
	paid, err := s.payments.LatestCompleted(ctx, id)
	switch {
	case err == nil:
		amount = paid.Amount
	case !errors.Is(err, payment.ErrNotFound):
		return refund.Result{}, fmt.Errorf("load payment: %w", err)
	}
	if b.HostID == actor.UserID {
		return refund.Full(amount), nil
	}
	return refund.Calculate(amount, b.CancellationPolicy, b.StartTime, s.now()), nil
}

func (s *Service) PaymentLink(id uuid.UUID) string {
	return fmt.Sprintf("%s/bookings/%s/pay", strings.TrimRight(s.opts.PaymentLinkBase, "/"), id)
}

// Options exposes the timing inputs to collaborators such as the sweep.
func (s *Service) Options() Options {
	return s.opts
}

// Now is the service clock.
func (s *Service) Now() time.Time {
	return s.now()
}
