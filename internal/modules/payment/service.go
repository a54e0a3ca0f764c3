package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"coworkspace/internal/clock"
	"coworkspace/internal/config"
	"coworkspace/internal/domain/booking"
	"coworkspace/internal/domain/payment"
	"coworkspace/internal/domain/space"
	bookingmod "coworkspace/internal/modules/booking"
	"coworkspace/internal/modules/fiscal"
	"coworkspace/internal/pkg/retry"
)

var (
	ErrVerificationTimeout = errors.New("payment not confirmed yet")
	ErrUnknownSession      = errors.New("unknown payment session")
	ErrPaymentFailed       = errors.New("payment failed or expired")
	ErrNoIntent            = errors.New("payment has no provider intent")

	errNotConfirmed = errors.New("session not paid yet")
)

const (
	orphanBatchSize = 100
	refundBatchSize = 100
)

type Config struct {
	WebhookSecret    string
	AppBaseURL       string
	OrphanSessionAge time.Duration
	RefundRetryAge   time.Duration
	Verify           retry.Policy
	Rates            fiscal.Rates
}

func ConfigFrom(cfg *config.Config) Config {
	return Config{
		WebhookSecret:    cfg.Payment.WebhookSecret,
		AppBaseURL:       cfg.AppBaseURL,
		OrphanSessionAge: cfg.Booking.OrphanSessionAge,
		RefundRetryAge:   cfg.Payment.RefundRetryAge,
		Verify: retry.Policy{
			MaxAttempts: cfg.Payment.VerifyMaxAttempts,
			BaseDelay:   cfg.Payment.VerifyBaseDelay,
			Factor:      2,
		},
		Rates: fiscal.NewRates(float64(cfg.Booking.BuyerFeePercent), float64(cfg.Booking.HostFeePercent)),
	}
}

type Option func(*Service)

func WithClock(c clock.Clock) Option                   { return func(s *Service) { s.clock = c } }
func WithSleeper(sl retry.Sleeper) Option              { return func(s *Service) { s.sleep = sl } }
func WithListCache(c listInvalidator) Option           { return func(s *Service) { s.lists = c } }
func WithLogger(f func(string, ...interface{})) Option { return func(s *Service) { s.loggerf = f } }

type Service struct {
	lifecycle Lifecycle
	bookings  bookingRepo
	spaces    spaceReader
	payments  paymentRepo
	provider  Provider
	refunder  *Refunder
	cfg       Config

	clock   clock.Clock
	sleep   retry.Sleeper
	lists   listInvalidator
	loggerf func(format string, args ...interface{})
}

func NewService(lifecycle Lifecycle, bookings bookingRepo, spaces spaceReader, payments paymentRepo, provider Provider, cfg Config, options ...Option) *Service {
	s := &Service{
		lifecycle: lifecycle,
		bookings:  bookings,
		spaces:    spaces,
		payments:  payments,
		provider:  provider,
		cfg:       cfg,
		clock:     clock.NewSystem(),
		sleep:     retry.Sleep,
		loggerf:   log.Printf,
	}
	for _, o := range options {
		o(s)
	}
	s.refunder = NewRefunder(provider, s.loggerf)
	return s
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

// CreateCheckout opens a provider session for the buyer total of a booking awaiting payment.
func (s *Service) CreateCheckout(ctx context.Context, bookingID, userID uuid.UUID) (*CheckoutResponse, error) {
	b, err := s.lifecycle.PrepareCheckout(ctx, bookingID, userID)
	if err != nil {
		return nil, err
	}

	if resp := s.reusableSession(ctx, b); resp != nil {
		return resp, nil
	}

	split := s.cfg.Rates.Split(b.TotalAmount)
	params := SessionParams{
		BookingID:  b.ID,
		Amount:     split.BuyerTotal,
		Currency:   b.Currency,
		SuccessURL: fmt.Sprintf("%s/bookings/%s/payment-success?session_id={CHECKOUT_SESSION_ID}", s.cfg.AppBaseURL, b.ID),
		CancelURL:  fmt.Sprintf("%s/bookings/%s", s.cfg.AppBaseURL, b.ID),
	}
	if b.PaymentDeadline != nil {
		params.ExpiresAt = *b.PaymentDeadline
	}

	sess, err := s.provider.CreateSession(ctx, params)
	if err != nil {
		s.loggerf("level=error msg=checkout session failed booking_id=%s err=%v", b.ID, err)
		return nil, err
	}

	p := &payment.Payment{
		BookingID:   b.ID,
		UserID:      b.UserID,
		Amount:      split.BuyerTotal,
		BaseAmount:  split.Base.Round(2),
		BuyerFee:    split.BuyerFee.Round(2),
		HostAmount:  split.HostAmount,
		PlatformFee: split.PlatformFee,
		Currency:    b.Currency,
		Status:      payment.StatusPending,
		SessionID:   sess.ID,
	}
	// an idempotent replay of the same session is already recorded
	if err := s.payments.Create(ctx, p); err != nil && !errors.Is(err, payment.ErrDuplicateSession) {
		return nil, fmt.Errorf("record payment: %w", err)
	}
	if err := s.bookings.SetPaymentSession(ctx, b.ID, sess.ID, s.now()); err != nil {
		return nil, fmt.Errorf("attach session: %w", err)
	}

	s.loggerf("level=info msg=checkout session created booking_id=%s session_id=%s amount=%s", b.ID, sess.ID, split.BuyerTotal)
	return &CheckoutResponse{
		SessionID:       sess.ID,
		SessionURL:      sess.URL,
		Amount:          split.BuyerTotal,
		Currency:        b.Currency,
		PaymentDeadline: b.PaymentDeadline,
	}, nil
}

// reusableSession returns the booking's current session while the provider still accepts payment on it,
// so a buyer who opens checkout twice cannot pay twice.
func (s *Service) reusableSession(ctx context.Context, b *booking.Booking) *CheckoutResponse {
	if b.PaymentSessionID == nil {
		return nil
	}
	p, err := s.payments.GetBySession(ctx, *b.PaymentSessionID)
	if err != nil || p.Status != payment.StatusPending {
		return nil
	}
	sess, err := s.provider.GetSession(ctx, p.SessionID)
	if err != nil {
		s.loggerf("level=warn msg=existing session lookup failed booking_id=%s session_id=%s err=%v", b.ID, p.SessionID, err)
		return nil
	}
	if sess.Status != SessionOpen || sess.URL == "" {
		return nil
	}
	s.loggerf("level=info msg=checkout session reused booking_id=%s session_id=%s", b.ID, sess.ID)
	return &CheckoutResponse{
		SessionID:       p.SessionID,
		SessionURL:      sess.URL,
		Amount:          p.Amount,
		Currency:        p.Currency,
		PaymentDeadline: b.PaymentDeadline,
	}
}

// VerifyPayment is the client-driven confirmation after returning from checkout. It polls the
// provider with backoff; when the attempts run out nothing is changed and ErrVerificationTimeout
// is returned so the webhook or the orphan scan can finish the job.
func (s *Service) VerifyPayment(ctx context.Context, sessionID string, userID uuid.UUID) (*VerifyResult, error) {
	var result *VerifyResult
	err := retry.Do(ctx, s.cfg.Verify, s.sleep, func(ctx context.Context, attempt int) error {
		res, err := s.verifyOnce(ctx, sessionID, userID)
		if err != nil {
			s.loggerf("level=warn msg=payment verification attempt failed session_id=%s attempt=%d err=%v", sessionID, attempt, err)
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			return nil, fmt.Errorf("%w: %w", ErrVerificationTimeout, err)
		}
		return nil, err
	}
	return result, nil
}

func (s *Service) verifyOnce(ctx context.Context, sessionID string, userID uuid.UUID) (*VerifyResult, error) {
	p, err := s.payments.GetBySession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, payment.ErrNotFound) {
			return nil, retry.Permanent(ErrUnknownSession)
		}
		return nil, err
	}
	if p.UserID != userID {
		return nil, retry.Permanent(bookingmod.ErrForbidden)
	}

	switch p.Status {
	case payment.StatusFailed:
		return nil, retry.Permanent(ErrPaymentFailed)
	case payment.StatusPending:
		sess, err := s.provider.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if sess.Status == SessionExpired {
			s.failSession(ctx, p)
			return nil, retry.Permanent(ErrPaymentFailed)
		}
		if !sess.Paid() {
			return nil, errNotConfirmed
		}
		if err := s.completePayment(ctx, p, sess.PaymentIntent); err != nil {
			return nil, err
		}
	}

	b, err := s.bookings.GetByID(ctx, p.BookingID)
	if err != nil {
		return nil, err
	}
	if b.Status == booking.StatusPendingPayment {
		return nil, errNotConfirmed
	}

	res := &VerifyResult{
		Success:       b.Status == booking.StatusConfirmed || b.Status == booking.StatusCheckedIn || b.Status == booking.StatusServed,
		BookingID:     b.ID,
		BookingStatus: b.Status,
	}
	if sp, err := s.spaces.GetByID(ctx, b.SpaceID); err == nil {
		res.ConfirmationType = sp.ConfirmationType
	} else {
		res.ConfirmationType = space.ConfirmationInstant
		s.loggerf("level=warn msg=space lookup failed booking_id=%s err=%v", b.ID, err)
	}
	if res.Success && s.lists != nil {
		if err := s.lists.Invalidate(ctx, b.UserID, b.HostID); err != nil {
			s.loggerf("level=warn msg=booking list invalidation failed booking_id=%s err=%v", b.ID, err)
		}
	}
	return res, nil
}

// completePayment records a paid session and confirms the booking. A payment that lands after
// the reservation lapsed, or on a booking another session already settled, is refunded in full.
func (s *Service) completePayment(ctx context.Context, p *payment.Payment, intentID string) error {
	err := s.payments.UpdateStatus(ctx, p.ID, []payment.Status{payment.StatusPending}, payment.StatusCompleted,
		map[string]any{"intent_id": intentID})
	switch {
	case err == nil:
		p.Status = payment.StatusCompleted
		p.IntentID = intentID
	case errors.Is(err, payment.ErrStaleStatus):
		current, gerr := s.payments.GetBySession(ctx, p.SessionID)
		if gerr != nil {
			return gerr
		}
		if current.Status != payment.StatusCompleted {
			return nil
		}
		p = current
	default:
		return err
	}

	_, err = s.lifecycle.MarkPaid(ctx, p.BookingID, p.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, booking.ErrInvalidTransition) && !errors.Is(err, bookingmod.ErrReservationExpired) {
		return err
	}

	b, gerr := s.bookings.GetByID(ctx, p.BookingID)
	if gerr != nil {
		return gerr
	}
	switch {
	case b.PaidPaymentID != nil && *b.PaidPaymentID == p.ID:
		return nil
	case b.Status == booking.StatusPendingPayment:
		return err
	case b.Status == booking.StatusCancelled && b.PaidPaymentID == nil:
		s.refundUnapplied(ctx, p, "late")
	default:
		s.loggerf("level=warn msg=booking already settled by another payment booking_id=%s payment_id=%s settled_by=%v",
			b.ID, p.ID, b.PaidPaymentID)
		s.refundUnapplied(ctx, p, "duplicate")
	}
	return nil
}

// refundUnapplied returns a completed payment that never confirmed its booking.
func (s *Service) refundUnapplied(ctx context.Context, p *payment.Payment, kind string) {
	err := s.payments.UpdateStatus(ctx, p.ID, []payment.Status{payment.StatusCompleted}, payment.StatusRefundPending,
		map[string]any{"refund_amount": p.Amount})
	if err != nil {
		s.loggerf("level=error msg=unapplied payment refund not recorded kind=%s payment_id=%s err=%v", kind, p.ID, err)
		return
	}
	p.Status = payment.StatusRefundPending
	p.RefundAmount = p.Amount
	if err := s.IssueRefund(ctx, p, p.Amount); err != nil {
		s.loggerf("level=error msg=unapplied payment refund failed kind=%s payment_id=%s err=%v", kind, p.ID, err)
		return
	}
	s.loggerf("level=info msg=unapplied payment refunded kind=%s booking_id=%s payment_id=%s amount=%s", kind, p.BookingID, p.ID, p.Amount)
}

func (s *Service) failSession(ctx context.Context, p *payment.Payment) {
	err := s.payments.UpdateStatus(ctx, p.ID, []payment.Status{payment.StatusPending}, payment.StatusFailed, nil)
	if err != nil && !errors.Is(err, payment.ErrStaleStatus) {
		s.loggerf("level=error msg=mark payment failed payment_id=%s err=%v", p.ID, err)
		return
	}
	if _, expired, err := s.lifecycle.ExpireIfOverdue(ctx, p.BookingID); err != nil {
		s.loggerf("level=error msg=expire after session expiry booking_id=%s err=%v", p.BookingID, err)
	} else if expired {
		s.loggerf("level=info msg=booking expired with its session booking_id=%s session_id=%s", p.BookingID, p.SessionID)
	}
}

// IssueRefund sends amount back on the payment's intent.
func (s *Service) IssueRefund(ctx context.Context, p *payment.Payment, amount decimal.Decimal) error {
	return s.refunder.IssueRefund(ctx, p, amount)
}

// HandleWebhook verifies and applies one provider event. Events that no longer apply are
// logged and acknowledged; only infrastructure errors are returned so the provider redelivers.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if err := VerifySignature(s.cfg.WebhookSecret, payload, signature, s.now()); err != nil {
		return err
	}
	ev, err := ParseEvent(payload)
	if err != nil {
		return err
	}
	s.loggerf("level=info msg=webhook received event_id=%s type=%s", ev.ID, ev.Type)

	switch ev.Type {
	case EventSessionCompleted, EventSessionExpired:
		var sess Session
		if err := json.Unmarshal(ev.Data.Object, &sess); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		return s.onSession(ctx, ev.Type, &sess)
	case EventDisputeCreated, EventDisputeClosed:
		var d disputeObject
		if err := json.Unmarshal(ev.Data.Object, &d); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		return s.onDispute(ctx, ev.Type, &d)
	case EventChargeRefunded:
		var ch chargeObject
		if err := json.Unmarshal(ev.Data.Object, &ch); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		return s.onRefunded(ctx, &ch)
	default:
		s.loggerf("level=info msg=webhook ignored event_id=%s type=%s", ev.ID, ev.Type)
		return nil
	}
}

func (s *Service) onSession(ctx context.Context, eventType string, sess *Session) error {
	p, err := s.payments.GetBySession(ctx, sess.ID)
	if err != nil {
		if errors.Is(err, payment.ErrNotFound) {
			s.loggerf("level=warn msg=webhook for unknown session session_id=%s", sess.ID)
			return nil
		}
		return err
	}

	if eventType == EventSessionExpired {
		s.failSession(ctx, p)
		return nil
	}
	if !sess.Paid() {
		s.loggerf("level=info msg=session completed without payment yet session_id=%s", sess.ID)
		return nil
	}
	return s.completePayment(ctx, p, sess.PaymentIntent)
}

func (s *Service) onDispute(ctx context.Context, eventType string, d *disputeObject) error {
	p, err := s.payments.GetByIntent(ctx, d.PaymentIntent)
	if err != nil {
		if errors.Is(err, payment.ErrNotFound) {
			s.loggerf("level=warn msg=dispute for unknown intent intent_id=%s", d.PaymentIntent)
			return nil
		}
		return err
	}

	if eventType == EventDisputeCreated {
		err := s.payments.UpdateStatus(ctx, p.ID,
			[]payment.Status{payment.StatusCompleted, payment.StatusRefundPending}, payment.StatusDisputed, nil)
		if err != nil && !errors.Is(err, payment.ErrStaleStatus) {
			return err
		}
		_, err = s.lifecycle.OpenDispute(ctx, p.BookingID)
		return s.ignoreStale(p.BookingID, err)
	}

	won := d.Status == "won"
	to := payment.StatusRefunded
	if won {
		to = payment.StatusCompleted
	}
	if err := s.payments.UpdateStatus(ctx, p.ID, []payment.Status{payment.StatusDisputed}, to, nil); err != nil &&
		!errors.Is(err, payment.ErrStaleStatus) {
		return err
	}
	_, err = s.lifecycle.CloseDispute(ctx, p.BookingID, won)
	return s.ignoreStale(p.BookingID, err)
}

func (s *Service) onRefunded(ctx context.Context, ch *chargeObject) error {
	p, err := s.payments.GetByIntent(ctx, ch.PaymentIntent)
	if err != nil {
		if errors.Is(err, payment.ErrNotFound) {
			s.loggerf("level=warn msg=refund for unknown intent intent_id=%s", ch.PaymentIntent)
			return nil
		}
		return err
	}
	if !ch.Refunded {
		s.loggerf("level=info msg=partial refund recorded payment_id=%s", p.ID)
	}
	err = s.payments.UpdateStatus(ctx, p.ID,
		[]payment.Status{payment.StatusRefundPending, payment.StatusCompleted, payment.StatusDisputed}, payment.StatusRefunded, nil)
	if err != nil && !errors.Is(err, payment.ErrStaleStatus) {
		return err
	}

	b, err := s.bookings.GetByID(ctx, p.BookingID)
	if err != nil {
		return err
	}
	switch b.Status {
	case booking.StatusServed, booking.StatusFrozen, booking.StatusDisputed:
		_, err = s.lifecycle.MarkRefunded(ctx, b.ID)
		return s.ignoreStale(b.ID, err)
	}
	return nil
}

// ignoreStale acknowledges events whose booking already moved on.
func (s *Service) ignoreStale(bookingID uuid.UUID, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, booking.ErrInvalidTransition) || errors.Is(err, booking.ErrNotFound) {
		s.loggerf("level=info msg=webhook no longer applies booking_id=%s err=%v", bookingID, err)
		return nil
	}
	return err
}

// ReconcileOrphans settles pending sessions whose webhook never arrived.
func (s *Service) ReconcileOrphans(ctx context.Context) (ReconcileReport, error) {
	var rep ReconcileReport
	stale, err := s.payments.ListStalePending(ctx, s.now().Add(-s.cfg.OrphanSessionAge), orphanBatchSize)
	if err != nil {
		return rep, fmt.Errorf("list stale sessions: %w", err)
	}

	for i := range stale {
		p := &stale[i]
		rep.Checked++
		sess, err := s.provider.GetSession(ctx, p.SessionID)
		if err != nil {
			rep.Failed++
			s.loggerf("level=error msg=orphan session lookup failed session_id=%s err=%v", p.SessionID, err)
			continue
		}
		switch {
		case sess.Paid():
			if err := s.completePayment(ctx, p, sess.PaymentIntent); err != nil {
				rep.Failed++
				s.loggerf("level=error msg=orphan session completion failed session_id=%s err=%v", p.SessionID, err)
				continue
			}
			rep.Confirmed++
		case sess.Status == SessionExpired:
			s.failSession(ctx, p)
			rep.Expired++
		}
	}
	if rep.Checked > 0 {
		s.loggerf("level=info msg=orphan sessions reconciled checked=%d confirmed=%d expired=%d failed=%d",
			rep.Checked, rep.Confirmed, rep.Expired, rep.Failed)
	}
	return rep, nil
}

// RetryRefunds reissues refunds left in refund_pending longer than the retry age. The refund key
// turns a repeat of a refund the provider already accepted into a no-op.
func (s *Service) RetryRefunds(ctx context.Context) (int, error) {
	stale, err := s.payments.ListRefundPending(ctx, s.now().Add(-s.cfg.RefundRetryAge), refundBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending refunds: %w", err)
	}

	retried := 0
	for i := range stale {
		p := &stale[i]
		if err := s.IssueRefund(ctx, p, p.RefundAmount); err != nil {
			s.loggerf("level=error msg=refund retry failed payment_id=%s err=%v", p.ID, err)
			continue
		}
		// bump updated_at so the next sweep waits another retry age
		err := s.payments.UpdateStatus(ctx, p.ID, []payment.Status{payment.StatusRefundPending}, payment.StatusRefundPending, nil)
		if err != nil && !errors.Is(err, payment.ErrStaleStatus) {
			s.loggerf("level=warn msg=refund retry not recorded payment_id=%s err=%v", p.ID, err)
		}
		retried++
	}
	if len(stale) > 0 {
		s.loggerf("level=info msg=pending refunds retried checked=%d retried=%d", len(stale), retried)
	}
	return retried, nil
}
