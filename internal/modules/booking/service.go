package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"coworkspace/internal/clock"
	"coworkspace/internal/config"
	"coworkspace/internal/domain/booking"
	"coworkspace/internal/domain/space"
	"coworkspace/internal/modules/capacity"
	"coworkspace/internal/modules/refund"
	"coworkspace/internal/pkg/jwt"
)

// Options are the timing inputs of the state machine.
type Options struct {
	ApprovalTimeout time.Duration
	PaymentTimeout  time.Duration
	SlotHoldTTL     time.Duration
	SettlementGrace time.Duration
	PayoutDelay     time.Duration
	CheckInLead     time.Duration
	DefaultCurrency string
	PaymentLinkBase string
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ApprovalTimeout: cfg.Booking.ApprovalTimeout,
		PaymentTimeout:  cfg.Booking.PaymentTimeout,
		SlotHoldTTL:     cfg.Booking.SlotHoldTTL,
		SettlementGrace: cfg.Booking.SettlementGrace,
		PayoutDelay:     cfg.Booking.PayoutDelay,
		CheckInLead:     2 * time.Hour,
		DefaultCurrency: cfg.Booking.DefaultCurrency,
		PaymentLinkBase: cfg.AppBaseURL,
	}
}

func DefaultOptions() Options {
	return Options{
		ApprovalTimeout: 24 * time.Hour,
		PaymentTimeout:  15 * time.Minute,
		SlotHoldTTL:     15 * time.Minute,
		SettlementGrace: 5 * time.Minute,
		CheckInLead:     2 * time.Hour,
		DefaultCurrency: "EUR",
		PaymentLinkBase: "http://localhost:5173",
	}
}

type Option func(*Service)

func WithClock(c clock.Clock) Option                   { return func(s *Service) { s.clock = c } }
func WithNotifier(n Notifier) Option                   { return func(s *Service) { s.notifier = n } }
func WithFiscalRouter(r FiscalRouter) Option           { return func(s *Service) { s.fiscal = r } }
func WithRefundIssuer(r RefundIssuer) Option           { return func(s *Service) { s.refunds = r } }
func WithListCache(c ListCache) Option                 { return func(s *Service) { s.lists = c } }
func WithStatusPusher(p StatusPusher) Option           { return func(s *Service) { s.pusher = p } }
func WithLogger(f func(string, ...interface{})) Option { return func(s *Service) { s.loggerf = f } }

type Service struct {
	bookings BookingRepository
	spaces   SpaceRepository
	payments PaymentRepository
	opts     Options

	clock    clock.Clock
	notifier Notifier
	fiscal   FiscalRouter
	refunds  RefundIssuer
	lists    ListCache
	pusher   StatusPusher
	loggerf  func(format string, args ...interface{})
}

func NewService(bookings BookingRepository, spaces SpaceRepository, payments PaymentRepository, opts Options, options ...Option) *Service {
	s := &Service{
		bookings: bookings,
		spaces:   spaces,
		payments: payments,
		opts:     opts,
		clock:    clock.NewSystem(),
		loggerf:  log.Printf,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

// Create validates the window and inserts the booking in the status its space calls for.
// Capacity is re-checked by the repository under a lock, so a concurrent insert cannot overbook.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, req CreateBookingRequest) (*booking.Booking, error) {
	sp, err := s.spaces.GetByID(ctx, req.SpaceID)
	if err != nil {
		if errors.Is(err, space.ErrNotFound) {
			return nil, ErrSpaceNotFound
		}
		return nil, fmt.Errorf("load space: %w", err)
	}

	start, end, err := capacity.ParseWindow(req.BookingDate, req.StartTime, req.EndTime, sp.Location())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	now := s.now()
	if !start.After(now) {
		return nil, fmt.Errorf("%w: booking must start in the future", ErrValidation)
	}
	if req.GuestsCount < 1 {
		return nil, fmt.Errorf("%w: guests_count must be positive", ErrValidation)
	}
	if req.GuestsCount > sp.MaxCapacity {
		return nil, ErrCapacityExceeded
	}

	currency := sp.Currency
	if currency == "" {
		currency = s.opts.DefaultCurrency
	}

	b := &booking.Booking{
		SpaceID:            sp.ID,
		UserID:             userID,
		HostID:             sp.HostID,
		BookingDate:        req.BookingDate,
		StartTime:          start,
		EndTime:            end,
		GuestsCount:        req.GuestsCount,
		TotalAmount:        sp.PriceFor(end.Sub(start)),
		Currency:           currency,
		CancellationPolicy: string(refund.ParsePolicy(sp.CancellationPolicy)),
		CancellationFee:    decimal.Zero,
	}
	s.applyInitialStatus(b, sp, req.HoldOnly, now)

	if err := s.bookings.CreateWithinCapacity(ctx, b); err != nil {
		if errors.Is(err, space.ErrNotFound) {
			return nil, ErrSpaceNotFound
		}
		return nil, err
	}

	s.loggerf("level=info msg=booking created booking_id=%s space_id=%s status=%s guests=%d", b.ID, b.SpaceID, b.Status, b.GuestsCount)
	if b.Status == booking.StatusPendingApproval {
		s.notify(ctx, b.HostID, notifyBookingRequested(b))
	}
	s.afterChange(ctx, b)
	return b, nil
}

func (s *Service) applyInitialStatus(b *booking.Booking, sp *space.Space, holdOnly bool, now time.Time) {
	switch {
	case sp.RequiresApproval():
		timeout := s.opts.ApprovalTimeout
		if sp.ApprovalTimeoutHours > 0 {
			timeout = time.Duration(sp.ApprovalTimeoutHours) * time.Hour
		}
		deadline := now.Add(timeout)
		b.Status = booking.StatusPendingApproval
		b.ApprovalDeadline = &deadline
	case b.TotalAmount.IsZero():
		b.Status = booking.StatusConfirmed
	case holdOnly:
		until := now.Add(s.opts.SlotHoldTTL)
		b.Status = booking.StatusPending
		b.SlotReservedUntil = &until
		b.ReservationToken = newReservationToken()
	default:
		deadline := now.Add(s.opts.PaymentTimeout)
		b.Status = booking.StatusPendingPayment
		b.PaymentDeadline = &deadline
		b.SlotReservedUntil = &deadline
		b.ReservationToken = newReservationToken()
	}
}

func newReservationToken() *string {
	t := uuid.NewString()
	return &t
}

// Get returns a booking visible to the actor: its coworker, its host or an admin.
func (s *Service) Get(ctx context.Context, id uuid.UUID, actor Actor) (*booking.Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(b, actor) {
		return nil, ErrForbidden
	}
	return b, nil
}

func canView(b *booking.Booking, actor Actor) bool {
	return actor.Role == jwt.RoleAdmin || b.UserID == actor.UserID || b.HostID == actor.UserID
}

func (s *Service) ListForCoworker(ctx context.Context, userID uuid.UUID, limit, offset int) (*ListResponse, error) {
	return s.list(ctx, "coworker", userID, limit, offset, s.bookings.ListByUser)
}

func (s *Service) ListForHost(ctx context.Context, hostID uuid.UUID, limit, offset int) (*ListResponse, error) {
	return s.list(ctx, "host", hostID, limit, offset, s.bookings.ListByHost)
}

func (s *Service) list(ctx context.Context, role string, userID uuid.UUID, limit, offset int,
	load func(context.Context, uuid.UUID, int, int) ([]booking.Booking, error)) (*ListResponse, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var cached ListResponse
	if s.lists != nil {
		found, err := s.lists.Get(ctx, role, userID, limit, offset, &cached)
		if err != nil {
			s.loggerf("level=warn msg=booking list cache read failed role=%s user_id=%s err=%v", role, userID, err)
		} else if found {
			return &cached, nil
		}
	}

	items, err := load(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []booking.Booking{}
	}
	resp := &ListResponse{Bookings: items, Limit: limit, Offset: offset}

	if s.lists != nil {
		if err := s.lists.Set(ctx, role, userID, limit, offset, resp); err != nil {
			s.loggerf("level=warn msg=booking list cache write failed role=%s user_id=%s err=%v", role, userID, err)
		}
	}
	return resp, nil
}

// afterChange drops cached lists and pushes the new status to both parties.
func (s *Service) afterChange(ctx context.Context, b *booking.Booking) {
	if s.lists != nil {
		if err := s.lists.Invalidate(ctx, b.UserID, b.HostID); err != nil {
			s.loggerf("level=warn op=cache_invalidate booking_id=%s err=%v", b.ID, err)
		}
	}
	if s.pusher != nil {
		ev := statusEvent{BookingID: b.ID, Status: b.Status, At: b.UpdatedAt}
		s.pusher.SendToUser(b.UserID, "booking_status", ev)
		s.pusher.SendToUser(b.HostID, "booking_status", ev)
	}
}

func (s *Service) notify(ctx context.Context, userID uuid.UUID, m message) {
	if s.notifier == nil || userID == uuid.Nil {
		return
	}
	s.notifier.Notify(ctx, userID, m.kind, m.title, m.content, m.meta)
}
