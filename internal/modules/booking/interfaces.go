package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"coworkspace/internal/domain/booking"
	fiscaldomain "coworkspace/internal/domain/fiscal"
	"coworkspace/internal/domain/notification"
	"coworkspace/internal/domain/payment"
	"coworkspace/internal/domain/space"
)

// BookingRepository is the persistence the state machine drives.
type BookingRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*booking.Booking, error)
	CreateWithinCapacity(ctx context.Context, b *booking.Booking) error
	Transition(ctx context.Context, id uuid.UUID, t booking.Transition, now time.Time, updates map[string]any, guards ...booking.Guard) (*booking.Booking, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]booking.Booking, error)
	ListByHost(ctx context.Context, hostID uuid.UUID, limit, offset int) ([]booking.Booking, error)
}

type SpaceRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*space.Space, error)
	GetHost(ctx context.Context, userID uuid.UUID) (*space.HostProfile, error)
}

type PaymentRepository interface {
	LatestCompleted(ctx context.Context, bookingID uuid.UUID) (*payment.Payment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from []payment.Status, to payment.Status, extra map[string]any) error
}

// RefundIssuer sends a refund for a payment already moved to refund_pending.
type RefundIssuer interface {
	IssueRefund(ctx context.Context, p *payment.Payment, amount decimal.Decimal) error
}

type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, t notification.Type, title, content string, meta map[string]any)
}

type FiscalRouter interface {
	Route(ctx context.Context, b *booking.Booking, regime fiscaldomain.Regime) error
}

type ListCache interface {
	Get(ctx context.Context, role string, userID uuid.UUID, limit, offset int, dest any) (bool, error)
	Set(ctx context.Context, role string, userID uuid.UUID, limit, offset int, v any) error
	Invalidate(ctx context.Context, coworkerID, hostID uuid.UUID) error
}

// StatusPusher delivers live status changes to connected clients.
type StatusPusher interface {
	SendToUser(userID uuid.UUID, event string, payload any)
}
