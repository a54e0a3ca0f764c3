package payment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"coworkspace/internal/domain/booking"
	"coworkspace/internal/domain/payment"
	"coworkspace/internal/domain/space"
)

// Lifecycle is the booking state machine as seen from the payment side.
type Lifecycle interface {
	PrepareCheckout(ctx context.Context, id, userID uuid.UUID) (*booking.Booking, error)
	MarkPaid(ctx context.Context, id, paymentID uuid.UUID) (*booking.Booking, error)
	ExpireIfOverdue(ctx context.Context, id uuid.UUID) (*booking.Booking, bool, error)
	OpenDispute(ctx context.Context, id uuid.UUID) (*booking.Booking, error)
	CloseDispute(ctx context.Context, id uuid.UUID, won bool) (*booking.Booking, error)
	MarkRefunded(ctx context.Context, id uuid.UUID) (*booking.Booking, error)
}

type bookingRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*booking.Booking, error)
	SetPaymentSession(ctx context.Context, id uuid.UUID, sessionID string, now time.Time) error
}

type spaceReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*space.Space, error)
}

type paymentRepo interface {
	Create(ctx context.Context, p *payment.Payment) error
	GetBySession(ctx context.Context, sessionID string) (*payment.Payment, error)
	GetByIntent(ctx context.Context, intentID string) (*payment.Payment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from []payment.Status, to payment.Status, extra map[string]any) error
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]payment.Payment, error)
	ListRefundPending(ctx context.Context, cutoff time.Time, limit int) ([]payment.Payment, error)
}

type listInvalidator interface {
	Invalidate(ctx context.Context, coworkerID, hostID uuid.UUID) error
}
