package payment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"coworkspace/internal/domain/booking"
	"coworkspace/internal/domain/space"
)

type VerifyPaymentRequest struct {
	SessionID string `json:"session_id" validate:"required,max=255"`
}

type VerifyResult struct {
	Success          bool                   `json:"success"`
	BookingID        uuid.UUID              `json:"booking_id"`
	BookingStatus    booking.Status         `json:"booking_status"`
	ConfirmationType space.ConfirmationType `json:"confirmation_type,omitempty"`
}

type CheckoutResponse struct {
	SessionID       string          `json:"session_id"`
	SessionURL      string          `json:"session_url"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	PaymentDeadline *time.Time      `json:"payment_deadline"`
}

// ReconcileReport summarises one orphan-session pass.
type ReconcileReport struct {
	Checked   int `json:"checked"`
	Confirmed int `json:"confirmed"`
	Expired   int `json:"expired"`
	Failed    int `json:"failed"`
}
