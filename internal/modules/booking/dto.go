package booking

import (
	"time"

	"github.com/google/uuid"

	"coworkspace/internal/domain/booking"
	"coworkspace/internal/modules/refund"
)

type CreateBookingRequest struct {
	SpaceID     uuid.UUID `json:"space_id" validate:"required"`
	BookingDate string    `json:"booking_date" validate:"required,date"`
	StartTime   string    `json:"start_time" validate:"required,clock"`
	EndTime     string    `json:"end_time" validate:"required,clock"`
	GuestsCount int       `json:"guests_count" validate:"required,min=1,max=500"`
	// HoldOnly reserves the slot for SLOT_HOLD_TTL before the coworker starts checkout.
	HoldOnly bool `json:"hold_only"`
}

type ReasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type ResolveRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=served refunded"`
	Note    string `json:"note" validate:"max=500"`
}

type CancelResponse struct {
	Booking *booking.Booking `json:"booking"`
	Refund  refund.Result    `json:"refund"`
}

type ListResponse struct {
	Bookings []booking.Booking `json:"bookings"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

type ExpireResult struct {
	Booking *booking.Booking `json:"booking"`
	Expired bool             `json:"expired"`
}

// Actor is whoever requests a transition.
type Actor struct {
	UserID uuid.UUID
	Role   string
}

type statusEvent struct {
	BookingID uuid.UUID      `json:"booking_id"`
	Status    booking.Status `json:"status"`
	At        time.Time      `json:"at"`
}
