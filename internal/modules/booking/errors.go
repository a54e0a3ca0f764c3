package booking

import (
	"errors"

	"coworkspace/internal/domain/booking"
)

var (
	ErrValidation         = errors.New("validation error")
	ErrForbidden          = errors.New("not allowed to act on this booking")
	ErrSpaceNotFound      = errors.New("space not found")
	ErrReservationExpired = errors.New("reservation expired")
	ErrCheckInWindow      = errors.New("check-in is outside the allowed window")
	ErrNotSettleable      = errors.New("booking cannot be settled yet")
	ErrInvalidOutcome     = errors.New("invalid resolution outcome")

	// re-exported so callers only import this package
	ErrNotFound          = booking.ErrNotFound
	ErrInvalidTransition = booking.ErrInvalidTransition
	ErrCapacityExceeded  = booking.ErrCapacityExceeded
	ErrGuardRejected     = booking.ErrGuardRejected
)

// InvalidTransition names the current status and the refused transition.
type InvalidTransition = booking.InvalidTransitionError
