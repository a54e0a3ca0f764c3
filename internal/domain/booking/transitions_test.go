package booking

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		transition Transition
		from       Status
		allowed    bool
	}{
		{TransitionApprove, StatusPendingApproval, true},
		{TransitionApprove, StatusPendingPayment, false},
		{TransitionReject, StatusPendingApproval, true},
		{TransitionReject, StatusConfirmed, false},
		{TransitionMarkPaid, StatusPendingPayment, true},
		{TransitionMarkPaid, StatusPending, false},
		{TransitionBeginPayment, StatusPending, true},
		{TransitionBeginPayment, StatusPendingApproval, false},
		{TransitionMarkPaid, StatusCancelled, false},
		{TransitionCancel, StatusCheckedIn, true},
		{TransitionCancel, StatusServed, false},
		{TransitionCancel, StatusCancelled, false},
		{TransitionExpire, StatusPendingApproval, true},
		{TransitionExpire, StatusPendingPayment, true},
		{TransitionExpire, StatusConfirmed, false},
		{TransitionMarkServed, StatusConfirmed, true},
		{TransitionMarkServed, StatusCheckedIn, true},
		{TransitionMarkServed, StatusFrozen, false},
		{TransitionCheckIn, StatusConfirmed, true},
		{TransitionCheckIn, StatusPendingPayment, false},
		{TransitionRefund, StatusServed, true},
		{TransitionOpenDispute, StatusServed, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.transition.AllowedFrom(tc.from), "%s from %s", tc.transition, tc.from)
	}

	assert.Equal(t, StatusPendingPayment, TransitionApprove.Target())
	assert.Equal(t, StatusCancelled, TransitionExpire.Target())
	assert.Equal(t, StatusServed, TransitionMarkServed.Target())
}

func TestTerminalStatusesNeverReenterPipeline(t *testing.T) {
	for tr, r := range rules {
		for _, from := range r.from {
			assert.NotEqual(t, StatusCancelled, from, "%s must not start from cancelled", tr)
			assert.NotEqual(t, StatusRefunded, from, "%s must not start from refunded", tr)
		}
	}
}

func TestInvalidTransitionError(t *testing.T) {
	id := uuid.New()
	err := error(&InvalidTransitionError{BookingID: id, Current: StatusConfirmed, Requested: TransitionApprove})

	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Contains(t, err.Error(), "confirmed")
	assert.Contains(t, err.Error(), "approve")
	assert.Contains(t, err.Error(), id.String())
}

func TestDeadlinesConsistent(t *testing.T) {
	b := &Booking{Status: StatusPendingApproval}
	assert.False(t, b.DeadlinesConsistent())
	b.Status = StatusCancelled
	assert.True(t, b.DeadlinesConsistent())
	assert.True(t, b.IsTerminal())
}
