package booking

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type Transition string

const (
	TransitionApprove       Transition = "approve"
	TransitionReject        Transition = "reject"
	TransitionBeginPayment  Transition = "begin_payment"
	TransitionMarkPaid      Transition = "mark_paid"
	TransitionCancel        Transition = "cancel"
	TransitionExpire        Transition = "expire"
	TransitionReleaseHold   Transition = "release_hold"
	TransitionCheckIn       Transition = "check_in"
	TransitionMarkServed    Transition = "mark_served"
	TransitionOpenDispute   Transition = "open_dispute"
	TransitionWinDispute    Transition = "win_dispute"
	TransitionRefund        Transition = "refund"
	TransitionReportIssue   Transition = "report_issue"
	TransitionResolveServed Transition = "resolve_served"
)

type rule struct {
	from []Status
	to   Status
}

var rules = map[Transition]rule{
	TransitionApprove:       {from: []Status{StatusPendingApproval}, to: StatusPendingPayment},
	TransitionReject:        {from: []Status{StatusPendingApproval}, to: StatusCancelled},
	TransitionBeginPayment:  {from: []Status{StatusPending}, to: StatusPendingPayment},
	TransitionMarkPaid:      {from: []Status{StatusPendingPayment}, to: StatusConfirmed},
	TransitionCancel:        {from: []Status{StatusPending, StatusPendingApproval, StatusPendingPayment, StatusConfirmed, StatusCheckedIn}, to: StatusCancelled},
	TransitionExpire:        {from: []Status{StatusPendingApproval, StatusPendingPayment}, to: StatusCancelled},
	TransitionReleaseHold:   {from: []Status{StatusPending}, to: StatusCancelled},
	TransitionCheckIn:       {from: []Status{StatusConfirmed}, to: StatusCheckedIn},
	TransitionMarkServed:    {from: []Status{StatusConfirmed, StatusCheckedIn}, to: StatusServed},
	TransitionOpenDispute:   {from: []Status{StatusConfirmed, StatusCheckedIn, StatusServed, StatusFrozen}, to: StatusDisputed},
	TransitionWinDispute:    {from: []Status{StatusDisputed}, to: StatusServed},
	TransitionRefund:        {from: []Status{StatusServed, StatusDisputed, StatusFrozen}, to: StatusRefunded},
	TransitionReportIssue:   {from: []Status{StatusConfirmed, StatusCheckedIn}, to: StatusFrozen},
	TransitionResolveServed: {from: []Status{StatusFrozen}, to: StatusServed},
}

// Sources lists the statuses a transition may start from.
func (t Transition) Sources() []Status {
	return rules[t].from
}

func (t Transition) Target() Status {
	return rules[t].to
}

func (t Transition) AllowedFrom(s Status) bool {
	for _, from := range rules[t].from {
		if from == s {
			return true
		}
	}
	return false
}

var (
	ErrNotFound          = errors.New("booking not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrCapacityExceeded  = errors.New("capacity exceeded")
	// ErrGuardRejected means the status allowed the transition but a time or payment precondition did not.
	ErrGuardRejected = errors.New("transition precondition not met")
)

type InvalidTransitionError struct {
	BookingID uuid.UUID
	Current   Status
	Requested Transition
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %q from status %q (booking %s)", e.Requested, e.Current, e.BookingID)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

func statusStrings(ss []Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}
