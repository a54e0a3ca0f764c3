package booking

import (
	"fmt"

	"coworkspace/internal/domain/booking"
	"coworkspace/internal/domain/notification"
)

type message struct {
	kind    notification.Type
	title   string
	content string
	meta    map[string]any
}

const startLayout = "02 Jan 2006 15:04 MST"

func bookingMeta(b *booking.Booking, extra ...any) map[string]any {
	meta := map[string]any{
		"booking_id": b.ID.String(),
		"space_id":   b.SpaceID.String(),
		"status":     string(b.Status),
	}
	for i := 0; i+1 < len(extra); i += 2 {
		meta[fmt.Sprint(extra[i])] = extra[i+1]
	}
	return meta
}

func notifyBookingRequested(b *booking.Booking) message {
	return message{
		kind:    notification.TypeBookingRequested,
		title:   "New booking request",
		content: fmt.Sprintf("A coworker requested %d seat(s) on %s. Please approve or reject it.", b.GuestsCount, b.StartTime.Format(startLayout)),
		meta:    bookingMeta(b, "approval_deadline", b.ApprovalDeadline),
	}
}

func notifyPaymentRequired(b *booking.Booking, link string) message {
	return message{
		kind:    notification.TypePaymentRequired,
		title:   "Booking approved",
		content: "Your booking was approved. Complete the payment to confirm it.",
		meta:    bookingMeta(b, "payment_deadline", b.PaymentDeadline, "payment_link", link),
	}
}

func notifyRejected(b *booking.Booking) message {
	return message{
		kind:    notification.TypeBookingRejected,
		title:   "Booking request declined",
		content: "The host declined your booking request.",
		meta:    bookingMeta(b, "reason", b.CancellationReason),
	}
}

func notifyConfirmed(b *booking.Booking) message {
	return message{
		kind:    notification.TypeBookingConfirmed,
		title:   "Booking confirmed",
		content: fmt.Sprintf("Your booking on %s is confirmed.", b.StartTime.Format(startLayout)),
		meta:    bookingMeta(b),
	}
}

func notifyCancelled(b *booking.Booking, refundAmount string) message {
	return message{
		kind:    notification.TypeBookingCancelled,
		title:   "Booking cancelled",
		content: fmt.Sprintf("The booking on %s was cancelled.", b.StartTime.Format(startLayout)),
		meta:    bookingMeta(b, "reason", b.CancellationReason, "refund_amount", refundAmount),
	}
}

func notifyExpired(b *booking.Booking) message {
	return message{
		kind:    notification.TypeBookingExpired,
		title:   "Booking expired",
		content: "The booking was cancelled because its deadline passed.",
		meta:    bookingMeta(b, "reason", b.CancellationReason),
	}
}

func notifyServed(b *booking.Booking) message {
	return message{
		kind:    notification.TypeBookingServed,
		title:   "Booking completed",
		content: "The booking is complete. Thanks for using the space.",
		meta:    bookingMeta(b),
	}
}

func notifyIssueReported(b *booking.Booking) message {
	return message{
		kind:    notification.TypeIssueReported,
		title:   "Issue reported",
		content: "An issue was reported on this booking. Settlement is paused until support resolves it.",
		meta:    bookingMeta(b),
	}
}

func notifyDisputeOpened(b *booking.Booking) message {
	return message{
		kind:    notification.TypeDisputeOpened,
		title:   "Payment disputed",
		content: "The coworker's bank opened a dispute on this booking. Payout is on hold.",
		meta:    bookingMeta(b),
	}
}

func notifyRefunded(b *booking.Booking, amount string) message {
	return message{
		kind:    notification.TypeRefundIssued,
		title:   "Refund issued",
		content: fmt.Sprintf("A refund of %s %s was issued for your booking.", amount, b.Currency),
		meta:    bookingMeta(b, "refund_amount", amount),
	}
}
