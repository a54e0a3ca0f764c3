package booking

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending         Status = "pending"
	StatusPendingApproval Status = "pending_approval"
	StatusPendingPayment  Status = "pending_payment"
	StatusConfirmed       Status = "confirmed"
	StatusCheckedIn       Status = "checked_in"
	StatusServed          Status = "served"
	StatusCancelled       Status = "cancelled"
	StatusRefunded        Status = "refunded"
	StatusDisputed        Status = "disputed"
	StatusFrozen          Status = "frozen"
)

// CompletedBy records who moved a booking to served.
type CompletedBy string

const (
	CompletedBySystem CompletedBy = "system"
	CompletedByHost   CompletedBy = "host"
	CompletedByAdmin  CompletedBy = "admin"
)

// Statuses shown as occupying a slot on the availability display.
var DisplayOccupyingStatuses = []Status{StatusPending, StatusConfirmed}

// Statuses that hold capacity when a new booking is written.
var HoldingStatuses = []Status{
	StatusPending,
	StatusPendingApproval,
	StatusPendingPayment,
	StatusConfirmed,
	StatusCheckedIn,
}

type Booking struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	SpaceID     uuid.UUID `json:"space_id" gorm:"type:uuid;not null;index:idx_bookings_space_window,priority:1"`
	UserID      uuid.UUID `json:"user_id" gorm:"type:uuid;not null;index"`
	HostID      uuid.UUID `json:"host_id" gorm:"type:uuid;not null;index"`
	BookingDate string    `json:"booking_date" gorm:"type:varchar(10);not null"`
	StartTime   time.Time `json:"start_time" gorm:"not null;index:idx_bookings_space_window,priority:2"`
	EndTime     time.Time `json:"end_time" gorm:"not null;index:idx_bookings_space_window,priority:3"`
	GuestsCount int       `json:"guests_count" gorm:"not null;check:guests_count > 0"`
	Status      Status    `json:"status" gorm:"type:varchar(20);not null;index"`

	TotalAmount decimal.Decimal `json:"total_amount" gorm:"type:numeric(12,2);not null;default:0"`
	Currency    string          `json:"currency" gorm:"type:varchar(3);not null"`

	ApprovalDeadline  *time.Time `json:"approval_deadline,omitempty"`
	PaymentDeadline   *time.Time `json:"payment_deadline,omitempty"`
	ReservationToken  *string    `json:"reservation_token,omitempty" gorm:"type:varchar(36);uniqueIndex"`
	SlotReservedUntil *time.Time `json:"slot_reserved_until,omitempty"`
	PaymentSessionID  *string    `json:"payment_session_id,omitempty" gorm:"type:varchar(255);index"`
	PaidPaymentID     *uuid.UUID `json:"paid_payment_id,omitempty" gorm:"type:uuid"`

	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	CancelledByHost    bool            `json:"cancelled_by_host" gorm:"not null;default:false"`
	CancellationReason string          `json:"cancellation_reason,omitempty" gorm:"type:text"`
	CancellationPolicy string          `json:"cancellation_policy" gorm:"type:varchar(20);not null;default:'moderate'"`
	CancellationFee    decimal.Decimal `json:"cancellation_fee" gorm:"type:numeric(12,2);not null;default:0"`

	CheckedInAt *time.Time `json:"checked_in_at,omitempty"`
	CheckedInBy *uuid.UUID `json:"checked_in_by,omitempty" gorm:"type:uuid"`

	ServiceCompletedAt     *time.Time  `json:"service_completed_at,omitempty"`
	ServiceCompletedBy     CompletedBy `json:"service_completed_by,omitempty" gorm:"type:varchar(10)"`
	PayoutScheduledAt      *time.Time  `json:"payout_scheduled_at,omitempty"`
	PayoutCompletedAt      *time.Time  `json:"payout_completed_at,omitempty"`
	PayoutStripeTransferID string      `json:"payout_stripe_transfer_id,omitempty" gorm:"type:varchar(255)"`

	IsUrgent             bool `json:"is_urgent" gorm:"not null;default:false"`
	ApprovalReminderSent bool `json:"approval_reminder_sent" gorm:"not null;default:false"`
	PaymentReminderSent  bool `json:"payment_reminder_sent" gorm:"not null;default:false"`
	HostIssueReported    bool `json:"host_issue_reported" gorm:"not null;default:false"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Booking) TableName() string {
	return "bookings"
}

func (b *Booking) BeforeCreate(_ *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

func (b *Booking) IsTerminal() bool {
	switch b.Status {
	case StatusCancelled, StatusRefunded, StatusServed:
		return true
	}
	return false
}

// DeadlinesConsistent reports whether status and deadlines agree.
func (b *Booking) DeadlinesConsistent() bool {
	switch b.Status {
	case StatusPendingApproval:
		return b.ApprovalDeadline != nil
	case StatusPendingPayment:
		return b.PaymentDeadline != nil
	case StatusCancelled, StatusRefunded, StatusServed:
		return b.ApprovalDeadline == nil && b.PaymentDeadline == nil && b.SlotReservedUntil == nil
	}
	return true
}
