package notification

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Type string

const (
	TypeBookingRequested     Type = "booking_requested"      // host: new request awaiting approval
	TypeBookingConfirmed     Type = "booking_confirmed"      // coworker
	TypeBookingRejected      Type = "booking_rejected"       // coworker
	TypeBookingCancelled     Type = "booking_cancelled"      // counterparty of the canceller
	TypeBookingExpired       Type = "booking_expired"        // coworker
	TypeApprovalReminder     Type = "approval_reminder"      // host
	TypePaymentReminder      Type = "payment_reminder"       // coworker
	TypePaymentRequired      Type = "payment_required"       // coworker, after approval
	TypeBookingServed        Type = "booking_served"         // both
	TypeIssueReported        Type = "issue_reported"         // counterparty
	TypeDisputeOpened        Type = "dispute_opened"         // host
	TypeRefundIssued         Type = "refund_issued"          // coworker
	TypePayoutSent           Type = "payout_sent"            // host
	TypeFiscalDocumentNotice Type = "fiscal_document_notice" // host, invoice regimes only
)

type Notification struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID      `gorm:"type:uuid;not null;index:idx_notifications_user_unread" json:"user_id"`
	Type      Type           `gorm:"type:varchar(50);not null" json:"type"`
	Title     string         `gorm:"type:varchar(255);not null" json:"title"`
	Content   string         `gorm:"type:text" json:"content,omitempty"`
	Metadata  datatypes.JSON `json:"metadata,omitempty"`
	IsRead    bool           `gorm:"not null;default:false;index:idx_notifications_user_unread" json:"is_read"`
	ReadAt    *time.Time     `json:"read_at,omitempty"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
}

func (Notification) TableName() string {
	return "notifications"
}

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}
