package payment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending       Status = "pending"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusRefundPending Status = "refund_pending"
	StatusRefunded      Status = "refunded"
	StatusDisputed      Status = "disputed"
)

// BlockingStatuses keep a booking from being settled.
var BlockingStatuses = []Status{StatusRefundPending, StatusDisputed}

type Payment struct {
	ID           uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	BookingID    uuid.UUID       `json:"booking_id" gorm:"type:uuid;not null;index"`
	UserID       uuid.UUID       `json:"user_id" gorm:"type:uuid;not null;index"`
	Amount       decimal.Decimal `json:"amount" gorm:"type:numeric(12,2);not null"`
	BaseAmount   decimal.Decimal `json:"base_amount" gorm:"type:numeric(12,2);not null"`
	BuyerFee     decimal.Decimal `json:"buyer_fee" gorm:"type:numeric(12,2);not null;default:0"`
	HostAmount   decimal.Decimal `json:"host_amount" gorm:"type:numeric(12,2);not null"`
	PlatformFee  decimal.Decimal `json:"platform_fee" gorm:"type:numeric(12,2);not null;default:0"`
	RefundAmount decimal.Decimal `json:"refund_amount" gorm:"type:numeric(12,2);not null;default:0"`
	Currency     string          `json:"currency" gorm:"type:varchar(3);not null"`
	Status       Status          `json:"payment_status" gorm:"column:payment_status;type:varchar(20);not null;index"`
	SessionID    string          `json:"session_id" gorm:"type:varchar(255);not null;uniqueIndex"`
	IntentID     string          `json:"payment_intent_id,omitempty" gorm:"type:varchar(255);index"`
	ReceiptURL   string          `json:"receipt_url,omitempty" gorm:"type:text"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}

func (p *Payment) BeforeCreate(_ *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
