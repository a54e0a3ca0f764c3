package payout

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusProcessing  Status = "processing"
	StatusTransferred Status = "transferred"
	StatusFailed      Status = "failed"
)

// Payout is the per-booking transfer ledger. booking_id and idempotency_key are both unique,
// so a booking can be claimed for payout by exactly one dispatcher run.
type Payout struct {
	ID             uuid.UUID       `db:"id" gorm:"type:uuid;primaryKey"`
	BookingID      uuid.UUID       `db:"booking_id" gorm:"type:uuid;not null;uniqueIndex"`
	HostID         uuid.UUID       `db:"host_id" gorm:"type:uuid;not null;index"`
	IdempotencyKey string          `db:"idempotency_key" gorm:"type:varchar(64);not null;uniqueIndex"`
	Amount         decimal.Decimal `db:"amount" gorm:"type:numeric(12,2);not null"`
	Currency       string          `db:"currency" gorm:"type:varchar(3);not null"`
	Status         Status          `db:"status" gorm:"type:varchar(20);not null;index"`
	TransferID     string          `db:"transfer_id" gorm:"type:varchar(255)"`
	Attempts       int             `db:"attempts" gorm:"not null;default:1"`
	LastError      string          `db:"last_error" gorm:"type:text"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

func (Payout) TableName() string {
	return "payouts"
}

// IdempotencyKeyFor derives the transfer idempotency key from the booking id.
func IdempotencyKeyFor(bookingID uuid.UUID) string {
	return "payout_" + bookingID.String()
}

// DueBooking is a served booking waiting for its host transfer.
type DueBooking struct {
	BookingID   uuid.UUID       `db:"id"`
	HostID      uuid.UUID       `db:"host_id"`
	TotalAmount decimal.Decimal `db:"total_amount"`
	Currency    string          `db:"currency"`
	Destination string          `db:"payout_account_id"`
}
