package space

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ConfirmationType string

const (
	ConfirmationInstant      ConfirmationType = "instant"
	ConfirmationHostApproval ConfirmationType = "host_approval"
)

const DefaultTimezone = "Europe/Rome"

// Space is the bookable unit. The booking engine only reads it.
type Space struct {
	ID                   uuid.UUID        `json:"id" gorm:"type:uuid;primaryKey"`
	HostID               uuid.UUID        `json:"host_id" gorm:"type:uuid;not null;index"`
	Title                string           `json:"title" gorm:"type:varchar(255);not null"`
	MaxCapacity          int              `json:"max_capacity" gorm:"not null;check:max_capacity >= 0"`
	PricePerHour         decimal.Decimal  `json:"price_per_hour" gorm:"type:numeric(12,2);not null;default:0"`
	PricePerDay          decimal.Decimal  `json:"price_per_day" gorm:"type:numeric(12,2);not null;default:0"`
	Currency             string           `json:"currency" gorm:"type:varchar(3);not null;default:'EUR'"`
	ConfirmationType     ConfirmationType `json:"confirmation_type" gorm:"type:varchar(20);not null;default:'instant'"`
	CancellationPolicy   string           `json:"cancellation_policy" gorm:"type:varchar(20);not null;default:'moderate'"`
	ApprovalTimeoutHours int              `json:"approval_timeout_hours" gorm:"not null;default:0"`
	Timezone             string           `json:"timezone" gorm:"type:varchar(64);not null;default:'Europe/Rome'"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

func (Space) TableName() string {
	return "spaces"
}

func (s *Space) BeforeCreate(_ *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

func (s *Space) RequiresApproval() bool {
	return s.ConfirmationType == ConfirmationHostApproval
}

// Location resolves the space timezone, falling back to DefaultTimezone and then UTC.
func (s *Space) Location() *time.Location {
	name := s.Timezone
	if name == "" {
		name = DefaultTimezone
	}
	if loc, err := time.LoadLocation(name); err == nil {
		return loc
	}
	if loc, err := time.LoadLocation(DefaultTimezone); err == nil {
		return loc
	}
	return time.UTC
}

// PriceFor returns the base price of a window: hourly rate capped at the day rate when one is set.
func (s *Space) PriceFor(d time.Duration) decimal.Decimal {
	hours := decimal.NewFromInt(int64(d / time.Minute)).Div(decimal.NewFromInt(60))
	price := s.PricePerHour.Mul(hours)
	if s.PricePerDay.IsPositive() && (price.GreaterThan(s.PricePerDay) || s.PricePerHour.IsZero()) {
		price = s.PricePerDay
	}
	return price.Round(2)
}

// HostProfile carries what the engine needs about a host: fiscal regime and payout account.
type HostProfile struct {
	UserID          uuid.UUID `json:"user_id" gorm:"type:uuid;primaryKey"`
	DisplayName     string    `json:"display_name" gorm:"type:varchar(255)"`
	FiscalRegime    string    `json:"fiscal_regime" gorm:"type:varchar(20);not null;default:'privato'"`
	PayoutAccountID string    `json:"payout_account_id" gorm:"type:varchar(255)"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (HostProfile) TableName() string {
	return "host_profiles"
}
