package fiscal

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Regime is the host's tax regime. It decides which document a served booking produces.
type Regime string

const (
	RegimePrivato     Regime = "privato"
	RegimeForfettario Regime = "forfettario"
	RegimeOrdinario   Regime = "ordinario"
)

// ParseRegime maps free-form host profile values onto a regime. Unknown values fall back to privato.
func ParseRegime(s string) Regime {
	switch Regime(strings.ToLower(strings.TrimSpace(s))) {
	case RegimeForfettario:
		return RegimeForfettario
	case RegimeOrdinario:
		return RegimeOrdinario
	default:
		return RegimePrivato
	}
}

type DocumentKind string

const (
	KindReceipt    DocumentKind = "receipt"
	KindInvoice    DocumentKind = "invoice"
	KindHostNotice DocumentKind = "host_notice"
)

type RequestStatus string

const (
	RequestPending RequestStatus = "pending"
	RequestIssued  RequestStatus = "issued"
)

// DocumentRequest is an outbox row consumed by the invoicing integration.
type DocumentRequest struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	BookingID uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_fiscal_booking_kind" json:"booking_id"`
	Kind      DocumentKind   `gorm:"type:varchar(20);not null;uniqueIndex:idx_fiscal_booking_kind" json:"kind"`
	HostID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"host_id"`
	Regime    Regime         `gorm:"type:varchar(20);not null" json:"regime"`
	Status    RequestStatus  `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	Payload   datatypes.JSON `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (DocumentRequest) TableName() string {
	return "fiscal_document_requests"
}

func (d *DocumentRequest) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}
