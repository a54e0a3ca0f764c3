package fiscal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"coworkspace/internal/domain/booking"
	fiscaldomain "coworkspace/internal/domain/fiscal"
	"coworkspace/internal/domain/notification"
)

type outbox interface {
	Enqueue(ctx context.Context, req *fiscaldomain.DocumentRequest) (bool, error)
}

type notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, t notification.Type, title, content string, meta map[string]any)
}

// Router turns a served booking into the fiscal documents its host's regime requires.
type Router struct {
	outbox   outbox
	notifier notifier
	rates    Rates
	loggerf  func(format string, args ...interface{})
}

func NewRouter(outbox outbox, notifier notifier, rates Rates, loggerf func(format string, args ...interface{})) *Router {
	if loggerf == nil {
		loggerf = func(string, ...interface{}) {}
	}
	return &Router{outbox: outbox, notifier: notifier, rates: rates, loggerf: loggerf}
}

// Documents lists what a regime produces for one served booking.
func Documents(r fiscaldomain.Regime) []fiscaldomain.DocumentKind {
	switch r {
	case fiscaldomain.RegimeForfettario, fiscaldomain.RegimeOrdinario:
		return []fiscaldomain.DocumentKind{fiscaldomain.KindInvoice, fiscaldomain.KindHostNotice}
	case fiscaldomain.RegimePrivato:
		return []fiscaldomain.DocumentKind{fiscaldomain.KindReceipt}
	}
	return nil
}

// Route records the document requests for b. Requests already recorded are skipped,
// so calling Route again for the same booking has no effect.
func (r *Router) Route(ctx context.Context, b *booking.Booking, regime fiscaldomain.Regime) error {
	split := r.rates.Split(b.TotalAmount)
	payload, err := json.Marshal(map[string]any{
		"booking_id":   b.ID,
		"space_id":     b.SpaceID,
		"coworker_id":  b.UserID,
		"currency":     b.Currency,
		"base":         split.Base,
		"buyer_total":  split.BuyerTotal,
		"host_amount":  split.HostAmount,
		"platform_fee": split.PlatformFee,
		"served_at":    b.ServiceCompletedAt,
	})
	if err != nil {
		return fmt.Errorf("encode fiscal payload: %w", err)
	}

	for _, kind := range Documents(regime) {
		created, err := r.outbox.Enqueue(ctx, &fiscaldomain.DocumentRequest{
			BookingID: b.ID,
			Kind:      kind,
			HostID:    b.HostID,
			Regime:    regime,
			Status:    fiscaldomain.RequestPending,
			Payload:   datatypes.JSON(payload),
		})
		if err != nil {
			return fmt.Errorf("enqueue %s: %w", kind, err)
		}
		if !created {
			r.loggerf("level=info msg=fiscal document already requested booking_id=%s kind=%s", b.ID, kind)
			continue
		}
		if kind == fiscaldomain.KindHostNotice && r.notifier != nil {
			r.notifier.Notify(ctx, b.HostID, notification.TypeFiscalDocumentNotice,
				"Invoice issued for your booking",
				fmt.Sprintf("An invoice for booking %s is being issued under the %s regime.", b.ID, regime),
				map[string]any{"booking_id": b.ID.String(), "regime": string(regime)})
		}
	}
	return nil
}
