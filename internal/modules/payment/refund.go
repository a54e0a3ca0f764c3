package payment

import (
	"context"
	"log"

	"github.com/shopspring/decimal"

	"coworkspace/internal/domain/payment"
)

// Refunder sends refunds to the provider. It has no booking dependency so the state machine can
// hold one while the payment service holds the state machine.
type Refunder struct {
	provider Provider
	loggerf  func(format string, args ...interface{})
}

func NewRefunder(provider Provider, loggerf func(format string, args ...interface{})) *Refunder {
	if loggerf == nil {
		loggerf = log.Printf
	}
	return &Refunder{provider: provider, loggerf: loggerf}
}

// IssueRefund refunds amount on the payment's intent. The key makes a retried call a no-op.
func (r *Refunder) IssueRefund(ctx context.Context, p *payment.Payment, amount decimal.Decimal) error {
	if p.IntentID == "" {
		return ErrNoIntent
	}
	refundID, err := r.provider.Refund(ctx, p.IntentID, amount, "refund_"+p.ID.String())
	if err != nil {
		return err
	}
	r.loggerf("level=info msg=refund issued payment_id=%s refund_id=%s amount=%s", p.ID, refundID, amount)
	return nil
}
