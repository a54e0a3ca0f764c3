// Package refund computes the cancellation refund and penalty split for a booking.
package refund

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Policy string

const (
	PolicyFlexible Policy = "flexible"
	PolicyModerate Policy = "moderate"
	PolicyStrict   Policy = "strict"
)

// ParsePolicy is case-insensitive. Unknown values map to moderate.
func ParsePolicy(s string) Policy {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyFlexible:
		return PolicyFlexible
	case PolicyStrict:
		return PolicyStrict
	default:
		return PolicyModerate
	}
}

type tier struct {
	minLead time.Duration
	percent int64
}

// tiers are ordered by descending lead time; the first match wins.
var tiers = map[Policy][]tier{
	PolicyFlexible: {
		{minLead: 24 * time.Hour, percent: 100},
	},
	PolicyModerate: {
		{minLead: 120 * time.Hour, percent: 100},
		{minLead: 24 * time.Hour, percent: 50},
	},
	PolicyStrict: {
		{minLead: 168 * time.Hour, percent: 50},
	},
}

type Result struct {
	Policy            Policy          `json:"policy"`
	RefundAmount      decimal.Decimal `json:"refund_amount"`
	PenaltyAmount     decimal.Decimal `json:"penalty_amount"`
	RefundPercentage  int64           `json:"refund_percentage"`
	PenaltyPercentage int64           `json:"penalty_percentage"`
}

// Calculate splits total into refund and penalty. Amounts keep full precision.
func Calculate(total decimal.Decimal, policy string, scheduledStart, now time.Time) Result {
	p := ParsePolicy(policy)
	pct := Percentage(p, scheduledStart.Sub(now))

	refundAmount := total.Mul(decimal.NewFromInt(pct)).Div(decimal.NewFromInt(100))
	return Result{
		Policy:            p,
		RefundAmount:      refundAmount,
		PenaltyAmount:     total.Sub(refundAmount),
		RefundPercentage:  pct,
		PenaltyPercentage: 100 - pct,
	}
}

// Percentage returns the refund percentage for a lead time. A non-positive lead time refunds nothing.
func Percentage(p Policy, lead time.Duration) int64 {
	if lead <= 0 {
		return 0
	}
	for _, t := range tiers[p] {
		if lead >= t.minLead {
			return t.percent
		}
	}
	return 0
}

// Full refunds the whole amount, used when the host cancels.
func Full(total decimal.Decimal) Result {
	return Result{
		RefundAmount:      total,
		PenaltyAmount:     decimal.Zero,
		RefundPercentage:  100,
		PenaltyPercentage: 0,
	}
}
