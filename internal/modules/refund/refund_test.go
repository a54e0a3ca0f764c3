package refund

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var start = time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)

func TestCalculate_Thresholds(t *testing.T) {
	total := decimal.NewFromInt(200)

	tests := []struct {
		name   string
		policy string
		lead   time.Duration
		want   int64
	}{
		{"flexible at 24h", "flexible", 24 * time.Hour, 100},
		{"flexible at 23h59m", "flexible", 23*time.Hour + 59*time.Minute, 0},
		{"moderate at 120h", "moderate", 120 * time.Hour, 100},
		{"moderate at 119h", "moderate", 119 * time.Hour, 50},
		{"moderate at 24h", "moderate", 24 * time.Hour, 50},
		{"moderate below 24h", "moderate", 23 * time.Hour, 0},
		{"strict at 168h", "strict", 168 * time.Hour, 50},
		{"strict at 167h", "strict", 167 * time.Hour, 0},
		{"case insensitive", "STRICT", 200 * time.Hour, 50},
		{"unknown defaults to moderate", "lenient", 48 * time.Hour, 50},
		{"empty defaults to moderate", "", 130 * time.Hour, 100},
		{"already started", "flexible", 0, 0},
		{"in the past", "flexible", -5 * time.Hour, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Calculate(total, tt.policy, start, start.Add(-tt.lead))
			assert.Equal(t, tt.want, res.RefundPercentage)
			assert.Equal(t, 100-tt.want, res.PenaltyPercentage)
			assert.True(t, res.RefundAmount.Add(res.PenaltyAmount).Equal(total))
		})
	}
}

func TestCalculate_KeepsSubUnitPrecision(t *testing.T) {
	res := Calculate(decimal.NewFromInt(3333), "moderate", start, start.Add(-48*time.Hour))

	assert.True(t, res.RefundAmount.Equal(decimal.RequireFromString("1666.5")), res.RefundAmount.String())
	assert.True(t, res.PenaltyAmount.Equal(decimal.RequireFromString("1666.5")), res.PenaltyAmount.String())
	assert.Equal(t, PolicyModerate, res.Policy)
}

func TestCalculate_SumIsExactForOddAmounts(t *testing.T) {
	for _, amount := range []string{"0.01", "0.03", "99.99", "1234.567"} {
		total := decimal.RequireFromString(amount)
		for _, policy := range []string{"flexible", "moderate", "strict"} {
			for _, lead := range []time.Duration{time.Hour, 48 * time.Hour, 200 * time.Hour} {
				res := Calculate(total, policy, start, start.Add(-lead))
				assert.True(t, res.RefundAmount.Add(res.PenaltyAmount).Equal(total), "%s %s %v", amount, policy, lead)
			}
		}
	}
}

func TestFull(t *testing.T) {
	res := Full(decimal.NewFromInt(80))
	assert.True(t, res.RefundAmount.Equal(decimal.NewFromInt(80)))
	assert.True(t, res.PenaltyAmount.IsZero())
	assert.Equal(t, int64(100), res.RefundPercentage)
}
