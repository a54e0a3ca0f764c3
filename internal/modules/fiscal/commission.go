package fiscal

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Commission is the dual-fee split of a base price. Fees keep full precision;
// BuyerTotal and HostAmount are the rounded figures that are charged and paid out.
type Commission struct {
	Base        decimal.Decimal `json:"base"`
	BuyerFee    decimal.Decimal `json:"buyer_fee"`
	HostFee     decimal.Decimal `json:"host_fee"`
	BuyerTotal  decimal.Decimal `json:"buyer_total"`
	HostAmount  decimal.Decimal `json:"host_amount"`
	PlatformFee decimal.Decimal `json:"platform_fee"`
}

type Rates struct {
	BuyerFeePercent decimal.Decimal
	HostFeePercent  decimal.Decimal
}

func NewRates(buyerPercent, hostPercent float64) Rates {
	return Rates{
		BuyerFeePercent: decimal.NewFromFloat(buyerPercent),
		HostFeePercent:  decimal.NewFromFloat(hostPercent),
	}
}

func (r Rates) Split(base decimal.Decimal) Commission {
	buyerFee := base.Mul(r.BuyerFeePercent).Div(hundred)
	hostFee := base.Mul(r.HostFeePercent).Div(hundred)

	buyerTotal := base.Add(buyerFee).Round(2)
	hostAmount := base.Sub(hostFee).Round(2)
	return Commission{
		Base:        base,
		BuyerFee:    buyerFee,
		HostFee:     hostFee,
		BuyerTotal:  buyerTotal,
		HostAmount:  hostAmount,
		PlatformFee: buyerTotal.Sub(hostAmount),
	}
}
