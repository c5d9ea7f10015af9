package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExchangeRate is a buy/sell pair supplied by the external rate provider.
type ExchangeRate struct {
	Buy  decimal.Decimal `json:"buy"`
	Sell decimal.Decimal `json:"sell"`
	AsOf time.Time       `json:"as_of"`
}

// RateFor picks the side of the pair that applies to a direction.
func (r ExchangeRate) RateFor(d Direction) decimal.Decimal {
	if d == DirectionBuy {
		return r.Buy
	}
	return r.Sell
}

// ComputeTargetAmount prices a source amount through the rate pair. The result
// is truncated to the target currency's minor unit so the conversion never
// manufactures value.
func ComputeTargetAmount(sourceAmount decimal.Decimal, d Direction, rate ExchangeRate, target Currency) decimal.Decimal {
	return sourceAmount.Mul(rate.RateFor(d)).Truncate(target.MinorUnits())
}
