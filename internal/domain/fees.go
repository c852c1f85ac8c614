package domain

import "github.com/shopspring/decimal"

var (
	spotFeeRate    = decimal.RequireFromString("0.001")
	futuresFeeRate = decimal.RequireFromString("0.0002")
)

const feePrecision = 8

// SpotTradingFee is 0.1% of the notional, rounded to 8 decimals.
func SpotTradingFee(quantity, price decimal.Decimal) decimal.Decimal {
	return quantity.Mul(price).Mul(spotFeeRate).Round(feePrecision)
}

// FuturesFee is 0.02% of the position value, rounded to 8 decimals. It is
// charged both when a position opens and when it closes.
func FuturesFee(quantity, price decimal.Decimal) decimal.Decimal {
	return quantity.Mul(price).Mul(futuresFeeRate).Round(feePrecision)
}

// EstimatedFee picks the fee schedule that applies to the order side.
func EstimatedFee(side Side, quantity, price decimal.Decimal) decimal.Decimal {
	if side.MarketType() == MarketTypeFutures {
		return FuturesFee(quantity, price)
	}
	return SpotTradingFee(quantity, price)
}
