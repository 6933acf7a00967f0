// Package money implements the fixed-point arithmetic layer for the market
// engine. Monetary quantities cross every package boundary as int64 minor
// units (cents); intermediate multiplication and division run on
// shopspring/decimal at full precision and are rounded half-up exactly once,
// at the point the value is persisted or returned.
//
// No other package may perform floating-point money math, and no caller may
// re-round a value produced here: every function takes raw integer inputs
// and rounds at most once on its way out.
package money

import "github.com/shopspring/decimal"

// RoundHalfUp rounds a decimal to whole minor units, half away from zero.
// All amounts in this system are non-negative, so half away from zero and
// half-up coincide.
func RoundHalfUp(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}

// SharePrice computes market_cap / total_shares in cents, rounded half-up
// once. A team with zero shares issued is a legitimate state, not an error:
// the fallback price (typically the team's launch price) is returned.
func SharePrice(marketCapCents, totalShares, fallbackCents int64) int64 {
	if totalShares == 0 {
		return fallbackCents
	}
	price := decimal.NewFromInt(marketCapCents).Div(decimal.NewFromInt(totalShares))
	return RoundHalfUp(price)
}

// TransferAmount computes round(loserCap * rate), the cap transferred from
// the losing to the winning team on settlement. One rounding.
func TransferAmount(loserCapCents int64, rate decimal.Decimal) int64 {
	return RoundHalfUp(decimal.NewFromInt(loserCapCents).Mul(rate))
}

// AvgCost returns the raw (unrounded) average cost per share. Zero when no
// shares are held. Callers that persist or display the value round it once
// with RoundHalfUp; callers that keep computing pass the raw decimal on.
func AvgCost(investedCents, quantity int64) decimal.Decimal {
	if quantity == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(investedCents).Div(decimal.NewFromInt(quantity))
}

// CostOfShares values quantity shares at the raw per-share cost, rounded
// half-up once. Used for the cost basis released by a sale.
func CostOfShares(avgCost decimal.Decimal, quantity int64) int64 {
	return RoundHalfUp(avgCost.Mul(decimal.NewFromInt(quantity)))
}
