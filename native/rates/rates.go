// Package rates holds the pure conversion arithmetic between points,
// currency, crypto units and staking yield. Inputs are expected to be
// non-negative; callers validate amounts before converting.
package rates

import (
	"github.com/shopspring/decimal"
)

var (
	// DefaultRate is the currency value of one point (4 points = 1 unit).
	DefaultRate = decimal.RequireFromString("0.25")
	// LiquidityRate is the cash paid per point by the instant liquidity desk.
	LiquidityRate = decimal.RequireFromString("0.23")
	// LiquidityFee is the flat processing fee charged per liquidity payout.
	LiquidityFee = decimal.NewFromInt(50)

	hundred = decimal.NewFromInt(100)
)

// PointsToCurrency returns points × rate.
func PointsToCurrency(points int64, rate decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(points).Mul(rate)
}

// CurrencyToPoints is the floor-rounded inverse of PointsToCurrency. A
// non-positive rate yields zero.
func CurrencyToPoints(amount, rate decimal.Decimal) int64 {
	if !rate.IsPositive() {
		return 0
	}
	return amount.Div(rate).Floor().IntPart()
}

// PointsToCrypto returns points / pointsPerUnit.
func PointsToCrypto(points int64, pointsPerUnit decimal.Decimal) decimal.Decimal {
	if !pointsPerUnit.IsPositive() {
		return decimal.Zero
	}
	return decimal.NewFromInt(points).DivRound(pointsPerUnit, 8)
}

// CryptoToCurrency returns amount × unitPrice.
func CryptoToCurrency(amount, unitPrice decimal.Decimal) decimal.Decimal {
	return amount.Mul(unitPrice)
}

// StakingProjection returns floor(principal × apyPercent / 100).
func StakingProjection(principal int64, apyPercent decimal.Decimal) int64 {
	return decimal.NewFromInt(principal).Mul(apyPercent).Div(hundred).Floor().IntPart()
}

// PoolValue returns floor(totalPoints × multiplier).
func PoolValue(totalPoints int64, multiplier decimal.Decimal) int64 {
	return decimal.NewFromInt(totalPoints).Mul(multiplier).Floor().IntPart()
}

// PoolBonus is the extra value the multiplier adds on top of the pooled points.
func PoolBonus(totalPoints int64, multiplier decimal.Decimal) int64 {
	return PoolValue(totalPoints, multiplier) - totalPoints
}

// LiquidityOffer is the cash-out quote for a number of points.
type LiquidityOffer struct {
	Points        int64           `json:"points"`
	CashAmount    decimal.Decimal `json:"cashAmount"`
	ExchangeRate  decimal.Decimal `json:"exchangeRate"`
	ProcessingFee decimal.Decimal `json:"processingFee"`
	NetAmount     decimal.Decimal `json:"netAmount"`
}

// Liquidity quotes points × rate − fee, never below zero.
func Liquidity(points int64, rate, fee decimal.Decimal) LiquidityOffer {
	cash := PointsToCurrency(points, rate)
	net := cash.Sub(fee)
	if net.IsNegative() {
		net = decimal.Zero
	}
	return LiquidityOffer{
		Points:        points,
		CashAmount:    cash,
		ExchangeRate:  rate,
		ProcessingFee: fee,
		NetAmount:     net,
	}
}
