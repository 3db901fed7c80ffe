package broker

import "github.com/shopspring/decimal"

// FeeModel evaluates trading fees for executed fills.
type FeeModel interface {
	Fee(qty, price decimal.Decimal) decimal.Decimal
}

// feeCapRate bounds the total fee at half a percent of fill notional.
var feeCapRate = decimal.NewFromFloat(0.005)

// PerShareFee charges per-share commissions in the style of US equity
// brokers. The fee for a fill is
//
//	|qty| * (price*Variable + PerShare) + Fixed
//
// capped at 0.5% of the fill notional.
type PerShareFee struct {
	Variable decimal.Decimal // fraction of notional charged per share
	PerShare decimal.Decimal // currency amount charged per share
	Fixed    decimal.Decimal // flat amount charged per fill
}

// DefaultFees returns the stock commission schedule: half a cent per share,
// no variable or fixed component.
func DefaultFees() PerShareFee {
	return PerShareFee{PerShare: decimal.NewFromFloat(0.005)}
}

// Fee implements FeeModel.
func (f PerShareFee) Fee(qty, price decimal.Decimal) decimal.Decimal {
	qty = qty.Abs()
	if qty.IsZero() || price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	fee := qty.Mul(price.Mul(f.Variable).Add(f.PerShare)).Add(f.Fixed)
	if capped := qty.Mul(price).Mul(feeCapRate); fee.GreaterThan(capped) {
		fee = capped
	}
	if fee.IsNegative() {
		return decimal.Zero
	}
	return fee
}

// FreeFees charges nothing. Useful for tests and fee-free venues.
type FreeFees struct{}

// Fee implements FeeModel.
func (FreeFees) Fee(_, _ decimal.Decimal) decimal.Decimal { return decimal.Zero }
