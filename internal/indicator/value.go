// Package indicator derives analytic columns from market data. Derived
// columns are interned as ledger keys carrying their own structure (kind,
// horizon, source); the solver in this package expands a requested key into
// the chain of calculator systems that keeps it populated.
package indicator

import "math"

// Value is the capability set aggregate calculators require of a column
// element. Implementations are small value types; every method returns a new
// value. Components without these capabilities (orders, positions) cannot be
// fed to aggregate calculators.
type Value[T any] interface {
	Zero() T
	Add(T) T
	Scale(float64) T
	Square() T
	Sqrt() T
}

// Scalar is a one-dimensional indicator value. Bar fields and most derived
// indicators are scalars.
type Scalar float64

// Zero implements Value.
func (Scalar) Zero() Scalar { return 0 }

// Add implements Value.
func (s Scalar) Add(o Scalar) Scalar { return s + o }

// Scale implements Value.
func (s Scalar) Scale(f float64) Scalar { return Scalar(float64(s) * f) }

// Square implements Value.
func (s Scalar) Square() Scalar { return s * s }

// Sqrt implements Value. Small negative inputs from float cancellation clamp
// to zero.
func (s Scalar) Sqrt() Scalar {
	if s <= 0 {
		return 0
	}
	return Scalar(math.Sqrt(float64(s)))
}

// Gain splits a change into its positive and negative parts; Down is zero or
// negative. The relative-strength chain aggregates gains with EMA.
type Gain struct {
	Up   float64
	Down float64
}

// Zero implements Value.
func (Gain) Zero() Gain { return Gain{} }

// Add implements Value.
func (g Gain) Add(o Gain) Gain { return Gain{Up: g.Up + o.Up, Down: g.Down + o.Down} }

// Scale implements Value.
func (g Gain) Scale(f float64) Gain { return Gain{Up: g.Up * f, Down: g.Down * f} }

// Square implements Value.
func (g Gain) Square() Gain { return Gain{Up: g.Up * g.Up, Down: g.Down * g.Down} }

// Sqrt implements Value.
func (g Gain) Sqrt() Gain {
	return Gain{Up: clampSqrt(g.Up), Down: clampSqrt(g.Down)}
}

// Band is a Bollinger channel around a moving average.
type Band struct {
	Up   float64
	Down float64
}

// Zero implements Value.
func (Band) Zero() Band { return Band{} }

// Add implements Value.
func (b Band) Add(o Band) Band { return Band{Up: b.Up + o.Up, Down: b.Down + o.Down} }

// Scale implements Value.
func (b Band) Scale(f float64) Band { return Band{Up: b.Up * f, Down: b.Down * f} }

// Square implements Value.
func (b Band) Square() Band { return Band{Up: b.Up * b.Up, Down: b.Down * b.Down} }

// Sqrt implements Value.
func (b Band) Sqrt() Band {
	return Band{Up: clampSqrt(b.Up), Down: clampSqrt(b.Down)}
}

func clampSqrt(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}
