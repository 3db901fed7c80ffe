package broker

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestPerShareFeeMatchesCommissionSchedule(t *testing.T) {
	fees := DefaultFees()

	// 1000 shares at $1: the half-cent per-share charge lands exactly on
	// the 0.5% notional cap.
	fee := fees.Fee(decimal.NewFromInt(1000), decimal.NewFromInt(1))
	if got := fee.String(); got != "5" {
		t.Fatalf("fee for 1000 shares at $1 = %s, want 5", got)
	}

	// Same share count at a higher price stays at half a cent per share,
	// well under the cap.
	fee = fees.Fee(decimal.NewFromInt(1000), decimal.NewFromInt(100))
	if got := fee.String(); got != "5" {
		t.Fatalf("fee for 1000 shares at $100 = %s, want 5", got)
	}

	// Penny stock: the cap binds. 1000 shares at $0.10 would cost $5 per
	// share schedule but caps at 0.5% of $100 notional.
	fee = fees.Fee(decimal.NewFromInt(1000), decimal.NewFromFloat(0.10))
	if got := fee.String(); got != "0.5" {
		t.Fatalf("fee for 1000 shares at $0.10 = %s, want 0.5", got)
	}
}

func TestPerShareFeeIgnoresSign(t *testing.T) {
	fees := DefaultFees()
	long := fees.Fee(decimal.NewFromInt(200), decimal.NewFromInt(50))
	short := fees.Fee(decimal.NewFromInt(-200), decimal.NewFromInt(50))
	if !long.Equal(short) {
		t.Fatalf("fee should not depend on quantity sign: %s vs %s", long, short)
	}
	if !long.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("fee for 200 shares = %s, want 1", long)
	}
}

func TestPerShareFeeDegenerateInputs(t *testing.T) {
	fees := DefaultFees()
	if fee := fees.Fee(decimal.Zero, decimal.NewFromInt(10)); !fee.IsZero() {
		t.Fatalf("zero qty fee = %s, want 0", fee)
	}
	if fee := fees.Fee(decimal.NewFromInt(10), decimal.Zero); !fee.IsZero() {
		t.Fatalf("zero price fee = %s, want 0", fee)
	}
	if fee := (FreeFees{}).Fee(decimal.NewFromInt(10), decimal.NewFromInt(10)); !fee.IsZero() {
		t.Fatalf("free fee = %s, want 0", fee)
	}
}

func TestPerShareFeeVariableAndFixedComponents(t *testing.T) {
	fees := PerShareFee{
		Variable: decimal.NewFromFloat(0.001),
		PerShare: decimal.NewFromFloat(0.01),
		Fixed:    decimal.NewFromInt(2),
	}
	// 100 shares at $20: 100*(20*0.001 + 0.01) + 2 = 100*0.03 + 2 = 5,
	// capped at 0.5% of 2000 = 10, so the schedule price stands.
	fee := fees.Fee(decimal.NewFromInt(100), decimal.NewFromInt(20))
	if got := fee.String(); got != "5" {
		t.Fatalf("fee = %s, want 5", got)
	}
}
