package risk

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/takt/errs"
	"github.com/coachpo/takt/internal/schema"
)

func checkReq(qty string) *schema.OrderRequest {
	return &schema.OrderRequest{
		Symbol:      "MSFT",
		Qty:         decimal.RequireFromString(qty),
		Side:        schema.SideBuy,
		Type:        schema.OrderMarket,
		TimeInForce: schema.TIFDay,
	}
}

func TestCheckOrderThrottles(t *testing.T) {
	manager := NewManager(Limits{OrderRate: 5})

	// The first order passes immediately; with burst one, a second order
	// inside the same window has to wait and trips the deadline.
	if err := manager.CheckOrder(context.Background(), checkReq("1"), decimal.Zero); err != nil {
		t.Fatalf("first order should pass: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := manager.CheckOrder(ctx, checkReq("1"), decimal.Zero); errs.CodeOf(err) != errs.CodeUnavailable {
		t.Fatalf("throttled order error = %v", err)
	}
}

func TestUnlimitedAdmitsBursts(t *testing.T) {
	manager := NewManager(Unlimited())
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	for i := 0; i < 100; i++ {
		if err := manager.CheckOrder(ctx, checkReq("1"), decimal.Zero); err != nil {
			t.Fatalf("order %d rejected: %v", i+1, err)
		}
	}
}

func TestCheckOrderCapsQtyAndNotional(t *testing.T) {
	manager := NewManager(Limits{
		MaxOrderQty:      decimal.NewFromInt(10),
		MaxOrderNotional: decimal.NewFromInt(500),
	})
	ctx := context.Background()

	if err := manager.CheckOrder(ctx, checkReq("11"), decimal.Zero); errs.CodeOf(err) != errs.CodeExhausted {
		t.Fatalf("oversized qty error = %v", err)
	}
	if err := manager.CheckOrder(ctx, checkReq("10"), decimal.NewFromInt(51)); errs.CodeOf(err) != errs.CodeExhausted {
		t.Fatalf("oversized notional error = %v", err)
	}
	if err := manager.CheckOrder(ctx, checkReq("10"), decimal.NewFromInt(50)); err != nil {
		t.Fatalf("in-bounds order rejected: %v", err)
	}
	// Without a reference price the notional cap cannot apply.
	if err := manager.CheckOrder(ctx, checkReq("10"), decimal.Zero); err != nil {
		t.Fatalf("priceless order rejected: %v", err)
	}
}
