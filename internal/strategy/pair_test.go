package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/takt/internal/indicator"
	"github.com/coachpo/takt/internal/ledger"
	"github.com/coachpo/takt/internal/market"
	"github.com/coachpo/takt/internal/schema"
)

var pairEpoch = time.Date(2024, 3, 12, 14, 30, 0, 0, time.UTC)

type signal struct {
	ticker string
	qty    string
}

// pairHarness feeds synchronized bars for two assets through a combined
// ledger and records the signals a pair strategy emits.
type pairHarness struct {
	t         *testing.T
	assetA    *ledger.Ledger
	assetB    *ledger.Ledger
	combined  *ledger.Ledger
	pair      Strategy
	slot      int
	prices    map[string]decimal.Decimal
	purchases []signal
	sales     []signal
}

func newPairHarness(t *testing.T, opts map[string]any) *pairHarness {
	t.Helper()
	reg := NewRegistry()
	RegisterBuiltins(reg)
	pair, err := reg.Create("pair", Spec{Name: "pair-test", Tickers: []string{"A", "B"}, Options: opts})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	assetA, err := market.NewAssetLedger("A")
	if err != nil {
		t.Fatalf("NewAssetLedger: %v", err)
	}
	assetB, err := market.NewAssetLedger("B")
	if err != nil {
		t.Fatalf("NewAssetLedger: %v", err)
	}
	combined, err := market.NewCombinedLedger(map[string]*ledger.Ledger{"A": assetA, "B": assetB}, pair.Tickers())
	if err != nil {
		t.Fatalf("NewCombinedLedger: %v", err)
	}
	if err := pair.Setup(combined); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	return &pairHarness{
		t:        t,
		assetA:   assetA,
		assetB:   assetB,
		combined: combined,
		pair:     pair,
		prices:   make(map[string]decimal.Decimal),
	}
}

func (h *pairHarness) tick(closeA, closeB float64) {
	h.t.Helper()
	h.tickBars(map[string]float64{"A": closeA, "B": closeB})
}

// tickBars runs one tick with bars for a subset of the tickers, so tests can
// leave a gap on one side.
func (h *pairHarness) tickBars(closes map[string]float64) {
	h.t.Helper()
	ts := pairEpoch.Add(time.Duration(h.slot) * time.Minute)
	h.slot++

	assets := map[string]*ledger.Ledger{"A": h.assetA, "B": h.assetB}
	for _, ticker := range []string{"A", "B"} {
		c, ok := closes[ticker]
		if !ok {
			continue
		}
		bar := schema.NewBar(ticker, c, c, c, c, 1, ts, ts.Add(time.Minute))
		if _, err := market.ApplyBar(assets[ticker], &bar); err != nil {
			h.t.Fatalf("ApplyBar %s: %v", ticker, err)
		}
	}
	if err := h.combined.RunTick(); err != nil {
		h.t.Fatalf("RunTick: %v", err)
	}

	ctx := &Context{
		Time:     ts,
		Combined: h.combined,
		Assets:   map[string]*ledger.Ledger{"A": h.assetA, "B": h.assetB},
		Tickers:  []string{"A", "B"},
		PriceFn: func(ticker string) (decimal.Decimal, bool) {
			p, ok := h.prices[ticker]
			return p, ok
		},
		PurchaseFn: func(ticker string, qty decimal.Decimal) {
			h.purchases = append(h.purchases, signal{ticker: ticker, qty: qty.String()})
		},
		SaleFn: func(ticker string, qty decimal.Decimal) {
			h.sales = append(h.sales, signal{ticker: ticker, qty: qty.String()})
		},
	}
	if err := h.pair.OnTick(ctx); err != nil {
		h.t.Fatalf("OnTick: %v", err)
	}
}

func (h *pairHarness) spreads() []float64 {
	var out []float64
	ledger.Each[indicator.Scalar](h.combined, indicator.Spread, func(_ ledger.Entity, v indicator.Scalar) bool {
		out = append(out, float64(v))
		return true
	})
	return out
}

func TestSpreadRowsTrackJointCloses(t *testing.T) {
	h := newPairHarness(t, map[string]any{"horizon": 2, "gamma": 1.0})

	closesA := []float64{10, 11, 12}
	closesB := []float64{5, 6, 7}
	for i := range closesA {
		h.tick(closesA[i], closesB[i])
	}

	spreads := h.spreads()
	if len(spreads) != 3 {
		t.Fatalf("spread rows = %d, want 3", len(spreads))
	}
	for i, s := range spreads {
		if s != 5 {
			t.Fatalf("spread[%d] = %v, want 5", i, s)
		}
	}

	// Spread rows carry the pair's bar timestamps.
	var stamps []time.Time
	ledger.Each[indicator.Scalar](h.combined, indicator.Spread, func(e ledger.Entity, _ indicator.Scalar) bool {
		ts, ok := ledger.Get[time.Time](h.combined, market.KeyTimeStamp, e)
		if !ok {
			t.Fatalf("spread row %d lost its timestamp", e)
		}
		stamps = append(stamps, ts)
		return true
	})
	for i, ts := range stamps {
		want := pairEpoch.Add(time.Duration(i) * time.Minute)
		if !ts.Equal(want) {
			t.Fatalf("spread stamp[%d] = %v, want %v", i, ts, want)
		}
	}
	if len(h.purchases)+len(h.sales) != 0 {
		t.Fatalf("flat spread emitted signals: %v %v", h.purchases, h.sales)
	}
}

func TestSpreadSkipsUnmatchedBars(t *testing.T) {
	h := newPairHarness(t, map[string]any{"horizon": 2, "gamma": 1.0})

	// B misses the middle bar. Spread rows must pair closes by timestamp,
	// never close_A(t1) against close_B(t2).
	h.tickBars(map[string]float64{"A": 10, "B": 5})
	h.tickBars(map[string]float64{"A": 11})
	h.tickBars(map[string]float64{"A": 12, "B": 7})

	spreads := h.spreads()
	if len(spreads) != 2 || spreads[0] != 5 || spreads[1] != 5 {
		t.Fatalf("spreads = %v, want [5 5]", spreads)
	}

	var stamps []time.Time
	ledger.Each[indicator.Scalar](h.combined, indicator.Spread, func(e ledger.Entity, _ indicator.Scalar) bool {
		ts, ok := ledger.Get[time.Time](h.combined, market.KeyTimeStamp, e)
		if !ok {
			t.Fatalf("spread row %d lost its timestamp", e)
		}
		stamps = append(stamps, ts)
		return true
	})
	want := []time.Time{pairEpoch, pairEpoch.Add(2 * time.Minute)}
	if len(stamps) != 2 || !stamps[0].Equal(want[0]) || !stamps[1].Equal(want[1]) {
		t.Fatalf("spread stamps = %v, want %v", stamps, want)
	}
}

func TestSpreadScalesByGamma(t *testing.T) {
	h := newPairHarness(t, map[string]any{"horizon": 2, "gamma": 2.0})
	h.tick(10, 5)
	h.tick(12, 5)
	spreads := h.spreads()
	if len(spreads) != 2 || spreads[0] != 0 || spreads[1] != 2 {
		t.Fatalf("spreads = %v, want [0 2]", spreads)
	}
}

func TestPairEntersOnZScoreCross(t *testing.T) {
	h := newPairHarness(t, map[string]any{
		"horizon":     3,
		"z_threshold": 2.0,
		"quantity":    10.0,
		"gamma":       1.0,
	})
	h.prices["A"] = decimal.NewFromInt(100)
	h.prices["B"] = decimal.NewFromInt(25)

	// Spreads 8, 10, 12: trailing SMA 10, sample stddev 2. B holds at 10.
	for _, closeA := range []float64{18, 20, 22} {
		h.tick(closeA, 10)
	}
	if len(h.purchases)+len(h.sales) != 0 {
		t.Fatalf("signals before the stats warmed up: %v %v", h.purchases, h.sales)
	}

	// New spread 15 scores z = (15-10)/2 = 2.5, above the 2.0 threshold.
	h.tick(25, 10)

	if len(h.purchases) != 1 || h.purchases[0] != (signal{ticker: "A", qty: "10"}) {
		t.Fatalf("purchases = %v, want one Purchase(A, 10)", h.purchases)
	}
	// qty_B = round(10 * 100 * 1 / 25) = 40.
	if len(h.sales) != 1 || h.sales[0] != (signal{ticker: "B", qty: "40"}) {
		t.Fatalf("sales = %v, want one Sale(B, 40)", h.sales)
	}
}

func TestPairHoldsOnePositionAndClosesOnZeroCross(t *testing.T) {
	h := newPairHarness(t, map[string]any{
		"horizon":     3,
		"z_threshold": 2.0,
		"quantity":    10.0,
	})
	h.prices["A"] = decimal.NewFromInt(100)
	h.prices["B"] = decimal.NewFromInt(25)

	for _, closeA := range []float64{18, 20, 22, 25} {
		h.tick(closeA, 10)
	}
	if len(h.purchases) != 1 || len(h.sales) != 1 {
		t.Fatalf("entry signals = %v %v", h.purchases, h.sales)
	}

	// Another extreme spread while the pair is open must not re-enter.
	h.tick(30, 10)
	if len(h.purchases) != 1 || len(h.sales) != 1 {
		t.Fatalf("re-entered while open: %v %v", h.purchases, h.sales)
	}

	// Spread 9 drops z below zero and unwinds exactly the entry legs.
	h.tick(19, 10)
	if len(h.sales) != 2 || h.sales[1] != (signal{ticker: "A", qty: "10"}) {
		t.Fatalf("sales = %v, want closing Sale(A, 10)", h.sales)
	}
	if len(h.purchases) != 2 || h.purchases[1] != (signal{ticker: "B", qty: "40"}) {
		t.Fatalf("purchases = %v, want closing Purchase(B, 40)", h.purchases)
	}
}

func TestPairSignFlipSwapsLegs(t *testing.T) {
	h := newPairHarness(t, map[string]any{
		"horizon":     3,
		"z_threshold": 2.0,
		"quantity":    10.0,
		"sign":        -1.0,
	})
	h.prices["A"] = decimal.NewFromInt(100)
	h.prices["B"] = decimal.NewFromInt(25)

	for _, closeA := range []float64{18, 20, 22, 25} {
		h.tick(closeA, 10)
	}
	if len(h.sales) != 1 || h.sales[0] != (signal{ticker: "A", qty: "10"}) {
		t.Fatalf("sales = %v, want Sale(A, 10) under flipped sign", h.sales)
	}
	if len(h.purchases) != 1 || h.purchases[0] != (signal{ticker: "B", qty: "40"}) {
		t.Fatalf("purchases = %v, want Purchase(B, 40) under flipped sign", h.purchases)
	}
}

func TestPairEntrySkippedWithoutPrices(t *testing.T) {
	h := newPairHarness(t, map[string]any{
		"horizon":     3,
		"z_threshold": 2.0,
	})
	for _, closeA := range []float64{18, 20, 22, 25} {
		h.tick(closeA, 10)
	}
	if len(h.purchases)+len(h.sales) != 0 {
		t.Fatalf("signals without prices: %v %v", h.purchases, h.sales)
	}
}

func TestPairSpecValidation(t *testing.T) {
	reg := NewRegistry()
	RegisterBuiltins(reg)

	cases := []Spec{
		{Name: "one-ticker", Tickers: []string{"A"}},
		{Name: "short-horizon", Tickers: []string{"A", "B"}, Options: map[string]any{"horizon": 1}},
		{Name: "flat-threshold", Tickers: []string{"A", "B"}, Options: map[string]any{"z_threshold": 0.0}},
	}
	for _, spec := range cases {
		if _, err := reg.Create("pair", spec); err == nil {
			t.Fatalf("spec %q should not instantiate", spec.Name)
		}
	}
}
