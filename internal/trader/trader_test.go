package trader

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/takt/internal/broker"
	"github.com/coachpo/takt/internal/ledger"
	"github.com/coachpo/takt/internal/schema"
	"github.com/coachpo/takt/internal/strategy"
)

// testStart is a Monday 10:00 UTC, inside the default session.
var testStart = time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

type testStrategy struct {
	name    string
	tickers []string
	onTick  func(ctx *strategy.Context) error
}

func (s *testStrategy) Name() string               { return s.name }
func (s *testStrategy) Tickers() []string          { return s.tickers }
func (s *testStrategy) Setup(*ledger.Ledger) error { return nil }
func (s *testStrategy) OnTick(ctx *strategy.Context) error {
	if s.onTick == nil {
		return nil
	}
	return s.onTick(ctx)
}

// flatBars builds n one-minute bars at a constant price starting at start.
func flatBars(ticker string, price float64, start time.Time, n int) []schema.Bar {
	bars := make([]schema.Bar, 0, n)
	for i := 0; i < n; i++ {
		at := start.Add(time.Duration(i) * time.Minute)
		bars = append(bars, schema.NewBar(ticker, price, price, price, price, 1000, at, at.Add(time.Minute)))
	}
	return bars
}

// rampBars builds n one-minute bars whose price rises by one per slot.
func rampBars(ticker string, base float64, start time.Time, n int) []schema.Bar {
	bars := make([]schema.Bar, 0, n)
	for i := 0; i < n; i++ {
		at := start.Add(time.Duration(i) * time.Minute)
		price := base + float64(i)
		bars = append(bars, schema.NewBar(ticker, price, price, price, price, 1000, at, at.Add(time.Minute)))
	}
	return bars
}

// newHistoricalTrader wires a trader over a fee-free historical broker with
// the given bars for MSFT and one strategy.
func newHistoricalTrader(t *testing.T, s strategy.Strategy, cash int64, bars []schema.Bar, start time.Time) (*Trader, *broker.HistoricalBroker) {
	t.Helper()
	cache := broker.NewDataCache()
	if err := cache.LoadBars("MSFT", time.Minute, bars); err != nil {
		t.Fatalf("load bars: %v", err)
	}
	clock := broker.NewVirtualClock(start)
	hb := broker.NewHistoricalBroker(cache, clock, broker.HistoricalConfig{
		DTime: time.Minute,
		Cash:  decimal.NewFromInt(cash),
		Fees:  broker.FreeFees{},
	})
	tr, err := New(hb, Config{
		Cash:  decimal.NewFromInt(cash),
		Start: start,
		DTime: time.Minute,
	}, WithVirtualClock(clock))
	if err != nil {
		t.Fatalf("new trader: %v", err)
	}
	if s != nil {
		if err := tr.AddStrategy(s, false); err != nil {
			t.Fatalf("add strategy: %v", err)
		}
	}
	return tr, hb
}

func mainCash(t *testing.T, tr *Trader) decimal.Decimal {
	t.Helper()
	cash, err := ledger.SingletonValue[Cash](tr.main, KeyCash)
	if err != nil {
		t.Fatalf("cash singleton: %v", err)
	}
	return cash.Balance
}

func TestBacktestBuysAndSettlesSameTick(t *testing.T) {
	bought := false
	s := &testStrategy{
		name:    "buy-once",
		tickers: []string{"MSFT"},
		onTick: func(ctx *strategy.Context) error {
			if !bought {
				bought = true
				ctx.Purchase("MSFT", decimal.NewFromInt(5))
			}
			return nil
		},
	}
	tr, hb := newHistoricalTrader(t, s, 1000, flatBars("MSFT", 10, testStart, 6), testStart)
	defer tr.Close()

	report, err := tr.Backtest(context.Background(), testStart.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("backtest: %v", err)
	}
	if report.OrdersSubmitted != 1 || report.OrdersFilled != 1 || report.OrdersFailed != 0 {
		t.Fatalf("order counts = %d/%d/%d, want 1/1/0",
			report.OrdersSubmitted, report.OrdersFilled, report.OrdersFailed)
	}
	if got := tr.CurrentPosition("MSFT"); !got.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("position = %s, want 5", got)
	}
	if got := hb.Position("MSFT"); !got.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("broker position = %s, want 5", got)
	}
	if got := mainCash(t, tr); !got.Equal(decimal.NewFromInt(950)) {
		t.Fatalf("cash = %s, want 950", got)
	}

	// A settled entity carries the signal, the order and the fill together.
	settled := 0
	ledger.Each(tr.main, KeyFilled, func(e ledger.Entity, fill Filled) bool {
		settled++
		if !tr.main.Has(KeyOrder, e) || !tr.main.Has(KeyPurchase, e) {
			t.Fatal("filled entity missing its order or signal component")
		}
		if !fill.Qty.Equal(decimal.NewFromInt(5)) || !fill.AvgPrice.Equal(decimal.NewFromInt(10)) {
			t.Fatalf("fill = %s @ %s, want 5 @ 10", fill.Qty, fill.AvgPrice)
		}
		return true
	})
	if settled != 1 {
		t.Fatalf("settled entities = %d, want 1", settled)
	}

	// Flat prices: equity never moves off the opening cash.
	if !report.FinalEquity.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("final equity = %s, want 1000", report.FinalEquity)
	}
}

func TestZeroQuantitySignalSettlesTrivially(t *testing.T) {
	fired := false
	s := &testStrategy{
		name:    "zero-qty",
		tickers: []string{"MSFT"},
		onTick: func(ctx *strategy.Context) error {
			if !fired {
				fired = true
				ctx.Purchase("MSFT", decimal.Zero)
			}
			return nil
		},
	}
	tr, _ := newHistoricalTrader(t, s, 1000, flatBars("MSFT", 10, testStart, 4), testStart)
	defer tr.Close()

	report, err := tr.Backtest(context.Background(), testStart.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("backtest: %v", err)
	}
	if report.OrdersSubmitted != 1 || report.OrdersFilled != 1 {
		t.Fatalf("order counts = %d/%d, want 1/1", report.OrdersSubmitted, report.OrdersFilled)
	}
	if got := tr.CurrentPosition("MSFT"); !got.IsZero() {
		t.Fatalf("position = %s, want 0", got)
	}
	if got := mainCash(t, tr); !got.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("cash = %s, want 1000", got)
	}
}

func TestSellRetriesWithAvailableQty(t *testing.T) {
	sold := false
	s := &testStrategy{
		name:    "oversell",
		tickers: []string{"MSFT"},
		onTick: func(ctx *strategy.Context) error {
			if !sold {
				sold = true
				ctx.Sale("MSFT", decimal.NewFromInt(10))
			}
			return nil
		},
	}
	tr, hb := newHistoricalTrader(t, s, 1000, flatBars("MSFT", 10, testStart, 6), testStart)
	defer tr.Close()
	hb.LimitSellable("MSFT", decimal.NewFromInt(7))

	report, err := tr.Backtest(context.Background(), testStart.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("backtest: %v", err)
	}
	// One signal: the venue rejects 10 reporting 7 available, the resubmission
	// of exactly 7 fills.
	if report.OrdersSubmitted != 1 || report.OrdersFilled != 1 || report.OrdersFailed != 0 {
		t.Fatalf("order counts = %d/%d/%d, want 1/1/0",
			report.OrdersSubmitted, report.OrdersFilled, report.OrdersFailed)
	}
	if got := tr.CurrentPosition("MSFT"); !got.Equal(decimal.NewFromInt(-7)) {
		t.Fatalf("position = %s, want -7", got)
	}
	if got := mainCash(t, tr); !got.Equal(decimal.NewFromInt(1070)) {
		t.Fatalf("cash = %s, want 1070", got)
	}
}

func TestRetryQtyRules(t *testing.T) {
	ten := decimal.NewFromInt(10)

	if got, ok := retryQty(ten, schema.InsufficientQtyMsg(decimal.NewFromInt(7))); !ok || !got.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("available-qty retry = %s/%v, want 7/true", got, ok)
	}
	// Reporting at least the requested amount would loop forever.
	if _, ok := retryQty(ten, schema.InsufficientQtyMsg(decimal.NewFromInt(10))); ok {
		t.Fatal("retry with available >= requested must be terminal")
	}
	if got, ok := retryQty(ten, schema.MsgInsufficientBuyingPower); !ok || !got.Equal(decimal.NewFromInt(9)) {
		t.Fatalf("buying-power retry = %s/%v, want 9/true", got, ok)
	}
	if got, ok := retryQty(decimal.NewFromInt(15), schema.MsgInsufficientBuyingPower); !ok || !got.Equal(decimal.NewFromInt(14)) {
		t.Fatalf("buying-power retry rounds half up, got %s/%v", got, ok)
	}
	if _, ok := retryQty(ten, "order rejected by compliance"); ok {
		t.Fatal("unrecognized rejection must be terminal")
	}
}

func TestPurchasePowerSnapshotsTickEntry(t *testing.T) {
	var readings []decimal.Decimal
	tick := 0
	s := &testStrategy{
		name:    "pp-probe",
		tickers: []string{"MSFT"},
		onTick: func(ctx *strategy.Context) error {
			readings = append(readings, ctx.PurchasePower())
			if tick == 0 {
				ctx.Purchase("MSFT", decimal.NewFromInt(5))
			}
			tick++
			return nil
		},
	}
	tr, _ := newHistoricalTrader(t, s, 1000, flatBars("MSFT", 10, testStart, 5), testStart)
	defer tr.Close()

	if _, err := tr.Backtest(context.Background(), testStart.Add(2*time.Minute)); err != nil {
		t.Fatalf("backtest: %v", err)
	}
	if len(readings) != 3 {
		t.Fatalf("readings = %d, want 3", len(readings))
	}
	// Tick one reads the opening cash; the buy settles within that tick, so
	// later ticks snapshot the reduced balance.
	if !readings[0].Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("tick 1 purchase power = %s, want 1000", readings[0])
	}
	if !readings[1].Equal(decimal.NewFromInt(950)) || !readings[2].Equal(decimal.NewFromInt(950)) {
		t.Fatalf("later purchase power = %s, %s, want 950", readings[1], readings[2])
	}
}

func TestBacktestIsDeterministic(t *testing.T) {
	run := func() *Report {
		tick := 0
		s := &testStrategy{
			name:    "alternator",
			tickers: []string{"MSFT"},
			onTick: func(ctx *strategy.Context) error {
				if tick%2 == 0 {
					ctx.Purchase("MSFT", decimal.NewFromInt(2))
				} else {
					ctx.Sale("MSFT", decimal.NewFromInt(1))
				}
				tick++
				return nil
			},
		}
		tr, _ := newHistoricalTrader(t, s, 10_000, rampBars("MSFT", 10, testStart, 10), testStart)
		defer tr.Close()
		report, err := tr.Backtest(context.Background(), testStart.Add(6*time.Minute))
		if err != nil {
			t.Fatalf("backtest: %v", err)
		}
		return report
	}

	a, b := run(), run()
	if a.Ticks != b.Ticks || a.OrdersSubmitted != b.OrdersSubmitted || a.OrdersFilled != b.OrdersFilled {
		t.Fatalf("runs diverged: %+v vs %+v", a, b)
	}
	if !a.Volume.Equal(b.Volume) || !a.Fees.Equal(b.Fees) || !a.FinalEquity.Equal(b.FinalEquity) {
		t.Fatalf("totals diverged: volume %s/%s equity %s/%s",
			a.Volume, b.Volume, a.FinalEquity, b.FinalEquity)
	}
	if len(a.Snapshots) != len(b.Snapshots) {
		t.Fatalf("snapshot counts diverged: %d vs %d", len(a.Snapshots), len(b.Snapshots))
	}
	for i := range a.Snapshots {
		sa, sb := a.Snapshots[i], b.Snapshots[i]
		if !sa.Time.Equal(sb.Time) || !sa.Cash.Equal(sb.Cash) || !sa.Equity.Equal(sb.Equity) {
			t.Fatalf("snapshot %d diverged: %+v vs %+v", i, sa, sb)
		}
	}
}

func TestBacktestCrossesDayBoundary(t *testing.T) {
	lateStart := time.Date(2024, 5, 6, 23, 58, 0, 0, time.UTC)
	bought := false
	s := &testStrategy{
		name:    "overnight",
		tickers: []string{"MSFT"},
		onTick: func(ctx *strategy.Context) error {
			if !bought {
				bought = true
				ctx.Purchase("MSFT", decimal.NewFromInt(3))
			}
			return nil
		},
	}
	tr, _ := newHistoricalTrader(t, s, 1000, flatBars("MSFT", 10, lateStart, 8), lateStart)
	defer tr.Close()

	report, err := tr.Backtest(context.Background(), lateStart.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("backtest: %v", err)
	}
	// The position survives the midnight close; only pending state resets.
	if got := tr.CurrentPosition("MSFT"); !got.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("position after day close = %s, want 3", got)
	}
	if report.Ticks != 6 {
		t.Fatalf("ticks = %d, want 6", report.Ticks)
	}
}

type probeSystem struct {
	name string
	keys []ledger.Key
}

func (p *probeSystem) Name() string                { return p.name }
func (p *probeSystem) Components() []ledger.Key    { return p.keys }
func (p *probeSystem) Update(*ledger.Ledger) error { return nil }

func TestDayCloseResetsSignalsAndMarks(t *testing.T) {
	tr, _ := newHistoricalTrader(t, nil, 1000, flatBars("MSFT", 10, testStart, 2), testStart)
	defer tr.Close()

	probe := &probeSystem{name: "probe", keys: []ledger.Key{KeySnapshot}}
	if got := tr.main.NewEntities(probe); len(got) != 0 {
		t.Fatalf("fresh ledger reported %d new snapshots", len(got))
	}

	snap := tr.main.NewEntity(ledger.With(KeySnapshot, PortfolioSnapshot{Time: testStart}))
	stale := tr.main.NewEntity(ledger.With(KeyPurchase, Signal{Ticker: "MSFT", Qty: decimal.NewFromInt(1)}))

	nextDay := testStart.Add(24 * time.Hour)
	if err := ledger.UpdateSingleton(tr.main, KeyClock, func(c *Clock) { c.Time = nextDay }); err != nil {
		t.Fatalf("advance clock: %v", err)
	}
	dc := &dayCloser{t: tr, prev: testStart}
	if err := dc.Update(tr.main); err != nil {
		t.Fatalf("day close: %v", err)
	}

	if tr.main.Has(KeyPurchase, stale) {
		t.Fatal("unsubmitted signal survived the day close")
	}
	if tr.main.NewEntities(probe) != nil {
		t.Fatal("day close did not fast-forward the probe's marks")
	}
	if !tr.main.Has(KeySnapshot, snap) {
		t.Fatal("day close must not delete settled rows")
	}
}

func TestBacktestRequiresVirtualClock(t *testing.T) {
	cache := broker.NewDataCache()
	clock := broker.NewVirtualClock(testStart)
	hb := broker.NewHistoricalBroker(cache, clock, broker.HistoricalConfig{DTime: time.Minute})
	tr, err := New(hb, Config{Cash: decimal.NewFromInt(100), Start: testStart, DTime: time.Minute})
	if err != nil {
		t.Fatalf("new trader: %v", err)
	}
	defer tr.Close()
	if _, err := tr.Backtest(context.Background(), testStart.Add(time.Minute)); err == nil {
		t.Fatal("backtest without a virtual clock must fail")
	}
}

func TestAddStrategyRejectsEmptyTickers(t *testing.T) {
	tr, _ := newHistoricalTrader(t, nil, 1000, flatBars("MSFT", 10, testStart, 2), testStart)
	defer tr.Close()
	s := &testStrategy{name: "blank"}
	if err := tr.AddStrategy(s, false); err == nil {
		t.Fatal("strategy without tickers must be rejected")
	}
}
