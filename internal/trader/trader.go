package trader

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/takt/errs"
	"github.com/coachpo/takt/internal/broker"
	"github.com/coachpo/takt/internal/ledger"
	"github.com/coachpo/takt/internal/market"
	"github.com/coachpo/takt/internal/observability"
	"github.com/coachpo/takt/internal/risk"
	"github.com/coachpo/takt/internal/schema"
	"github.com/coachpo/takt/internal/strategy"
	"github.com/coachpo/takt/lib/async"
)

// Config sizes a trader.
type Config struct {
	// Cash is the opening account balance.
	Cash decimal.Decimal
	// Start initializes the clock. Zero means the broker's current time.
	Start time.Time
	// DTime is the tick interval and the timeframe bars are consumed at.
	// Zero defaults to one minute.
	DTime time.Duration
	// Hours bounds the trading session for only-day strategies and day
	// closes. The zero value selects market.DefaultHours.
	Hours market.Hours
	// Risk configures the pre-trade checks on outgoing orders.
	Risk risk.Limits
	// IndicatorWorkers, when above one, runs per-asset indicator stages on a
	// bounded worker pool. Live traders with many assets use it; historical
	// runs stay sequential for determinism.
	IndicatorWorkers int
}

// bound is one strategy wired into the trader.
type bound struct {
	strat    strategy.Strategy
	combined *ledger.Ledger
	tickers  []string
	onlyDay  bool
}

// Trader drives the main ledger through the stage pipeline against a broker.
type Trader struct {
	broker  broker.Broker
	virtual *broker.VirtualClock
	cfg     Config

	// mu is the single ledger lock. The main task holds it for a whole
	// tick; the data and trading tasks take it briefly per insertion.
	mu         sync.Mutex
	main       *ledger.Ledger
	assets     map[string]*ledger.Ledger
	strategies []*bound
	inbox      []*schema.Order

	risk    *risk.Manager
	metrics *instruments
	pool    *async.Pool
	report  *Report

	// tickCtx is the context of the tick in flight; systems read it
	// instead of threading a parameter through the stage interface.
	tickCtx context.Context

	newData  chan struct{}
	cancel   context.CancelFunc
	stopMain atomic.Bool
	stopData atomic.Bool
	stopTrad atomic.Bool

	errMu    sync.Mutex
	firstErr error
}

// New builds a trader over a broker. Historical brokers must share their
// virtual clock through WithVirtualClock so the timer can advance it.
func New(b broker.Broker, cfg Config, opts ...Option) (*Trader, error) {
	if b == nil {
		return nil, errs.New("trader.new", errs.CodeInvalid, errs.WithMessage("broker required"))
	}
	if cfg.DTime <= 0 {
		cfg.DTime = time.Minute
	}
	if cfg.Hours.Close == 0 {
		cfg.Hours = market.DefaultHours()
	}
	start := cfg.Start
	if start.IsZero() {
		start = b.CurrentTime()
	}

	t := &Trader{
		broker:  b,
		cfg:     cfg,
		main:    ledger.New("main"),
		assets:  make(map[string]*ledger.Ledger),
		risk:    risk.NewManager(cfg.Risk),
		metrics: newInstruments(),
		report:  newReport(cfg.Cash, start),
		newData: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(t)
	}

	if _, err := ledger.SetSingleton(t.main, KeyClock, Clock{Time: start, DTime: cfg.DTime}); err != nil {
		return nil, err
	}
	if _, err := ledger.SetSingleton(t.main, KeyCash, Cash{Balance: cfg.Cash}); err != nil {
		return nil, err
	}
	if _, err := ledger.SetSingleton(t.main, KeyPurchasePower, PurchasePower{Cash: cfg.Cash}); err != nil {
		return nil, err
	}

	for _, key := range []ledger.Key{
		market.KeyTimeStamp, KeyPosition, KeyPurchase, KeySale,
		KeyOrder, KeyFilled, KeySnapshot, KeyStrategy,
	} {
		if err := t.main.EnsureColumn(key); err != nil {
			return nil, err
		}
	}

	if cfg.IndicatorWorkers > 1 {
		pool, err := async.NewPool(cfg.IndicatorWorkers, cfg.IndicatorWorkers)
		if err != nil {
			return nil, err
		}
		t.pool = pool
	}

	t.main.AddSystem("main", &strategyRunner{t: t})
	t.main.AddSystem("main", &purchaser{t: t})
	t.main.AddSystem("main", &seller{t: t})
	t.main.AddSystem("main", &filler{t: t})
	t.main.AddSystem("main", &snapShotter{t: t})
	t.main.AddSystem("main", &timer{t: t})
	t.main.AddSystem("main", &dayCloser{t: t, prev: start})
	return t, nil
}

// Option tweaks trader construction.
type Option func(*Trader)

// WithVirtualClock hands the trader the clock its historical broker fills
// against, switching the timer to simulated time.
func WithVirtualClock(clock *broker.VirtualClock) Option {
	return func(t *Trader) { t.virtual = clock }
}

// AddStrategy wires a strategy into the trader: asset ledgers for its
// tickers, the combined ledger, the strategy's own setup, and a descriptor
// row in the main ledger.
func (t *Trader) AddStrategy(s strategy.Strategy, onlyDay bool) error {
	tickers := s.Tickers()
	if len(tickers) == 0 {
		return errs.New("trader.add_strategy", errs.CodeInvalid,
			errs.WithMessage("strategy "+s.Name()+" observes no tickers"))
	}
	for _, ticker := range tickers {
		if _, ok := t.assets[ticker]; ok {
			continue
		}
		asset, err := market.NewAssetLedger(ticker)
		if err != nil {
			return err
		}
		t.assets[ticker] = asset
		t.ensurePosition(ticker)
	}
	combined, err := market.NewCombinedLedger(t.assets, tickers)
	if err != nil {
		return err
	}
	if err := s.Setup(combined); err != nil {
		return err
	}
	t.main.NewEntity(
		ledger.With(market.KeyTimeStamp, t.now()),
		ledger.With(KeyStrategy, StrategyInfo{
			Name:    s.Name(),
			Tickers: append([]string(nil), tickers...),
			OnlyDay: onlyDay,
		}),
	)
	t.strategies = append(t.strategies, &bound{
		strat:    s,
		combined: combined,
		tickers:  append([]string(nil), tickers...),
		onlyDay:  onlyDay,
	})
	return nil
}

// Asset exposes the per-ticker ledger, mainly for tests and reporting.
func (t *Trader) Asset(ticker string) *ledger.Ledger { return t.assets[ticker] }

// Main exposes the main ledger.
func (t *Trader) Main() *ledger.Ledger { return t.main }

// CurrentPosition returns the held quantity for a ticker, zero when no
// position row exists.
func (t *Trader) CurrentPosition(ticker string) decimal.Decimal {
	qty := decimal.Zero
	ledger.Each(t.main, KeyPosition, func(_ ledger.Entity, p Position) bool {
		if p.Ticker == ticker {
			qty = p.Quantity
			return false
		}
		return true
	})
	return qty
}

// ensurePosition guarantees the one position row per observed ticker.
func (t *Trader) ensurePosition(ticker string) {
	found := false
	ledger.Each(t.main, KeyPosition, func(_ ledger.Entity, p Position) bool {
		if p.Ticker == ticker {
			found = true
			return false
		}
		return true
	})
	if found {
		return
	}
	t.main.NewEntity(
		ledger.With(market.KeyTimeStamp, t.now()),
		ledger.With(KeyPosition, Position{Ticker: ticker, Quantity: decimal.Zero}),
	)
}

func (t *Trader) adjustPosition(ticker string, delta decimal.Decimal) {
	if delta.IsZero() {
		return
	}
	done := false
	ledger.Each(t.main, KeyPosition, func(e ledger.Entity, p Position) bool {
		if p.Ticker != ticker {
			return true
		}
		p.Quantity = p.Quantity.Add(delta)
		ledger.Set(t.main, KeyPosition, e, p)
		done = true
		return false
	})
	if !done {
		t.main.NewEntity(
			ledger.With(market.KeyTimeStamp, t.now()),
			ledger.With(KeyPosition, Position{Ticker: ticker, Quantity: delta}),
		)
	}
}

// now reads the ledger clock, falling back to the broker before the first
// tick initializes it.
func (t *Trader) now() time.Time {
	clk, err := ledger.SingletonValue[Clock](t.main, KeyClock)
	if err != nil {
		return t.broker.CurrentTime()
	}
	return clk.Time
}

// runTick runs one full pass of the pipeline. The caller holds the ledger
// lock in live mode; historical runs are single-threaded.
func (t *Trader) runTick(ctx context.Context) error {
	began := time.Now()
	t.tickCtx = ctx

	// Purchase power snapshots cash before any system runs.
	cash, err := ledger.SingletonValue[Cash](t.main, KeyCash)
	if err != nil {
		return err
	}
	if err := ledger.UpdateSingleton(t.main, KeyPurchasePower, func(pp *PurchasePower) {
		pp.Cash = cash.Balance
	}); err != nil {
		return err
	}

	if err := t.runIndicatorStages(ctx); err != nil {
		return err
	}
	if err := t.main.RunTick(); err != nil {
		return err
	}

	t.report.Ticks++
	t.metrics.tick(ctx, time.Since(began))
	return nil
}

// runIndicatorStages settles every asset ledger's derived columns. With a
// worker pool the assets run in parallel; each ledger is still touched by
// exactly one goroutine.
func (t *Trader) runIndicatorStages(ctx context.Context) error {
	if t.pool == nil || len(t.assets) < 2 {
		for _, asset := range t.assets {
			if err := asset.RunTick(); err != nil {
				return err
			}
		}
		return nil
	}
	tasks := make([]async.Task, 0, len(t.assets))
	for _, asset := range t.assets {
		asset := asset
		tasks = append(tasks, func(context.Context) error { return asset.RunTick() })
	}
	return t.pool.All(ctx, tasks...)
}

// Backtest replays cached bars from the clock's current time through stop,
// one tick per DTime slot, and returns the accumulated report. Identical
// inputs produce identical reports.
func (t *Trader) Backtest(ctx context.Context, stop time.Time) (*Report, error) {
	if t.virtual == nil {
		return nil, errs.New("trader.backtest", errs.CodeInvalid,
			errs.WithMessage("backtest requires a virtual clock"))
	}
	for now := t.now(); !now.After(stop); now = t.now() {
		select {
		case <-ctx.Done():
			return t.report, ctx.Err()
		default:
		}
		if err := t.ingestSlot(now); err != nil {
			return t.report, err
		}
		if err := t.runTick(ctx); err != nil {
			return t.report, err
		}
		if !t.now().After(now) {
			return t.report, errs.New("trader.backtest", errs.CodeInternal,
				errs.WithMessage("clock failed to advance"))
		}
	}
	t.report.finish()
	observability.Log().Info("backtest finished",
		observability.Int("ticks", t.report.Ticks),
		observability.String("net_profit", t.report.NetProfit.String()))
	return t.report, nil
}

// ingestSlot appends the bar opening exactly at the slot time, per asset.
// Slots without a bar (closed market, missing data) ingest nothing.
func (t *Trader) ingestSlot(now time.Time) error {
	for ticker, asset := range t.assets {
		bars, err := t.broker.Bars(ticker, t.cfg.DTime, now, now)
		if err != nil {
			return err
		}
		for i := range bars {
			if !bars[i].OpenTime.Equal(now) {
				continue
			}
			if _, err := market.ApplyBar(asset, &bars[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// Report returns the accumulated run statistics.
func (t *Trader) Report() *Report {
	t.report.finish()
	return t.report
}

// Close releases pooled resources. Safe after Stop.
func (t *Trader) Close() {
	if t.pool != nil {
		t.pool.Close()
	}
}
