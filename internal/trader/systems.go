package trader

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coachpo/takt/internal/ledger"
	"github.com/coachpo/takt/internal/market"
	"github.com/coachpo/takt/internal/observability"
	"github.com/coachpo/takt/internal/schema"
	"github.com/coachpo/takt/internal/strategy"
)

// The main stage in execution order: strategyRunner, purchaser, seller,
// filler, snapShotter, timer, dayCloser. Signals emitted by a strategy are
// submitted, filled and valued within the same tick.

type strategyRunner struct{ t *Trader }

func (s *strategyRunner) Name() string             { return "strategy_runner" }
func (s *strategyRunner) Components() []ledger.Key { return []ledger.Key{KeyStrategy} }

func (s *strategyRunner) Update(*ledger.Ledger) error {
	t := s.t
	now := t.now()
	for _, b := range t.strategies {
		if b.onlyDay && !t.cfg.Hours.InSession(now) {
			continue
		}
		// Spread and indicator stages of the combined ledger settle first
		// so the strategy scores a fully derived view.
		if err := b.combined.RunTick(); err != nil {
			return err
		}
		ctx := t.strategyContext(b, now)
		if err := b.strat.OnTick(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (t *Trader) strategyContext(b *bound, now time.Time) *strategy.Context {
	assets := make(map[string]*ledger.Ledger, len(b.tickers))
	for _, ticker := range b.tickers {
		if asset, ok := t.assets[ticker]; ok {
			assets[ticker] = asset
		}
	}
	return &strategy.Context{
		Time:       now,
		Combined:   b.combined,
		Assets:     assets,
		Tickers:    append([]string(nil), b.tickers...),
		PriceFn:    t.broker.CurrentPrice,
		PositionFn: t.CurrentPosition,
		PurchasePowerFn: func() decimal.Decimal {
			pp, err := ledger.SingletonValue[PurchasePower](t.main, KeyPurchasePower)
			if err != nil {
				return decimal.Zero
			}
			return pp.Cash
		},
		PurchaseFn: func(ticker string, qty decimal.Decimal) {
			t.main.NewEntity(
				ledger.With(market.KeyTimeStamp, now),
				ledger.With(KeyPurchase, Signal{Ticker: ticker, Qty: qty}),
			)
		},
		SaleFn: func(ticker string, qty decimal.Decimal) {
			t.main.NewEntity(
				ledger.With(market.KeyTimeStamp, now),
				ledger.With(KeySale, Signal{Ticker: ticker, Qty: qty}),
			)
		},
	}
}

type purchaser struct{ t *Trader }

func (p *purchaser) Name() string             { return "purchaser" }
func (p *purchaser) Components() []ledger.Key { return []ledger.Key{KeyPurchase} }

func (p *purchaser) Update(l *ledger.Ledger) error {
	return p.t.submitSignals(l, KeyPurchase, schema.SideBuy)
}

type seller struct{ t *Trader }

func (s *seller) Name() string             { return "seller" }
func (s *seller) Components() []ledger.Key { return []ledger.Key{KeySale} }

func (s *seller) Update(l *ledger.Ledger) error {
	return s.t.submitSignals(l, KeySale, schema.SideSell)
}

// submitSignals submits every signal of one direction that has no order yet.
func (t *Trader) submitSignals(l *ledger.Ledger, key ledger.Key, side schema.Side) error {
	var pending []ledger.Entity
	l.Join([]ledger.Key{key}, []ledger.Key{KeyOrder}, func(e ledger.Entity) bool {
		pending = append(pending, e)
		return true
	})
	for _, e := range pending {
		sig, ok := ledger.Get[Signal](l, key, e)
		if !ok {
			continue
		}
		order := t.submitOne(sig, side)
		ledger.Set(l, KeyOrder, e, order)
		t.report.OrdersSubmitted++
		if order.Failed() {
			t.report.OrdersFailed++
			t.metrics.orderFailed(t.tickCtx)
			observability.Log().Warn("order failed",
				observability.String("ticker", sig.Ticker),
				observability.String("side", string(side)),
				observability.String("reason", order.FailureReason()))
			continue
		}
		t.metrics.orderSubmitted(t.tickCtx)
		if side == schema.SideBuy {
			t.debitPurchasePower(sig.Ticker, order.Qty)
		}
	}
	return nil
}

// submitOne runs the submit-and-adjust loop for one signal. Venue rejections
// shrink the quantity per the retry rules; a quantity reaching zero, an
// unrecognized rejection, or a transport fault is terminal and yields the
// failed order form.
func (t *Trader) submitOne(sig Signal, side schema.Side) *schema.Order {
	qty := sig.Qty
	if qty.IsZero() {
		// A zero-quantity signal settles trivially: filled, nothing moves.
		now := t.broker.CurrentTime()
		return &schema.Order{
			Symbol:    sig.Ticker,
			Side:      side,
			Status:    schema.StatusFilled,
			CreatedAt: &now,
			FilledAt:  &now,
		}
	}

	for {
		req := &schema.OrderRequest{
			Symbol:        sig.Ticker,
			Qty:           qty,
			Side:          side,
			Type:          schema.OrderMarket,
			TimeInForce:   schema.TIFDay,
			ClientOrderID: uuid.NewString(),
		}
		if sig.Limit != nil {
			req.Type = schema.OrderLimit
			req.LimitPrice = sig.Limit
		}

		price, _ := t.broker.CurrentPrice(sig.Ticker)
		if err := t.risk.CheckOrder(t.tickCtx, req, price); err != nil {
			return failedOrder(sig.Ticker, side, qty, err.Error())
		}

		order, err := t.broker.SubmitOrder(t.tickCtx, req)
		if err != nil {
			return failedOrder(sig.Ticker, side, qty, err.Error())
		}
		if !order.Failed() {
			return order
		}

		adjusted, ok := retryQty(qty, order.FailureReason())
		if !ok || adjusted.IsZero() {
			return order
		}
		observability.Log().Debug("order retry",
			observability.String("ticker", sig.Ticker),
			observability.String("qty", adjusted.String()),
			observability.String("reason", order.FailureReason()))
		qty = adjusted
	}
}

// retryQty maps a broker failure text to the next quantity to try. Buying
// power shortfalls shrink the quantity by a tenth; inventory shortfalls
// retry with exactly the available amount.
func retryQty(qty decimal.Decimal, reason string) (decimal.Decimal, bool) {
	if avail, ok := schema.AvailableQty(reason); ok {
		if avail.GreaterThanOrEqual(qty) {
			// The venue reports more available than requested: resubmitting
			// the same quantity would loop.
			return decimal.Zero, false
		}
		return avail, true
	}
	if schema.IsInsufficientBuyingPower(reason) {
		return qty.Mul(decimal.NewFromFloat(0.9)).Round(0), true
	}
	return decimal.Zero, false
}

func failedOrder(ticker string, side schema.Side, qty decimal.Decimal, reason string) *schema.Order {
	return &schema.Order{
		Symbol: ticker,
		Side:   side,
		Qty:    qty,
		Status: schema.FailedStatus(reason),
	}
}

func (t *Trader) debitPurchasePower(ticker string, qty decimal.Decimal) {
	price, ok := t.broker.CurrentPrice(ticker)
	if !ok {
		return
	}
	_ = ledger.UpdateSingleton(t.main, KeyPurchasePower, func(pp *PurchasePower) {
		pp.Cash = pp.Cash.Sub(qty.Mul(price))
	})
}

type filler struct{ t *Trader }

func (f *filler) Name() string             { return "filler" }
func (f *filler) Components() []ledger.Key { return []ledger.Key{KeyOrder} }

// Update drains pending order updates and settles fills: the order row is
// replaced with the broker's latest state, a Filled component lands on full
// fills, and position plus cash absorb the quantity, notional and fee.
func (f *filler) Update(l *ledger.Ledger) error {
	t := f.t
	for _, update := range t.drainUpdates() {
		if e, ok := t.matchOrder(update); ok {
			ledger.Set(l, KeyOrder, e, update)
		}
	}

	var settle []ledger.Entity
	l.Join([]ledger.Key{KeyOrder}, []ledger.Key{KeyFilled}, func(e ledger.Entity) bool {
		settle = append(settle, e)
		return true
	})
	for _, e := range settle {
		order, ok := ledger.Get[*schema.Order](l, KeyOrder, e)
		if !ok || order == nil || !order.Filled() {
			continue
		}
		t.applyFill(l, e, order)
	}
	return nil
}

// drainUpdates empties the update inbox and, in historical mode, pulls every
// update the broker has queued. Live traders fill the inbox from the trading
// task instead.
func (t *Trader) drainUpdates() []*schema.Order {
	updates := t.inbox
	t.inbox = nil
	if t.virtual == nil {
		return updates
	}
	for {
		update, err := t.broker.ReceiveOrder(t.tickCtx)
		if err != nil || update == nil {
			return updates
		}
		updates = append(updates, update)
	}
}

// matchOrder finds the unsettled order row the update belongs to, by broker
// id first and client order id second.
func (t *Trader) matchOrder(update *schema.Order) (ledger.Entity, bool) {
	var (
		match ledger.Entity
		found bool
	)
	t.main.Join([]ledger.Key{KeyOrder}, []ledger.Key{KeyFilled}, func(e ledger.Entity) bool {
		order, ok := ledger.Get[*schema.Order](t.main, KeyOrder, e)
		if !ok || order == nil {
			return true
		}
		if (update.ID != "" && order.ID == update.ID) ||
			(update.ClientOrderID != "" && order.ClientOrderID == update.ClientOrderID) {
			match, found = e, true
			return false
		}
		return true
	})
	return match, found
}

func (t *Trader) applyFill(l *ledger.Ledger, e ledger.Entity, order *schema.Order) {
	fill := Filled{AvgPrice: order.FilledAvgPrice, Qty: order.FilledQty, Fee: order.Fee}
	ledger.Set(l, KeyFilled, e, fill)

	if fill.Qty.IsZero() {
		t.report.OrdersFilled++
		return
	}
	notional := fill.Qty.Mul(fill.AvgPrice)
	switch order.Side {
	case schema.SideBuy:
		t.adjustPosition(order.Symbol, fill.Qty)
		_ = ledger.UpdateSingleton(l, KeyCash, func(c *Cash) {
			c.Balance = c.Balance.Sub(notional).Sub(fill.Fee)
		})
	case schema.SideSell:
		t.adjustPosition(order.Symbol, fill.Qty.Neg())
		_ = ledger.UpdateSingleton(l, KeyCash, func(c *Cash) {
			c.Balance = c.Balance.Add(notional).Sub(fill.Fee)
		})
	}

	t.report.OrdersFilled++
	t.report.Volume = t.report.Volume.Add(notional.Abs())
	t.report.Fees = t.report.Fees.Add(fill.Fee)
	t.metrics.fill(t.tickCtx)
	observability.Log().Debug("fill settled",
		observability.String("ticker", order.Symbol),
		observability.String("side", string(order.Side)),
		observability.String("qty", fill.Qty.String()),
		observability.String("price", fill.AvgPrice.String()))
}

type snapShotter struct{ t *Trader }

func (s *snapShotter) Name() string             { return "snapshotter" }
func (s *snapShotter) Components() []ledger.Key { return []ledger.Key{KeySnapshot} }

// Update appends the tick's portfolio snapshot: cash plus every position at
// its current price. Positions without a quotable price value at zero, which
// keeps the series total and deterministic.
func (s *snapShotter) Update(l *ledger.Ledger) error {
	t := s.t
	cash, err := ledger.SingletonValue[Cash](l, KeyCash)
	if err != nil {
		return err
	}
	equity := cash.Balance
	ledger.Each(l, KeyPosition, func(_ ledger.Entity, p Position) bool {
		if p.Quantity.IsZero() {
			return true
		}
		if price, ok := t.broker.CurrentPrice(p.Ticker); ok {
			equity = equity.Add(p.Quantity.Mul(price))
		}
		return true
	})
	snap := PortfolioSnapshot{Time: t.now(), Cash: cash.Balance, Equity: equity}
	l.NewEntity(
		ledger.With(market.KeyTimeStamp, snap.Time),
		ledger.With(KeySnapshot, snap),
	)
	t.report.observe(snap)
	return nil
}

type timer struct{ t *Trader }

func (s *timer) Name() string             { return "timer" }
func (s *timer) Components() []ledger.Key { return []ledger.Key{KeyClock} }

// Update advances time. Historical runs step the shared virtual clock by
// DTime; live runs publish the broker's current instant.
func (s *timer) Update(l *ledger.Ledger) error {
	t := s.t
	return ledger.UpdateSingleton(l, KeyClock, func(clk *Clock) {
		if t.virtual != nil {
			clk.Time = t.virtual.Advance(clk.DTime)
			return
		}
		clk.Time = t.broker.CurrentTime()
	})
}

type dayCloser struct {
	t    *Trader
	prev time.Time
}

func (s *dayCloser) Name() string             { return "day_closer" }
func (s *dayCloser) Components() []ledger.Key { return []ledger.Key{KeyClock} }

// Update reconciles the session when the clock crosses a day boundary:
// resting orders are cancelled, unsubmitted signals dropped, and every
// change mark fast-forwarded so the next session's new-since views start
// from the boundary.
func (s *dayCloser) Update(l *ledger.Ledger) error {
	t := s.t
	now := t.now()
	if s.prev.IsZero() || t.cfg.Hours.SameDay(s.prev, now) {
		s.prev = now
		return nil
	}
	s.prev = now

	if err := t.broker.DeleteAllOrders(t.tickCtx); err != nil {
		observability.Log().Warn("day close cancel failed", observability.Err(err))
	}
	dropUnsubmitted(l, KeyPurchase)
	dropUnsubmitted(l, KeySale)

	for _, b := range t.strategies {
		b.combined.FastForwardAll()
	}
	for _, asset := range t.assets {
		asset.FastForwardAll()
	}
	l.FastForwardAll()
	observability.Log().Info("day closed", observability.String("at", now.Format(time.RFC3339)))
	return nil
}

// dropUnsubmitted deletes signal rows that never reached the broker.
func dropUnsubmitted(l *ledger.Ledger, key ledger.Key) {
	var stale []ledger.Entity
	l.Join([]ledger.Key{key}, []ledger.Key{KeyOrder}, func(e ledger.Entity) bool {
		stale = append(stale, e)
		return true
	})
	for _, e := range stale {
		l.Delete(e)
	}
}
