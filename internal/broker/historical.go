package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coachpo/takt/errs"
	"github.com/coachpo/takt/internal/observability"
	"github.com/coachpo/takt/internal/schema"
)

// HistoricalConfig tunes a historical broker.
type HistoricalConfig struct {
	// DTime is the simulation step: orders submitted at t fill against the
	// first bar opening at or after t+DTime. It doubles as the timeframe of
	// the bars fills execute against.
	DTime time.Duration
	// Cash is the opening account balance.
	Cash decimal.Decimal
	// Fees prices executed fills. Nil selects DefaultFees.
	Fees FeeModel
	// FillAtClose executes against the bar close instead of its open, for
	// datasets without meaningful open prices.
	FillAtClose bool
}

// HistoricalBroker replays cached market data against a virtual clock and
// fills orders synchronously. Successful submissions return an accepted
// order immediately; the corresponding fill is queued and drained through
// ReceiveOrder, mirroring how updates arrive from a live venue. Venue-style
// rejections come back directly on the submission response with a failed
// status.
type HistoricalBroker struct {
	clock *VirtualClock
	cache *DataCache
	cfg   HistoricalConfig

	mu        sync.Mutex
	cash      decimal.Decimal
	positions map[string]decimal.Decimal
	sellable  map[string]decimal.Decimal
	pending   []*schema.Order
}

// NewHistoricalBroker builds a broker over the given data cache and clock.
func NewHistoricalBroker(cache *DataCache, clock *VirtualClock, cfg HistoricalConfig) *HistoricalBroker {
	if cfg.Fees == nil {
		cfg.Fees = DefaultFees()
	}
	if cfg.DTime <= 0 {
		cfg.DTime = time.Minute
	}
	return &HistoricalBroker{
		clock:     clock,
		cache:     cache,
		cfg:       cfg,
		cash:      cfg.Cash,
		positions: make(map[string]decimal.Decimal),
		sellable:  make(map[string]decimal.Decimal),
	}
}

// CurrentTime implements Broker.
func (b *HistoricalBroker) CurrentTime() time.Time { return b.clock.Now() }

// CurrentPrice implements Broker.
func (b *HistoricalBroker) CurrentPrice(ticker string) (decimal.Decimal, bool) {
	return b.cache.PriceAt(ticker, b.clock.Now())
}

// Cash returns the current simulated account balance.
func (b *HistoricalBroker) Cash() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cash
}

// Position returns the simulated inventory for a ticker, zero when flat.
func (b *HistoricalBroker) Position(ticker string) decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.positions[ticker]
}

// Positions returns a copy of every non-flat simulated position.
func (b *HistoricalBroker) Positions() map[string]decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(b.positions))
	for ticker, qty := range b.positions {
		if !qty.IsZero() {
			out[ticker] = qty
		}
	}
	return out
}

// LimitSellable caps how much of a ticker can be sold. Sales beyond the cap
// are rejected with the insufficient-quantity failure text carrying the
// remaining amount. Fills move the cap with the position. Tickers without a
// cap sell (and short) freely.
func (b *HistoricalBroker) LimitSellable(ticker string, qty decimal.Decimal) {
	b.mu.Lock()
	b.sellable[ticker] = qty
	b.mu.Unlock()
}

// SubmitOrder implements Broker. Market orders fill at the open (or close,
// per config) of the first bar at or after the clock plus one simulation
// step. Limit orders fill when that bar price satisfies the limit and
// expire otherwise.
func (b *HistoricalBroker) SubmitOrder(_ context.Context, req *schema.OrderRequest) (*schema.Order, error) {
	if req == nil {
		return nil, errs.New("broker.submit", errs.CodeInvalid, errs.WithMessage("nil order request"))
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Type != schema.OrderMarket && req.Type != schema.OrderLimit {
		return nil, errs.New("broker.submit", errs.CodeInvalid,
			errs.WithTicker(req.Symbol),
			errs.WithMessage("order type "+string(req.Type)+" not supported in simulation"))
	}

	clientID := req.ClientOrderID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	now := b.clock.Now()
	fillAt := now.Add(b.cfg.DTime)
	order := &schema.Order{
		Symbol:        req.Symbol,
		Side:          req.Side,
		ID:            uuid.NewString(),
		ClientOrderID: clientID,
		CreatedAt:     timePtr(now),
		SubmittedAt:   timePtr(now),
		Qty:           req.Qty,
		Status:        schema.StatusNew,
	}

	bar, ok := b.cache.BarAtOrAfter(req.Symbol, b.cfg.DTime, fillAt)
	if !ok {
		return b.reject(order, now, "no price data for "+req.Symbol+" at "+fillAt.Format(time.RFC3339)), nil
	}
	price, err := b.fillPrice(&bar)
	if err != nil {
		return nil, err
	}
	if req.Type == schema.OrderLimit && !limitSatisfied(req.Side, price, *req.LimitPrice) {
		expired := *order
		expired.Status = schema.StatusExpired
		expired.ExpiredAt = timePtr(bar.OpenTime)
		expired.UpdatedAt = timePtr(bar.OpenTime)
		return &expired, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	fee := b.cfg.Fees.Fee(req.Qty, price)
	notional := req.Qty.Mul(price)
	switch req.Side {
	case schema.SideBuy:
		if cost := notional.Add(fee); cost.GreaterThan(b.cash) {
			return b.reject(order, now, schema.MsgInsufficientBuyingPower), nil
		}
		b.cash = b.cash.Sub(notional).Sub(fee)
		b.positions[req.Symbol] = b.positions[req.Symbol].Add(req.Qty)
		if avail, limited := b.sellable[req.Symbol]; limited {
			b.sellable[req.Symbol] = avail.Add(req.Qty)
		}
	case schema.SideSell:
		if avail, limited := b.sellable[req.Symbol]; limited {
			if req.Qty.GreaterThan(avail) {
				return b.reject(order, now, schema.InsufficientQtyMsg(avail)), nil
			}
			b.sellable[req.Symbol] = avail.Sub(req.Qty)
		}
		b.cash = b.cash.Add(notional).Sub(fee)
		b.positions[req.Symbol] = b.positions[req.Symbol].Sub(req.Qty)
	}

	fillTime := bar.OpenTime
	fill := *order
	fill.Status = schema.StatusFilled
	fill.FilledQty = req.Qty
	fill.FilledAvgPrice = price
	fill.Fee = fee
	fill.FilledAt = timePtr(fillTime)
	fill.UpdatedAt = timePtr(fillTime)
	b.pending = append(b.pending, &fill)

	observability.Log().Debug("historical fill",
		observability.String("ticker", req.Symbol),
		observability.String("side", string(req.Side)),
		observability.String("qty", req.Qty.String()),
		observability.String("price", price.String()),
		observability.String("fee", fee.String()))
	return order, nil
}

// ReceiveOrder implements Broker. It pops the oldest queued update and
// returns (nil, nil) when the queue is empty.
func (b *HistoricalBroker) ReceiveOrder(_ context.Context) (*schema.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return nil, nil
	}
	update := b.pending[0]
	b.pending = b.pending[1:]
	return update, nil
}

// DeleteAllOrders implements Broker. Historical fills settle synchronously
// and unmet limit orders expire at submission, so there is nothing resting
// to cancel.
func (b *HistoricalBroker) DeleteAllOrders(context.Context) error { return nil }

// Trades implements Broker.
func (b *HistoricalBroker) Trades(ticker string, start, stop time.Time) ([]schema.Trade, error) {
	return b.cache.Trades(ticker, start, stop), nil
}

// Bars implements Broker.
func (b *HistoricalBroker) Bars(ticker string, timeframe time.Duration, start, stop time.Time) ([]schema.Bar, error) {
	return b.cache.Bars(ticker, timeframe, start, stop), nil
}

// SubscribeBars implements Broker. It replays cached bars opening after the
// current simulated time and closes the channel once they run out.
func (b *HistoricalBroker) SubscribeBars(ctx context.Context, ticker string, timeframe time.Duration) (<-chan schema.Bar, error) {
	start, stop, ok := b.cache.Window(ticker, timeframe)
	if !ok {
		return nil, errs.New("broker.subscribe", errs.CodeNotFound,
			errs.WithTicker(ticker),
			errs.WithMessage("no cached bars to replay"))
	}
	if now := b.clock.Now(); now.After(start) {
		start = now
	}
	bars := b.cache.Bars(ticker, timeframe, start, stop)
	out := make(chan schema.Bar)
	go func() {
		defer close(out)
		for _, bar := range bars {
			select {
			case out <- bar:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *HistoricalBroker) fillPrice(bar *schema.Bar) (decimal.Decimal, error) {
	if b.cfg.FillAtClose {
		return bar.CloseDecimal()
	}
	return bar.OpenDecimal()
}

func (b *HistoricalBroker) reject(order *schema.Order, at time.Time, reason string) *schema.Order {
	rejected := *order
	rejected.Status = schema.FailedStatus(reason)
	rejected.FailedAt = timePtr(at)
	rejected.UpdatedAt = timePtr(at)
	observability.Log().Debug("historical reject",
		observability.String("ticker", rejected.Symbol),
		observability.String("reason", reason))
	return &rejected
}

func limitSatisfied(side schema.Side, price, limit decimal.Decimal) bool {
	if side == schema.SideBuy {
		return price.LessThanOrEqual(limit)
	}
	return price.GreaterThanOrEqual(limit)
}

func timePtr(ts time.Time) *time.Time { return &ts }
