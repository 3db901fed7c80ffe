// Package broker abstracts the execution venue behind the trading runtime.
// A Broker owns the notion of time, serves market data, accepts order
// submissions, and reports order updates. The historical implementation
// replays cached bars against a virtual clock; live implementations proxy
// a venue API.
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/takt/internal/schema"
)

// Broker is the execution venue seen by the trading runtime.
type Broker interface {
	// CurrentTime returns the broker's notion of now. Historical brokers
	// report simulated time; live brokers report wall-clock time.
	CurrentTime() time.Time

	// CurrentPrice returns the latest known price for a ticker. The second
	// return is false when the broker has no price data for it yet.
	CurrentPrice(ticker string) (decimal.Decimal, bool)

	// SubmitOrder sends an order for execution. Venue rejections come back
	// as an order whose status begins with schema.StatusFailedPrefix and a
	// nil error; the error return is reserved for malformed requests and
	// transport faults.
	SubmitOrder(ctx context.Context, req *schema.OrderRequest) (*schema.Order, error)

	// ReceiveOrder pops the next pending order update. Historical brokers
	// return (nil, nil) when nothing is queued; live brokers block until an
	// update arrives or the context ends.
	ReceiveOrder(ctx context.Context) (*schema.Order, error)

	// DeleteAllOrders cancels every order still open at the venue.
	DeleteAllOrders(ctx context.Context) error

	// Trades returns historical trade prints for a ticker between start and
	// stop inclusive.
	Trades(ticker string, start, stop time.Time) ([]schema.Trade, error)

	// Bars returns historical bars for a ticker between start and stop
	// inclusive of both ends, at the requested timeframe.
	Bars(ticker string, timeframe time.Duration, start, stop time.Time) ([]schema.Bar, error)

	// SubscribeBars streams bars for a ticker as they complete. The channel
	// closes when the context ends or the data source is exhausted.
	SubscribeBars(ctx context.Context, ticker string, timeframe time.Duration) (<-chan schema.Bar, error)
}

// Clock provides the broker's notion of time.
type Clock interface {
	Now() time.Time
}

// WallClock reads the system clock. Live brokers use it.
type WallClock struct{}

// Now returns the current wall-clock time in UTC.
func (WallClock) Now() time.Time { return time.Now().UTC() }

// VirtualClock is a controllable clock for deterministic simulations. It
// only ever moves forward.
type VirtualClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewVirtualClock initialises a clock starting at the provided timestamp.
func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{current: start}
}

// Now returns the current simulated time.
func (c *VirtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d and returns the new time. Non-positive
// durations leave the clock unchanged.
func (c *VirtualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.current = c.current.Add(d)
	}
	return c.current
}

// AdvanceTo moves the clock to ts if ts is in the future.
func (c *VirtualClock) AdvanceTo(ts time.Time) {
	c.mu.Lock()
	if ts.After(c.current) {
		c.current = ts
	}
	c.mu.Unlock()
}
