// Package strategy hosts the trading logic run by the trader. A strategy
// owns one combined ledger built from its tickers, wires its systems and
// indicator columns into that ledger during Setup, and is then driven once
// per tick with a Context through which it reads market state and emits
// purchase and sale signals. Strategies never talk to a broker directly.
package strategy

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/takt/errs"
	"github.com/coachpo/takt/internal/ledger"
)

// Context is the slice of the runtime a strategy sees during one tick.
// The function fields are installed by the trader; the accessor methods
// tolerate their absence, which keeps strategy tests free of runtime
// scaffolding.
type Context struct {
	Time     time.Time
	Combined *ledger.Ledger
	Assets   map[string]*ledger.Ledger
	Tickers  []string

	PriceFn         func(ticker string) (decimal.Decimal, bool)
	PositionFn      func(ticker string) decimal.Decimal
	PurchasePowerFn func() decimal.Decimal
	PurchaseFn      func(ticker string, qty decimal.Decimal)
	SaleFn          func(ticker string, qty decimal.Decimal)
}

// Price returns the latest known price for a ticker.
func (c *Context) Price(ticker string) (decimal.Decimal, bool) {
	if c.PriceFn == nil {
		return decimal.Decimal{}, false
	}
	return c.PriceFn(ticker)
}

// Position returns the held quantity for a ticker, zero when absent.
func (c *Context) Position(ticker string) decimal.Decimal {
	if c.PositionFn == nil {
		return decimal.Zero
	}
	return c.PositionFn(ticker)
}

// PurchasePower returns the cash snapshot taken at the start of the tick.
// Sizing decisions read it instead of live cash, which keeps them stable
// while fills settle within the same tick.
func (c *Context) PurchasePower() decimal.Decimal {
	if c.PurchasePowerFn == nil {
		return decimal.Zero
	}
	return c.PurchasePowerFn()
}

// Purchase emits a buy signal for qty shares of a ticker.
func (c *Context) Purchase(ticker string, qty decimal.Decimal) {
	if c.PurchaseFn != nil {
		c.PurchaseFn(ticker, qty)
	}
}

// Sale emits a sell signal for qty shares of a ticker.
func (c *Context) Sale(ticker string, qty decimal.Decimal) {
	if c.SaleFn != nil {
		c.SaleFn(ticker, qty)
	}
}

// Strategy is one trading strategy instance.
type Strategy interface {
	// Name identifies the instance; it also keys the strategy's
	// change-tracking marks in its combined ledger.
	Name() string
	// Tickers returns the assets the strategy trades, in declaration order.
	Tickers() []string
	// Setup wires the strategy's systems and indicator columns into its
	// combined ledger. It runs once, before the first tick.
	Setup(combined *ledger.Ledger) error
	// OnTick runs after data ingestion and the combined ledger's stages.
	OnTick(ctx *Context) error
}

// marker is a strategy's change-tracking identity inside its combined
// ledger. Only Name and Components matter; the ledger never schedules it.
type marker struct {
	name string
	keys []ledger.Key
}

func (m *marker) Name() string             { return m.name }
func (m *marker) Components() []ledger.Key { return m.keys }
func (m *marker) Update(*ledger.Ledger) error {
	return nil
}

// Spec describes one strategy instance as configuration sees it.
type Spec struct {
	Name    string
	Tickers []string
	Options map[string]any
}

// Float reads a numeric option, falling back to def.
func (s Spec) Float(key string, def float64) float64 {
	switch v := s.Options[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

// Int reads an integer option, falling back to def.
func (s Spec) Int(key string, def int) int {
	switch v := s.Options[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// Str reads a string option, falling back to def.
func (s Spec) Str(key, def string) string {
	if v, ok := s.Options[key].(string); ok {
		return v
	}
	return def
}

// Factory constructs a strategy instance from its spec.
type Factory func(spec Spec) (Strategy, error)

// Registry maintains strategy factories keyed by system name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty strategy factory registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register registers a strategy factory for the given system name.
func (r *Registry) Register(system string, factory Factory) {
	if factory == nil {
		panic("strategy factory required")
	}
	r.mu.Lock()
	r.factories[system] = factory
	r.mu.Unlock()
}

// Create builds a strategy instance of the named system from its spec.
func (r *Registry) Create(system string, spec Spec) (Strategy, error) {
	r.mu.RLock()
	factory, ok := r.factories[system]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.New("strategy.create", errs.CodeNotFound,
			errs.WithMessage("strategy system "+system+" not registered"))
	}
	s, err := factory(spec)
	if err != nil {
		return nil, errs.New("strategy.create", errs.CodeInvalid,
			errs.WithMessage("instantiate "+spec.Name+" ("+system+")"),
			errs.WithCause(err))
	}
	return s, nil
}

// Systems returns the registered system names, sorted.
func (r *Registry) Systems() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterBuiltins installs the strategies shipped with the runtime.
func RegisterBuiltins(reg *Registry) {
	reg.Register("pair", newPairTrader)
}
