package script

import (
	"github.com/shopspring/decimal"

	"github.com/coachpo/takt/errs"
	"github.com/coachpo/takt/internal/indicator"
	"github.com/coachpo/takt/internal/ledger"
	"github.com/coachpo/takt/internal/market"
	"github.com/coachpo/takt/internal/strategy"
)

// Strategy adapts a script instance to the strategy interface. The script's
// update export runs once per tick against a context object exposing market
// accessors and signal emitters.
type Strategy struct {
	name     string
	tickers  []string
	instance *Instance
}

// NewStrategy instantiates the module on its own runtime.
func NewStrategy(name string, tickers []string, module *Module) (*Strategy, error) {
	if len(tickers) == 0 {
		return nil, errs.New("script.strategy", errs.CodeInvalid, errs.WithMessage("at least one ticker required"))
	}
	instance, err := NewInstance(module)
	if err != nil {
		return nil, err
	}
	return &Strategy{
		name:     name,
		tickers:  append([]string(nil), tickers...),
		instance: instance,
	}, nil
}

func (s *Strategy) Name() string { return s.name }

func (s *Strategy) Tickers() []string { return append([]string(nil), s.tickers...) }

// Setup calls the script's optional setup export with the ticker list.
func (s *Strategy) Setup(*ledger.Ledger) error {
	if !s.instance.Exports("setup") {
		return nil
	}
	_, err := s.instance.Call("setup", s.tickers)
	return err
}

// OnTick invokes the script's update export with a fresh context object.
func (s *Strategy) OnTick(ctx *strategy.Context) error {
	_, err := s.instance.Call("update", s.bindings(ctx))
	return err
}

// Close releases the script runtime.
func (s *Strategy) Close() {
	s.instance.Close()
}

// bindings builds the JavaScript-facing context for one tick. Missing data
// surfaces as null so scripts can guard with plain truthiness checks.
func (s *Strategy) bindings(ctx *strategy.Context) map[string]any {
	return map[string]any{
		"time":    ctx.Time.UnixMilli(),
		"tickers": append([]string(nil), s.tickers...),
		"close": func(ticker string) any {
			asset, ok := ctx.Assets[ticker]
			if !ok {
				return nil
			}
			v, ok := market.LatestClose(asset)
			if !ok {
				return nil
			}
			return v
		},
		"closes": func(ticker string, n int) []float64 {
			asset, ok := ctx.Assets[ticker]
			if !ok || n <= 0 {
				return nil
			}
			out := make([]float64, 0, n)
			for back := n; back >= 1; back-- {
				if _, v, ok := ledger.At[indicator.Scalar](asset, indicator.Close, -back); ok {
					out = append(out, float64(v))
				}
			}
			return out
		},
		"price": func(ticker string) any {
			p, ok := ctx.Price(ticker)
			if !ok {
				return nil
			}
			f, _ := p.Float64()
			return f
		},
		"position": func(ticker string) float64 {
			f, _ := ctx.Position(ticker).Float64()
			return f
		},
		"purchase_power": func() float64 {
			f, _ := ctx.PurchasePower().Float64()
			return f
		},
		"purchase": func(ticker string, qty float64) {
			ctx.Purchase(ticker, decimal.NewFromFloat(qty))
		},
		"sale": func(ticker string, qty float64) {
			ctx.Sale(ticker, decimal.NewFromFloat(qty))
		},
	}
}

// Register installs the script system into a strategy registry. Scripts are
// addressed by the path option:
//
//	strategies:
//	  - system: script
//	    tickers: [MSFT]
//	    options: {path: strategies/momentum.js}
func Register(reg *strategy.Registry) {
	reg.Register("script", func(spec strategy.Spec) (strategy.Strategy, error) {
		path := spec.Str("path", "")
		if path == "" {
			return nil, errs.New("script.create", errs.CodeInvalid,
				errs.WithMessage("script strategy needs a path option"))
		}
		module, err := Compile(path)
		if err != nil {
			return nil, err
		}
		name := spec.Name
		if name == "" {
			name = module.Name
		}
		return NewStrategy(name, spec.Tickers, module)
	})
}
