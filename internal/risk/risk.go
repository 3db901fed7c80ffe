// Package risk runs pre-trade checks on outgoing orders: a submission-rate
// throttle plus optional per-order size and notional caps.
package risk

import (
	"context"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/coachpo/takt/errs"
	"github.com/coachpo/takt/internal/schema"
)

// Limits defines the pre-trade parameters for one trader.
type Limits struct {
	// OrderRate is the maximum order submission rate per second.
	// Non-positive means unlimited.
	OrderRate float64 `yaml:"order_rate"`

	// MaxOrderQty caps the quantity of a single order. Zero disables the cap.
	MaxOrderQty decimal.Decimal `yaml:"max_order_qty"`

	// MaxOrderNotional caps the value of a single order at the reference
	// price. Zero disables the cap.
	MaxOrderNotional decimal.Decimal `yaml:"max_order_notional"`
}

// Unlimited returns limits that admit every order immediately. Backtests use
// it so simulated submissions never wait on the throttle.
func Unlimited() Limits { return Limits{} }

// Manager enforces the configured limits.
type Manager struct {
	limits  Limits
	limiter *rate.Limiter
}

// NewManager creates a manager for the given limits.
func NewManager(limits Limits) *Manager {
	throttle := rate.Inf
	if limits.OrderRate > 0 {
		throttle = rate.Limit(limits.OrderRate)
	}
	return &Manager{
		limits:  limits,
		limiter: rate.NewLimiter(throttle, 1),
	}
}

// CheckOrder blocks until the throttle admits the order, then validates it
// against the caps. The price is the current reference price for notional
// sizing; zero skips the notional check.
func (m *Manager) CheckOrder(ctx context.Context, req *schema.OrderRequest, price decimal.Decimal) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return errs.New("risk.check", errs.CodeUnavailable,
			errs.WithTicker(req.Symbol),
			errs.WithMessage("order throttle interrupted"),
			errs.WithCause(err))
	}

	if m.limits.MaxOrderQty.Sign() > 0 && req.Qty.GreaterThan(m.limits.MaxOrderQty) {
		return errs.New("risk.check", errs.CodeExhausted,
			errs.WithTicker(req.Symbol),
			errs.WithMessage("order qty "+req.Qty.String()+
				" exceeds cap "+m.limits.MaxOrderQty.String()))
	}

	if m.limits.MaxOrderNotional.Sign() > 0 && price.Sign() > 0 {
		if notional := req.Qty.Mul(price); notional.GreaterThan(m.limits.MaxOrderNotional) {
			return errs.New("risk.check", errs.CodeExhausted,
				errs.WithTicker(req.Symbol),
				errs.WithMessage("order notional "+notional.String()+
					" exceeds cap "+m.limits.MaxOrderNotional.String()))
		}
	}
	return nil
}
