package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/takt/errs"
	"github.com/coachpo/takt/internal/indicator"
	"github.com/coachpo/takt/internal/ledger"
	"github.com/coachpo/takt/internal/market"
	"github.com/coachpo/takt/internal/observability"
)

// spreadCalculator appends Spread = close_A - gamma*close_B rows to the
// combined ledger. The close columns are borrowed from two independent asset
// ledgers whose entity IDs have nothing in common, so rows are matched by bar
// timestamp: two cursors walk the columns in insertion order and a spread row
// is emitted only when both assets printed a bar at the same instant, stamped
// with that instant. A bar missing on one side is skipped. It runs in its own
// stage ahead of the indicator stage so spread indicators settle within the
// same tick.
type spreadCalculator struct {
	name   string
	gamma  float64
	closeA ledger.Key
	closeB ledger.Key
	tsA    ledger.Key
	tsB    ledger.Key

	// Positional cursors into the close columns. Bar columns are
	// append-only, so ranks consumed once stay consumed.
	posA, posB int
}

func (s *spreadCalculator) Name() string { return s.name }
func (s *spreadCalculator) Components() []ledger.Key {
	return []ledger.Key{s.closeA, s.closeB, s.tsA, s.tsB}
}

func (s *spreadCalculator) Update(l *ledger.Ledger) error {
	for {
		eA, closeA, okA := ledger.At[indicator.Scalar](l, s.closeA, s.posA)
		eB, closeB, okB := ledger.At[indicator.Scalar](l, s.closeB, s.posB)
		if !okA || !okB {
			return nil
		}
		tsA, haveA := ledger.Get[time.Time](l, s.tsA, eA)
		if !haveA {
			s.posA++
			continue
		}
		tsB, haveB := ledger.Get[time.Time](l, s.tsB, eB)
		if !haveB {
			s.posB++
			continue
		}
		switch {
		case tsA.Before(tsB):
			s.posA++
		case tsB.Before(tsA):
			s.posB++
		default:
			l.NewEntity(
				ledger.With(market.KeyTimeStamp, tsA),
				ledger.With(indicator.Spread, indicator.Scalar(float64(closeA)-s.gamma*float64(closeB))),
			)
			s.posA++
			s.posB++
		}
	}
}

// pairLeg records an open pair position until its zero crossing.
type pairLeg struct {
	enteredHigh bool // entry happened on z above +threshold
	boughtA     bool
	qtyA, qtyB  decimal.Decimal
}

// PairTrader trades the spread between two assets. Each new spread row is
// scored against the trailing spread SMA and standard deviation as of the
// previous row; crossing the entry threshold opens one pair of opposite
// legs sized so both carry equal notional scaled by gamma, and the pair
// closes when the z-score crosses zero. At most one pair is open at a time.
type PairTrader struct {
	name     string
	a, b     string
	gamma    float64
	horizon  int
	zEntry   float64
	quantity decimal.Decimal
	inverted bool

	mark   *marker
	smaKey ledger.Key
	stdKey ledger.Key

	open *pairLeg
}

func newPairTrader(spec Spec) (Strategy, error) {
	if len(spec.Tickers) != 2 {
		return nil, errs.New("strategy.pair", errs.CodeInvalid,
			errs.WithMessage("pair strategy needs exactly two tickers"))
	}
	horizon := spec.Int("horizon", 20)
	if horizon < 2 {
		return nil, errs.New("strategy.pair", errs.CodeInvalid,
			errs.WithMessage("pair horizon must be at least 2"))
	}
	zEntry := spec.Float("z_threshold", 2)
	if zEntry <= 0 {
		return nil, errs.New("strategy.pair", errs.CodeInvalid,
			errs.WithMessage("pair z_threshold must be positive"))
	}
	return &PairTrader{
		name:     spec.Name,
		a:        spec.Tickers[0],
		b:        spec.Tickers[1],
		gamma:    spec.Float("gamma", 1),
		horizon:  horizon,
		zEntry:   zEntry,
		quantity: decimal.NewFromFloat(spec.Float("quantity", 1)),
		inverted: spec.Float("sign", 1) < 0,
	}, nil
}

// Name implements Strategy.
func (p *PairTrader) Name() string { return p.name }

// Tickers implements Strategy.
func (p *PairTrader) Tickers() []string { return []string{p.a, p.b} }

// Setup implements Strategy. It installs the spread stage and ensures the
// trailing spread statistics on the combined ledger.
func (p *PairTrader) Setup(combined *ledger.Ledger) error {
	combined.AddSystem("spread", &spreadCalculator{
		name:   p.name + ".spread",
		gamma:  p.gamma,
		closeA: indicator.TickerColumn(indicator.KindClose, p.a),
		closeB: indicator.TickerColumn(indicator.KindClose, p.b),
		tsA:    market.TickerTimeStamp(p.a),
		tsB:    market.TickerTimeStamp(p.b),
	})
	p.smaKey = indicator.SMA(p.horizon, indicator.Spread)
	p.stdKey = indicator.MovingStdDev(p.horizon, indicator.Spread)
	if err := indicator.Ensure(combined, p.smaKey, p.stdKey); err != nil {
		return err
	}
	p.mark = &marker{name: p.name, keys: []ledger.Key{indicator.Spread}}
	return nil
}

// OnTick implements Strategy. It scores every spread row appended since the
// last tick and acts on threshold and zero crossings.
func (p *PairTrader) OnTick(ctx *Context) error {
	l := ctx.Combined
	l.EachNew(p.mark, func(e ledger.Entity) bool {
		spread, ok := ledger.Get[indicator.Scalar](l, indicator.Spread, e)
		if !ok {
			return true
		}
		rank, ok := l.Rank(indicator.Spread, e)
		if !ok {
			return true
		}
		// Trailing statistics as of the previous spread row: the stats
		// columns lag their source by horizon-1 rows.
		statRank := rank - p.horizon
		_, mean, okM := ledger.At[indicator.Scalar](l, p.smaKey, statRank)
		_, dev, okS := ledger.At[indicator.Scalar](l, p.stdKey, statRank)
		if !okM || !okS || dev == 0 {
			return true
		}
		p.act(ctx, (float64(spread)-float64(mean))/float64(dev))
		return true
	})
	return nil
}

func (p *PairTrader) act(ctx *Context, z float64) {
	switch {
	case p.open == nil && z > p.zEntry:
		p.enter(ctx, true, z)
	case p.open == nil && z < -p.zEntry:
		p.enter(ctx, false, z)
	case p.open != nil && p.open.enteredHigh && z <= 0:
		p.close(ctx, z)
	case p.open != nil && !p.open.enteredHigh && z >= 0:
		p.close(ctx, z)
	}
}

func (p *PairTrader) enter(ctx *Context, high bool, z float64) {
	priceA, okA := ctx.Price(p.a)
	priceB, okB := ctx.Price(p.b)
	if !okA || !okB || priceB.IsZero() {
		observability.Log().Warn("pair entry skipped without prices",
			observability.String("strategy", p.name),
			observability.Float("z", z))
		return
	}

	qtyA := p.quantity
	qtyB := qtyA.Mul(priceA).Mul(decimal.NewFromFloat(p.gamma)).Div(priceB).Round(0)

	buyA := high
	if p.inverted {
		buyA = !buyA
	}
	if buyA {
		ctx.Purchase(p.a, qtyA)
		ctx.Sale(p.b, qtyB)
	} else {
		ctx.Sale(p.a, qtyA)
		ctx.Purchase(p.b, qtyB)
	}
	p.open = &pairLeg{enteredHigh: high, boughtA: buyA, qtyA: qtyA, qtyB: qtyB}

	observability.Log().Info("pair entered",
		observability.String("strategy", p.name),
		observability.Float("z", z),
		observability.String("qty_a", qtyA.String()),
		observability.String("qty_b", qtyB.String()))
}

func (p *PairTrader) close(ctx *Context, z float64) {
	leg := p.open
	p.open = nil
	if leg.boughtA {
		ctx.Sale(p.a, leg.qtyA)
		ctx.Purchase(p.b, leg.qtyB)
	} else {
		ctx.Purchase(p.a, leg.qtyA)
		ctx.Sale(p.b, leg.qtyB)
	}
	observability.Log().Info("pair closed",
		observability.String("strategy", p.name),
		observability.Float("z", z))
}
