package indicator

import (
	"math"

	"github.com/coachpo/takt/internal/ledger"
)

// Calculators are per-ledger systems: the solver builds a fresh instance for
// each ledger it populates, so rolling window state is never shared. Every
// calculator consumes only rows appended since its previous visit, which
// keeps a tick's indicator stage incremental.

func calcName(dst ledger.Key) string { return "calc:" + ledger.NameOf(dst) }

type smaSystem[T Value[T]] struct {
	name    string
	src     ledger.Key
	dst     ledger.Key
	horizon int
	window  []T
}

func newSMASystem[T Value[T]](horizon int, src, dst ledger.Key) *smaSystem[T] {
	return &smaSystem[T]{name: calcName(dst), src: src, dst: dst, horizon: horizon, window: nil}
}

func (s *smaSystem[T]) Name() string             { return s.name }
func (s *smaSystem[T]) Components() []ledger.Key { return []ledger.Key{s.src} }

func (s *smaSystem[T]) Update(l *ledger.Ledger) error {
	l.EachNew(s, func(e ledger.Entity) bool {
		v, ok := ledger.Get[T](l, s.src, e)
		if !ok {
			return true
		}
		s.window = push(s.window, v, s.horizon)
		if len(s.window) == s.horizon {
			ledger.Set(l, s.dst, e, mean(s.window))
		}
		return true
	})
	return nil
}

type emaSystem[T Value[T]] struct {
	name    string
	src     ledger.Key
	dst     ledger.Key
	horizon int
	alpha   float64
	seed    []T
	ema     T
	seeded  bool
}

func newEMASystem[T Value[T]](horizon int, src, dst ledger.Key) *emaSystem[T] {
	return &emaSystem[T]{
		name:    calcName(dst),
		src:     src,
		dst:     dst,
		horizon: horizon,
		alpha:   2 / float64(horizon+1),
		seed:    nil,
		seeded:  false,
	}
}

func (s *emaSystem[T]) Name() string             { return s.name }
func (s *emaSystem[T]) Components() []ledger.Key { return []ledger.Key{s.src} }

func (s *emaSystem[T]) Update(l *ledger.Ledger) error {
	l.EachNew(s, func(e ledger.Entity) bool {
		v, ok := ledger.Get[T](l, s.src, e)
		if !ok {
			return true
		}
		if !s.seeded {
			s.seed = append(s.seed, v)
			if len(s.seed) < s.horizon {
				return true
			}
			s.ema = mean(s.seed)
			s.seed = nil
			s.seeded = true
		} else {
			delta := v.Add(s.ema.Scale(-1))
			s.ema = s.ema.Add(delta.Scale(s.alpha))
		}
		ledger.Set(l, s.dst, e, s.ema)
		return true
	})
	return nil
}

type stddevSystem[T Value[T]] struct {
	name    string
	src     ledger.Key
	dst     ledger.Key
	horizon int
	window  []T
}

func newStdDevSystem[T Value[T]](horizon int, src, dst ledger.Key) *stddevSystem[T] {
	return &stddevSystem[T]{name: calcName(dst), src: src, dst: dst, horizon: horizon, window: nil}
}

func (s *stddevSystem[T]) Name() string             { return s.name }
func (s *stddevSystem[T]) Components() []ledger.Key { return []ledger.Key{s.src} }

func (s *stddevSystem[T]) Update(l *ledger.Ledger) error {
	l.EachNew(s, func(e ledger.Entity) bool {
		v, ok := ledger.Get[T](l, s.src, e)
		if !ok {
			return true
		}
		s.window = push(s.window, v, s.horizon)
		if len(s.window) == s.horizon {
			ledger.Set(l, s.dst, e, sampleStdDev(s.window))
		}
		return true
	})
	return nil
}

type diffSystem[T Value[T]] struct {
	name string
	src  ledger.Key
	dst  ledger.Key
	prev T
	has  bool
}

func newDiffSystem[T Value[T]](src, dst ledger.Key) *diffSystem[T] {
	return &diffSystem[T]{name: calcName(dst), src: src, dst: dst, has: false}
}

func (s *diffSystem[T]) Name() string             { return s.name }
func (s *diffSystem[T]) Components() []ledger.Key { return []ledger.Key{s.src} }

func (s *diffSystem[T]) Update(l *ledger.Ledger) error {
	l.EachNew(s, func(e ledger.Entity) bool {
		v, ok := ledger.Get[T](l, s.src, e)
		if !ok {
			return true
		}
		if s.has {
			ledger.Set(l, s.dst, e, v.Add(s.prev.Scale(-1)))
		}
		s.prev = v
		s.has = true
		return true
	})
	return nil
}

type relDiffSystem struct {
	name string
	src  ledger.Key
	dst  ledger.Key
	prev Scalar
	has  bool
}

func newRelDiffSystem(src, dst ledger.Key) *relDiffSystem {
	return &relDiffSystem{name: calcName(dst), src: src, dst: dst, has: false}
}

func (s *relDiffSystem) Name() string             { return s.name }
func (s *relDiffSystem) Components() []ledger.Key { return []ledger.Key{s.src} }

func (s *relDiffSystem) Update(l *ledger.Ledger) error {
	l.EachNew(s, func(e ledger.Entity) bool {
		v, ok := ledger.Get[Scalar](l, s.src, e)
		if !ok {
			return true
		}
		if s.has && s.prev != 0 {
			ledger.Set(l, s.dst, e, (v-s.prev)/s.prev)
		}
		s.prev = v
		s.has = true
		return true
	})
	return nil
}

type upDownSystem struct {
	name string
	src  ledger.Key
	dst  ledger.Key
}

func newUpDownSystem(src, dst ledger.Key) *upDownSystem {
	return &upDownSystem{name: calcName(dst), src: src, dst: dst}
}

func (s *upDownSystem) Name() string             { return s.name }
func (s *upDownSystem) Components() []ledger.Key { return []ledger.Key{s.src} }

func (s *upDownSystem) Update(l *ledger.Ledger) error {
	l.EachNew(s, func(e ledger.Entity) bool {
		v, ok := ledger.Get[Scalar](l, s.src, e)
		if !ok {
			return true
		}
		g := Gain{Up: 0, Down: 0}
		if v > 0 {
			g.Up = float64(v)
		} else {
			g.Down = float64(v)
		}
		ledger.Set(l, s.dst, e, g)
		return true
	})
	return nil
}

type logValSystem struct {
	name string
	src  ledger.Key
	dst  ledger.Key
}

func newLogValSystem(src, dst ledger.Key) *logValSystem {
	return &logValSystem{name: calcName(dst), src: src, dst: dst}
}

func (s *logValSystem) Name() string             { return s.name }
func (s *logValSystem) Components() []ledger.Key { return []ledger.Key{s.src} }

func (s *logValSystem) Update(l *ledger.Ledger) error {
	l.EachNew(s, func(e ledger.Entity) bool {
		v, ok := ledger.Get[Scalar](l, s.src, e)
		if !ok || v <= 0 {
			return true
		}
		ledger.Set(l, s.dst, e, Scalar(math.Log(float64(v))))
		return true
	})
	return nil
}

// rsiSystem reads the smoothed gain/loss column of the relative-strength
// chain and emits the index value.
type rsiSystem struct {
	name string
	src  ledger.Key
	dst  ledger.Key
}

func newRSISystem(src, dst ledger.Key) *rsiSystem {
	return &rsiSystem{name: calcName(dst), src: src, dst: dst}
}

func (s *rsiSystem) Name() string             { return s.name }
func (s *rsiSystem) Components() []ledger.Key { return []ledger.Key{s.src} }

func (s *rsiSystem) Update(l *ledger.Ledger) error {
	l.EachNew(s, func(e ledger.Entity) bool {
		g, ok := ledger.Get[Gain](l, s.src, e)
		if !ok {
			return true
		}
		loss := -g.Down
		var rsi Scalar
		switch {
		case loss == 0:
			rsi = 100
		default:
			rs := g.Up / loss
			rsi = Scalar(100 - 100/(1+rs))
		}
		ledger.Set(l, s.dst, e, rsi)
		return true
	})
	return nil
}

// bandSystem combines an SMA column and a stddev column into a two-sigma
// Bollinger band.
type bandSystem struct {
	name string
	sma  ledger.Key
	std  ledger.Key
	dst  ledger.Key
}

func newBandSystem(sma, std, dst ledger.Key) *bandSystem {
	return &bandSystem{name: calcName(dst), sma: sma, std: std, dst: dst}
}

func (s *bandSystem) Name() string             { return s.name }
func (s *bandSystem) Components() []ledger.Key { return []ledger.Key{s.sma, s.std} }

func (s *bandSystem) Update(l *ledger.Ledger) error {
	l.EachNew(s, func(e ledger.Entity) bool {
		m, okM := ledger.Get[Scalar](l, s.sma, e)
		sd, okS := ledger.Get[Scalar](l, s.std, e)
		if !okM || !okS {
			return true
		}
		ledger.Set(l, s.dst, e, Band{
			Up:   float64(m) + 2*float64(sd),
			Down: float64(m) - 2*float64(sd),
		})
		return true
	})
	return nil
}

type sharpeSystem struct {
	name string
	sma  ledger.Key
	std  ledger.Key
	dst  ledger.Key
}

func newSharpeSystem(sma, std, dst ledger.Key) *sharpeSystem {
	return &sharpeSystem{name: calcName(dst), sma: sma, std: std, dst: dst}
}

func (s *sharpeSystem) Name() string             { return s.name }
func (s *sharpeSystem) Components() []ledger.Key { return []ledger.Key{s.sma, s.std} }

func (s *sharpeSystem) Update(l *ledger.Ledger) error {
	l.EachNew(s, func(e ledger.Entity) bool {
		m, okM := ledger.Get[Scalar](l, s.sma, e)
		sd, okS := ledger.Get[Scalar](l, s.std, e)
		if !okM || !okS || sd == 0 {
			return true
		}
		ledger.Set(l, s.dst, e, m/sd)
		return true
	})
	return nil
}

func push[T any](window []T, v T, horizon int) []T {
	window = append(window, v)
	if len(window) > horizon {
		copy(window, window[1:])
		window = window[:horizon]
	}
	return window
}

func mean[T Value[T]](window []T) T {
	var acc T
	acc = acc.Zero()
	for _, v := range window {
		acc = acc.Add(v)
	}
	return acc.Scale(1 / float64(len(window)))
}

// sampleStdDev computes the trailing sample deviation elementwise:
// sqrt((Σv² − n·mean²) / (n−1)).
func sampleStdDev[T Value[T]](window []T) T {
	n := float64(len(window))
	m := mean(window)
	var sumSq T
	sumSq = sumSq.Zero()
	for _, v := range window {
		sumSq = sumSq.Add(v.Square())
	}
	variance := sumSq.Add(m.Square().Scale(-n)).Scale(1 / (n - 1))
	return variance.Sqrt()
}
