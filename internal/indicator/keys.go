package indicator

import (
	"fmt"
	"sync"

	"github.com/coachpo/takt/internal/ledger"
)

// Kind names the structural family of an indicator column.
type Kind string

const (
	// KindOpen is the bar open price.
	KindOpen Kind = "open"
	// KindHigh is the bar high price.
	KindHigh Kind = "high"
	// KindLow is the bar low price.
	KindLow Kind = "low"
	// KindClose is the bar close price.
	KindClose Kind = "close"
	// KindVolume is the bar volume.
	KindVolume Kind = "volume"
	// KindSpread is a strategy-computed price spread between two assets.
	KindSpread Kind = "spread"
	// KindSMA is a simple moving average over a horizon.
	KindSMA Kind = "sma"
	// KindEMA is an exponential moving average over a horizon.
	KindEMA Kind = "ema"
	// KindMovingStdDev is a trailing sample standard deviation.
	KindMovingStdDev Kind = "stddev"
	// KindDifference is the first difference of its source.
	KindDifference Kind = "diff"
	// KindRelativeDifference is the relative first difference of its source.
	KindRelativeDifference Kind = "reldiff"
	// KindUpDown splits a change into gain and loss parts.
	KindUpDown Kind = "updown"
	// KindLogVal is the natural log of its source.
	KindLogVal Kind = "log"
	// KindRSI is the relative strength index.
	KindRSI Kind = "rsi"
	// KindBollinger is a Bollinger band around an SMA.
	KindBollinger Kind = "bollinger"
	// KindSharpe is a trailing Sharpe ratio of its source.
	KindSharpe Kind = "sharpe"
)

// Desc is the structure behind an interned indicator key. Primitive columns
// (bar fields, spread) carry only a kind, optionally qualified by a ticker
// when mounted into a combined ledger.
type Desc struct {
	Kind    Kind
	Horizon int
	Source  ledger.Key
	Ticker  string
}

type elemKind int

const (
	elemScalar elemKind = iota
	elemGain
	elemBand
)

var interned = struct {
	mu     sync.RWMutex
	byDesc map[Desc]ledger.Key
	byKey  map[ledger.Key]Desc
}{
	byDesc: make(map[Desc]ledger.Key),
	byKey:  make(map[ledger.Key]Desc),
}

// Bar field columns. Spread is the pair-strategy price spread; combined
// ledgers own their spread column directly.
var (
	Open   = Primitive(KindOpen)
	High   = Primitive(KindHigh)
	Low    = Primitive(KindLow)
	Close  = Primitive(KindClose)
	Volume = Primitive(KindVolume)
	Spread = Primitive(KindSpread)
)

// Primitive interns an unparameterized data column of scalar values.
func Primitive(kind Kind) ledger.Key {
	return intern(Desc{Kind: kind, Horizon: 0, Source: 0, Ticker: ""})
}

// TickerColumn interns a per-ticker alias of a primitive kind, used when a
// combined ledger borrows an asset ledger's column ("close@MSFT").
func TickerColumn(kind Kind, ticker string) ledger.Key {
	return intern(Desc{Kind: kind, Horizon: 0, Source: 0, Ticker: ticker})
}

// SMA interns a simple moving average of src over horizon bars.
func SMA(horizon int, src ledger.Key) ledger.Key {
	return intern(Desc{Kind: KindSMA, Horizon: horizon, Source: src, Ticker: ""})
}

// EMA interns an exponential moving average of src over horizon bars.
func EMA(horizon int, src ledger.Key) ledger.Key {
	return intern(Desc{Kind: KindEMA, Horizon: horizon, Source: src, Ticker: ""})
}

// MovingStdDev interns a trailing sample standard deviation of src.
func MovingStdDev(horizon int, src ledger.Key) ledger.Key {
	return intern(Desc{Kind: KindMovingStdDev, Horizon: horizon, Source: src, Ticker: ""})
}

// Difference interns the first difference of src.
func Difference(src ledger.Key) ledger.Key {
	return intern(Desc{Kind: KindDifference, Horizon: 0, Source: src, Ticker: ""})
}

// RelativeDifference interns the relative first difference of src.
func RelativeDifference(src ledger.Key) ledger.Key {
	return intern(Desc{Kind: KindRelativeDifference, Horizon: 0, Source: src, Ticker: ""})
}

// UpDown interns the gain/loss split of src.
func UpDown(src ledger.Key) ledger.Key {
	return intern(Desc{Kind: KindUpDown, Horizon: 0, Source: src, Ticker: ""})
}

// LogVal interns the natural log of src.
func LogVal(src ledger.Key) ledger.Key {
	return intern(Desc{Kind: KindLogVal, Horizon: 0, Source: src, Ticker: ""})
}

// RSI interns the relative strength index of src over horizon bars.
func RSI(horizon int, src ledger.Key) ledger.Key {
	return intern(Desc{Kind: KindRSI, Horizon: horizon, Source: src, Ticker: ""})
}

// Bollinger interns a Bollinger band of src over horizon bars.
func Bollinger(horizon int, src ledger.Key) ledger.Key {
	return intern(Desc{Kind: KindBollinger, Horizon: horizon, Source: src, Ticker: ""})
}

// Sharpe interns a trailing Sharpe ratio of src over horizon bars.
func Sharpe(horizon int, src ledger.Key) ledger.Key {
	return intern(Desc{Kind: KindSharpe, Horizon: horizon, Source: src, Ticker: ""})
}

// DescOf resolves the structure behind an interned indicator key.
func DescOf(key ledger.Key) (Desc, bool) {
	interned.mu.RLock()
	defer interned.mu.RUnlock()
	desc, ok := interned.byKey[key]
	return desc, ok
}

func intern(desc Desc) ledger.Key {
	interned.mu.RLock()
	key, ok := interned.byDesc[desc]
	interned.mu.RUnlock()
	if ok {
		return key
	}

	name := columnName(desc)
	switch elemOfDesc(desc) {
	case elemGain:
		key = ledger.RegisterNumeric[Gain](name)
	case elemBand:
		key = ledger.RegisterNumeric[Band](name)
	default:
		key = ledger.RegisterNumeric[Scalar](name)
	}

	interned.mu.Lock()
	if existing, ok := interned.byDesc[desc]; ok {
		interned.mu.Unlock()
		return existing
	}
	interned.byDesc[desc] = key
	interned.byKey[key] = desc
	interned.mu.Unlock()
	return key
}

func columnName(desc Desc) string {
	if desc.Source == 0 {
		if desc.Ticker != "" {
			return fmt.Sprintf("%s@%s", desc.Kind, desc.Ticker)
		}
		return string(desc.Kind)
	}
	if desc.Horizon > 0 {
		return fmt.Sprintf("%s(%d,%s)", desc.Kind, desc.Horizon, ledger.NameOf(desc.Source))
	}
	return fmt.Sprintf("%s(%s)", desc.Kind, ledger.NameOf(desc.Source))
}

// elemOf reports the element kind of an interned indicator column; plain
// ledger components report scalar, which only matters to callers that already
// know the key is an indicator.
func elemOf(key ledger.Key) elemKind {
	desc, ok := DescOf(key)
	if !ok {
		return elemScalar
	}
	return elemOfDesc(desc)
}

func elemOfDesc(desc Desc) elemKind {
	switch desc.Kind {
	case KindUpDown:
		return elemGain
	case KindBollinger:
		return elemBand
	case KindSMA, KindEMA, KindMovingStdDev, KindDifference:
		return elemOf(desc.Source)
	default:
		return elemScalar
	}
}
