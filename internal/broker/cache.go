package broker

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/takt/errs"
	"github.com/coachpo/takt/internal/schema"
)

// DataCache holds the bars and trade prints a historical broker replays.
// Bars are keyed by ticker and timeframe and kept sorted by open time.
type DataCache struct {
	mu     sync.RWMutex
	bars   map[barKey][]schema.Bar
	trades map[string][]schema.Trade
}

type barKey struct {
	ticker    string
	timeframe time.Duration
}

// NewDataCache returns an empty cache.
func NewDataCache() *DataCache {
	return &DataCache{
		bars:   make(map[barKey][]schema.Bar),
		trades: make(map[string][]schema.Trade),
	}
}

// LoadBars merges bars for a ticker and timeframe into the cache. Bars with
// an open time already present replace the cached row.
func (c *DataCache) LoadBars(ticker string, timeframe time.Duration, bars []schema.Bar) error {
	if timeframe <= 0 {
		return errs.New("broker.cache", errs.CodeInvalid,
			errs.WithTicker(ticker),
			errs.WithMessage("timeframe must be positive"))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := barKey{ticker: ticker, timeframe: timeframe}
	merged := append([]schema.Bar(nil), c.bars[key]...)
	for _, bar := range bars {
		i := searchBars(merged, bar.OpenTime)
		switch {
		case i < len(merged) && merged[i].OpenTime.Equal(bar.OpenTime):
			merged[i] = bar
		default:
			merged = append(merged, schema.Bar{})
			copy(merged[i+1:], merged[i:])
			merged[i] = bar
		}
	}
	c.bars[key] = merged
	return nil
}

// LoadTrades merges trade prints for a ticker into the cache.
func (c *DataCache) LoadTrades(ticker string, trades []schema.Trade) {
	c.mu.Lock()
	defer c.mu.Unlock()
	merged := append(c.trades[ticker], trades...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	c.trades[ticker] = merged
}

// Bars returns the cached bars with open times in [start, stop].
func (c *DataCache) Bars(ticker string, timeframe time.Duration, start, stop time.Time) []schema.Bar {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bars := c.bars[barKey{ticker: ticker, timeframe: timeframe}]
	lo := searchBars(bars, start)
	hi := sort.Search(len(bars), func(i int) bool { return bars[i].OpenTime.After(stop) })
	if lo >= hi {
		return nil
	}
	return append([]schema.Bar(nil), bars[lo:hi]...)
}

// Trades returns the cached trade prints with timestamps in [start, stop].
func (c *DataCache) Trades(ticker string, start, stop time.Time) []schema.Trade {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []schema.Trade
	for _, tr := range c.trades[ticker] {
		if tr.Timestamp.Before(start) || tr.Timestamp.After(stop) {
			continue
		}
		out = append(out, tr)
	}
	return out
}

// BarAtOrAfter returns the first bar whose open time is at or after ts.
func (c *DataCache) BarAtOrAfter(ticker string, timeframe time.Duration, ts time.Time) (schema.Bar, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bars := c.bars[barKey{ticker: ticker, timeframe: timeframe}]
	i := searchBars(bars, ts)
	if i >= len(bars) {
		return schema.Bar{}, false
	}
	return bars[i], true
}

// BarAt returns the bar whose open time equals ts exactly.
func (c *DataCache) BarAt(ticker string, timeframe time.Duration, ts time.Time) (schema.Bar, bool) {
	bar, ok := c.BarAtOrAfter(ticker, timeframe, ts)
	if !ok || !bar.OpenTime.Equal(ts) {
		return schema.Bar{}, false
	}
	return bar, true
}

// PriceAt returns the close of the latest bar at or before ts for a ticker,
// looking across every cached timeframe.
func (c *DataCache) PriceAt(ticker string, ts time.Time) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var (
		best     schema.Bar
		bestOpen time.Time
		found    bool
	)
	for key, bars := range c.bars {
		if key.ticker != ticker {
			continue
		}
		i := sort.Search(len(bars), func(i int) bool { return bars[i].OpenTime.After(ts) })
		if i == 0 {
			continue
		}
		bar := bars[i-1]
		if !found || bar.OpenTime.After(bestOpen) {
			best, bestOpen, found = bar, bar.OpenTime, true
		}
	}
	if !found {
		return decimal.Decimal{}, false
	}
	price, err := best.CloseDecimal()
	if err != nil {
		return decimal.Decimal{}, false
	}
	return price, true
}

// Window returns the open times of the first and last cached bar for a
// ticker and timeframe.
func (c *DataCache) Window(ticker string, timeframe time.Duration) (start, stop time.Time, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bars := c.bars[barKey{ticker: ticker, timeframe: timeframe}]
	if len(bars) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return bars[0].OpenTime, bars[len(bars)-1].OpenTime, true
}

// Tickers returns the tickers with cached bars, sorted.
func (c *DataCache) Tickers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]struct{}, len(c.bars))
	for key := range c.bars {
		seen[key.ticker] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for ticker := range seen {
		out = append(out, ticker)
	}
	sort.Strings(out)
	return out
}

// searchBars returns the index of the first bar not opening before ts.
func searchBars(bars []schema.Bar, ts time.Time) int {
	return sort.Search(len(bars), func(i int) bool { return !bars[i].OpenTime.Before(ts) })
}
