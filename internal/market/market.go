// Package market binds broker bars to ledger columns and models trading
// sessions. Each asset gets its own ledger holding timestamps, bar fields and
// derived indicators; orders and portfolio state never enter asset ledgers.
package market

import (
	"time"

	"github.com/coachpo/takt/internal/indicator"
	"github.com/coachpo/takt/internal/ledger"
	"github.com/coachpo/takt/internal/schema"
)

// KeyTimeStamp is the per-entity observation time. Every row in every ledger
// carries one.
var KeyTimeStamp = ledger.Register[time.Time]("timestamp")

// NewAssetLedger builds the per-ticker ledger with its data columns in place.
func NewAssetLedger(ticker string) (*ledger.Ledger, error) {
	l := ledger.New(ticker)
	keys := []ledger.Key{
		KeyTimeStamp,
		indicator.Open,
		indicator.High,
		indicator.Low,
		indicator.Close,
		indicator.Volume,
	}
	for _, key := range keys {
		if err := l.EnsureColumn(key); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// ApplyBar appends one bar as a new entity across the data columns, stamped
// with the bar's open time.
func ApplyBar(l *ledger.Ledger, bar *schema.Bar) (ledger.Entity, error) {
	vals, err := bar.Floats()
	if err != nil {
		return 0, err
	}
	e := l.NewEntity(
		ledger.With(KeyTimeStamp, bar.OpenTime),
		ledger.With(indicator.Open, indicator.Scalar(vals.Open)),
		ledger.With(indicator.High, indicator.Scalar(vals.High)),
		ledger.With(indicator.Low, indicator.Scalar(vals.Low)),
		ledger.With(indicator.Close, indicator.Scalar(vals.Close)),
		ledger.With(indicator.Volume, indicator.Scalar(vals.Volume)),
	)
	return e, nil
}

// LatestClose reads the newest close in the ledger.
func LatestClose(l *ledger.Ledger) (float64, bool) {
	_, v, ok := ledger.At[indicator.Scalar](l, indicator.Close, -1)
	return float64(v), ok
}

// CombinedID joins the tickers of a strategy into its combined ledger id.
func CombinedID(tickers []string) string {
	id := ""
	for i, t := range tickers {
		if i > 0 {
			id += "_"
		}
		id += t
	}
	return id
}

// TickerTimeStamp is the alias under which an asset's timestamps mount in a
// combined ledger.
func TickerTimeStamp(ticker string) ledger.Key {
	return ledger.Register[time.Time]("timestamp@" + ticker)
}

// NewCombinedLedger builds a strategy's combined ledger and mounts each
// asset's close and timestamp columns under per-ticker aliases ("close@MSFT")
// so strategy systems can read every asset from one place.
func NewCombinedLedger(assets map[string]*ledger.Ledger, tickers []string) (*ledger.Ledger, error) {
	l := ledger.New(CombinedID(tickers))
	if err := l.EnsureColumn(KeyTimeStamp); err != nil {
		return nil, err
	}
	for _, ticker := range tickers {
		asset, ok := assets[ticker]
		if !ok {
			continue
		}
		alias := indicator.TickerColumn(indicator.KindClose, ticker)
		if err := l.Borrow(asset, alias, indicator.Close); err != nil {
			return nil, err
		}
		if err := l.Borrow(asset, TickerTimeStamp(ticker), KeyTimeStamp); err != nil {
			return nil, err
		}
	}
	return l, nil
}
