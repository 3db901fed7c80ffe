package trader

import (
	"time"

	"github.com/shopspring/decimal"
)

// Report accumulates run statistics from fills and snapshots. Historical
// runs return it from Backtest; live runs expose it through Trader.Report.
type Report struct {
	Start time.Time
	Stop  time.Time

	Ticks           int
	OrdersSubmitted int
	OrdersFilled    int
	OrdersFailed    int

	// Volume is the summed absolute fill notional; Fees the summed
	// commissions.
	Volume decimal.Decimal
	Fees   decimal.Decimal

	StartCash   decimal.Decimal
	FinalEquity decimal.Decimal
	NetProfit   decimal.Decimal

	// MaxDrawdown is the largest peak-to-trough equity drop observed across
	// the snapshot series, as an absolute amount.
	MaxDrawdown decimal.Decimal

	Snapshots []PortfolioSnapshot

	peak decimal.Decimal
}

func newReport(cash decimal.Decimal, start time.Time) *Report {
	return &Report{
		Start:     start,
		Volume:    decimal.Zero,
		Fees:      decimal.Zero,
		StartCash: cash,
		peak:      cash,
	}
}

// observe folds one end-of-tick snapshot into the running statistics.
func (r *Report) observe(snap PortfolioSnapshot) {
	r.Snapshots = append(r.Snapshots, snap)
	if snap.Equity.GreaterThan(r.peak) {
		r.peak = snap.Equity
	}
	if dd := r.peak.Sub(snap.Equity); dd.GreaterThan(r.MaxDrawdown) {
		r.MaxDrawdown = dd
	}
}

// finish derives the terminal figures from the snapshot series. Idempotent.
func (r *Report) finish() {
	if len(r.Snapshots) == 0 {
		r.FinalEquity = r.StartCash
		r.NetProfit = decimal.Zero
		return
	}
	last := r.Snapshots[len(r.Snapshots)-1]
	r.Stop = last.Time
	r.FinalEquity = last.Equity
	r.NetProfit = last.Equity.Sub(r.StartCash)
}
