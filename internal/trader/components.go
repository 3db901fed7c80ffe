// Package trader owns the main ledger and the per-tick pipeline that drives
// it: strategies emit purchase and sale signals, the order systems submit
// them to a broker, fills settle into positions and cash, and a portfolio
// snapshot closes each tick. One trader serves both execution modes; the
// historical mode replays cached bars against a virtual clock and the live
// mode feeds the same pipeline from three cooperative tasks.
package trader

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/takt/internal/ledger"
	"github.com/coachpo/takt/internal/schema"
)

// Clock is the main ledger's time singleton. Historical runs advance Time by
// DTime once per tick; live runs overwrite Time with the broker's now.
type Clock struct {
	Time  time.Time
	DTime time.Duration
}

// Cash is the account balance singleton. Fills settle against it.
type Cash struct {
	Balance decimal.Decimal
}

// PurchasePower is the sizing budget singleton. It snapshots Cash at tick
// entry and is the only balance strategies may read, so sizing stays stable
// while fills settle within the same tick. Submitted buys debit it.
type PurchasePower struct {
	Cash decimal.Decimal
}

// Position is the held quantity of one ticker, signed. Exactly one row
// exists per ticker that any strategy observes; its quantity equals the
// signed sum of fills for that ticker.
type Position struct {
	Ticker   string
	Quantity decimal.Decimal
}

// Signal is a purchase or sale intent emitted by a strategy. The same type
// backs both columns; the column it lands in carries the direction. A nil
// Limit submits a market order.
type Signal struct {
	Ticker string
	Qty    decimal.Decimal
	Limit  *decimal.Decimal
}

// Filled is the terminal settlement component. An entity bearing it also
// bears an order and exactly one of the signal components.
type Filled struct {
	AvgPrice decimal.Decimal
	Qty      decimal.Decimal
	Fee      decimal.Decimal
}

// PortfolioSnapshot values the account at the end of one tick: cash plus
// every position at its current price.
type PortfolioSnapshot struct {
	Time   time.Time
	Cash   decimal.Decimal
	Equity decimal.Decimal
}

// StrategyInfo is the descriptor row of one registered strategy.
type StrategyInfo struct {
	Name    string
	Tickers []string
	OnlyDay bool
}

// Main-ledger component keys.
var (
	KeyClock         = ledger.Register[Clock]("clock")
	KeyCash          = ledger.Register[Cash]("cash")
	KeyPurchasePower = ledger.Register[PurchasePower]("purchase_power")
	KeyPosition      = ledger.Register[Position]("position")
	KeyPurchase      = ledger.Register[Signal]("purchase")
	KeySale          = ledger.Register[Signal]("sale")
	KeyOrder         = ledger.Register[*schema.Order]("order")
	KeyFilled        = ledger.Register[Filled]("filled")
	KeySnapshot      = ledger.Register[PortfolioSnapshot]("portfolio_snapshot")
	KeyStrategy      = ledger.Register[StrategyInfo]("strategy")
)
