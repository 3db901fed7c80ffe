// Package schema defines the wire-level payloads exchanged with brokers:
// order submissions and reports, bars, and order-update stream envelopes.
// Quantities and prices travel as decimal strings; timestamps are RFC 3339
// and omitted entirely while unset.
package schema

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies the direction of an order.
type Side string

const (
	// SideBuy buys the instrument.
	SideBuy Side = "buy"
	// SideSell sells the instrument.
	SideSell Side = "sell"
)

// Valid reports whether the side is a known value.
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// Opposite returns the other direction.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType identifies the execution style of an order.
type OrderType string

const (
	// OrderMarket executes at the prevailing price.
	OrderMarket OrderType = "market"
	// OrderLimit executes at the limit price or better.
	OrderLimit OrderType = "limit"
	// OrderStop becomes a market order once the stop price trades.
	OrderStop OrderType = "stop"
	// OrderStopLimit becomes a limit order once the stop price trades.
	OrderStopLimit OrderType = "stop_limit"
	// OrderTrailingStop follows the price at a trailing offset.
	OrderTrailingStop OrderType = "trailing_stop"
)

// Valid reports whether the order type is a known value.
func (o OrderType) Valid() bool {
	switch o {
	case OrderMarket, OrderLimit, OrderStop, OrderStopLimit, OrderTrailingStop:
		return true
	default:
		return false
	}
}

// TimeInForce bounds the lifetime of an order.
type TimeInForce string

const (
	// TIFDay keeps the order until the session closes.
	TIFDay TimeInForce = "day"
	// TIFGTC keeps the order until cancelled.
	TIFGTC TimeInForce = "gtc"
	// TIFOPG executes in the opening auction only.
	TIFOPG TimeInForce = "opg"
	// TIFCLS executes in the closing auction only.
	TIFCLS TimeInForce = "cls"
	// TIFIOC fills immediately, cancelling any remainder.
	TIFIOC TimeInForce = "ioc"
	// TIFFOK fills completely and immediately or not at all.
	TIFFOK TimeInForce = "fok"
)

// Valid reports whether the time in force is a known value.
func (t TimeInForce) Valid() bool {
	switch t {
	case TIFDay, TIFGTC, TIFOPG, TIFCLS, TIFIOC, TIFFOK:
		return true
	default:
		return false
	}
}

// OrderRequest is an order submission. ClientOrderID lets the submitter
// correlate stream updates with the request; brokers mint one when absent.
type OrderRequest struct {
	Symbol        string           `json:"symbol"`
	Qty           decimal.Decimal  `json:"qty"`
	Side          Side             `json:"side"`
	Type          OrderType        `json:"type"`
	TimeInForce   TimeInForce      `json:"time_in_force"`
	LimitPrice    *decimal.Decimal `json:"limit_price,omitempty"`
	ClientOrderID string           `json:"client_order_id,omitempty"`
}

// Validate checks the request shape before submission.
func (r *OrderRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.Symbol) == "":
		return errInvalid("order request missing symbol")
	case !r.Side.Valid():
		return errInvalid("order request side " + string(r.Side) + " unknown")
	case !r.Type.Valid():
		return errInvalid("order request type " + string(r.Type) + " unknown")
	case !r.TimeInForce.Valid():
		return errInvalid("order request time in force " + string(r.TimeInForce) + " unknown")
	case r.Qty.Sign() <= 0:
		return errInvalid("order request qty must be positive")
	case r.Type == OrderLimit && r.LimitPrice == nil:
		return errInvalid("limit order missing limit price")
	default:
		return nil
	}
}

// Order statuses. A failed order's status begins with StatusFailedPrefix and
// carries the broker's failure text on the following line.
const (
	StatusNew             = "new"
	StatusPartiallyFilled = "partially_filled"
	StatusFilled          = "filled"
	StatusCanceled        = "canceled"
	StatusExpired         = "expired"
	StatusFailedPrefix    = "failed\n"
)

// Order is a broker's view of a submitted order, returned from submission
// and repeated on the order-update stream.
type Order struct {
	Symbol         string          `json:"symbol"`
	Side           Side            `json:"side"`
	ID             string          `json:"id"`
	ClientOrderID  string          `json:"client_order_id"`
	CreatedAt      *time.Time      `json:"created_at,omitempty"`
	UpdatedAt      *time.Time      `json:"updated_at,omitempty"`
	SubmittedAt    *time.Time      `json:"submitted_at,omitempty"`
	FilledAt       *time.Time      `json:"filled_at,omitempty"`
	ExpiredAt      *time.Time      `json:"expired_at,omitempty"`
	CanceledAt     *time.Time      `json:"canceled_at,omitempty"`
	FailedAt       *time.Time      `json:"failed_at,omitempty"`
	FilledQty      decimal.Decimal `json:"filled_qty"`
	FilledAvgPrice decimal.Decimal `json:"filled_avg_price"`
	Status         string          `json:"status"`
	Qty            decimal.Decimal `json:"qty"`
	// Fee is the commission charged on the fill. Simulated fills always
	// carry it; live venues that do not report fees leave it zero.
	Fee decimal.Decimal `json:"fee"`
}

// Failed reports whether the order terminally failed.
func (o *Order) Failed() bool {
	return strings.HasPrefix(o.Status, StatusFailedPrefix)
}

// Filled reports whether the order is completely filled.
func (o *Order) Filled() bool { return o.Status == StatusFilled }

// FailureReason returns the broker failure text of a failed order.
func (o *Order) FailureReason() string {
	if !o.Failed() {
		return ""
	}
	return strings.TrimPrefix(o.Status, StatusFailedPrefix)
}

// FailedStatus builds the status value for a failed order.
func FailedStatus(reason string) string { return StatusFailedPrefix + reason }

// Broker failure texts the retry rules understand.
const (
	// MsgInsufficientBuyingPower rejects an order exceeding day-trading
	// buying power; retrying shrinks the quantity.
	MsgInsufficientBuyingPower = "insufficient day-trading buying power"
	// msgInsufficientQtyPrefix rejects a sale exceeding the available
	// inventory; the parenthesized quantity is the retry size.
	msgInsufficientQtyPrefix = "insufficient qty available for order"
)

var availableQtyPattern = regexp.MustCompile(`insufficient qty available for order \(available: ([0-9.]+)\)`)

// InsufficientQtyMsg renders the inventory failure text for a quantity.
func InsufficientQtyMsg(available decimal.Decimal) string {
	return msgInsufficientQtyPrefix + " (available: " + available.String() + ")"
}

// IsInsufficientBuyingPower matches the buying-power failure text.
func IsInsufficientBuyingPower(raw string) bool {
	return strings.Contains(raw, MsgInsufficientBuyingPower)
}

// AvailableQty extracts the available quantity from an inventory failure.
func AvailableQty(raw string) (decimal.Decimal, bool) {
	m := availableQtyPattern.FindStringSubmatch(raw)
	if m == nil {
		return decimal.Decimal{}, false
	}
	qty, err := decimal.NewFromString(m[1])
	if err != nil {
		return decimal.Decimal{}, false
	}
	return qty, true
}
