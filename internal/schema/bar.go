package schema

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/takt/errs"
)

// Bar is one aggregated candlestick for an instrument.
type Bar struct {
	Symbol     string    `json:"symbol"`
	OpenPrice  string    `json:"open_price"`
	HighPrice  string    `json:"high_price"`
	LowPrice   string    `json:"low_price"`
	ClosePrice string    `json:"close_price"`
	Volume     string    `json:"volume"`
	OpenTime   time.Time `json:"open_time"`
	CloseTime  time.Time `json:"close_time"`
}

// NewBar builds a bar from float fields, formatting prices at full precision.
func NewBar(symbol string, open, high, low, closePrice, volume float64, openTime, closeTime time.Time) Bar {
	return Bar{
		Symbol:     symbol,
		OpenPrice:  decimal.NewFromFloat(open).String(),
		HighPrice:  decimal.NewFromFloat(high).String(),
		LowPrice:   decimal.NewFromFloat(low).String(),
		ClosePrice: decimal.NewFromFloat(closePrice).String(),
		Volume:     decimal.NewFromFloat(volume).String(),
		OpenTime:   openTime,
		CloseTime:  closeTime,
	}
}

// BarValues carries the parsed numeric fields of a bar.
type BarValues struct {
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Floats parses the bar's decimal strings into floats for indicator columns.
func (b *Bar) Floats() (BarValues, error) {
	fields := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{name: "open_price", raw: b.OpenPrice},
		{name: "high_price", raw: b.HighPrice},
		{name: "low_price", raw: b.LowPrice},
		{name: "close_price", raw: b.ClosePrice},
		{name: "volume", raw: b.Volume},
	}
	var out BarValues
	dsts := []*float64{&out.Open, &out.High, &out.Low, &out.Close, &out.Volume}
	for i, f := range fields {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return BarValues{}, errs.New("schema.bar", errs.CodeInvalid,
				errs.WithTicker(b.Symbol),
				errs.WithMessage("bar field "+f.name+" is not a decimal: "+f.raw))
		}
		*dsts[i], _ = d.Float64()
	}
	return out, nil
}

// OpenDecimal parses the bar open for fill pricing.
func (b *Bar) OpenDecimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(b.OpenPrice)
	if err != nil {
		return decimal.Decimal{}, errs.New("schema.bar", errs.CodeInvalid,
			errs.WithTicker(b.Symbol),
			errs.WithMessage("bar open_price is not a decimal: "+b.OpenPrice))
	}
	return d, nil
}

// CloseDecimal parses the bar close for valuation.
func (b *Bar) CloseDecimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(b.ClosePrice)
	if err != nil {
		return decimal.Decimal{}, errs.New("schema.bar", errs.CodeInvalid,
			errs.WithTicker(b.Symbol),
			errs.WithMessage("bar close_price is not a decimal: "+b.ClosePrice))
	}
	return d, nil
}

// Trade is one historical trade print.
type Trade struct {
	Symbol    string    `json:"symbol"`
	Price     string    `json:"price"`
	Qty       string    `json:"qty"`
	Side      Side      `json:"side"`
	Timestamp time.Time `json:"timestamp"`
}

func errInvalid(msg string) error {
	return errs.New("schema.validate", errs.CodeInvalid, errs.WithMessage(msg))
}
