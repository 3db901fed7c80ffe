package schema

import (
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

func TestOrderRequestWireShape(t *testing.T) {
	limit := decimal.RequireFromString("101.25")
	req := OrderRequest{
		Symbol:      "AAPL",
		Qty:         decimal.RequireFromString("10"),
		Side:        SideBuy,
		Type:        OrderLimit,
		TimeInForce: TIFGTC,
		LimitPrice:  &limit,
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	out, err := json.Marshal(&req)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	s := string(out)
	for _, want := range []string{
		`"symbol":"AAPL"`,
		`"qty":"10"`,
		`"side":"buy"`,
		`"type":"limit"`,
		`"time_in_force":"gtc"`,
		`"limit_price":"101.25"`,
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("expected %s in wire form, got %s", want, s)
		}
	}
}

func TestOrderRequestValidation(t *testing.T) {
	base := OrderRequest{
		Symbol:      "AAPL",
		Qty:         decimal.RequireFromString("1"),
		Side:        SideBuy,
		Type:        OrderMarket,
		TimeInForce: TIFDay,
	}
	cases := []struct {
		name   string
		mutate func(*OrderRequest)
	}{
		{name: "missing symbol", mutate: func(r *OrderRequest) { r.Symbol = " " }},
		{name: "bad side", mutate: func(r *OrderRequest) { r.Side = "hold" }},
		{name: "bad type", mutate: func(r *OrderRequest) { r.Type = "iceberg" }},
		{name: "bad tif", mutate: func(r *OrderRequest) { r.TimeInForce = "gtd" }},
		{name: "zero qty", mutate: func(r *OrderRequest) { r.Qty = decimal.Zero }},
		{name: "limit without price", mutate: func(r *OrderRequest) { r.Type = OrderLimit }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := base
			tc.mutate(&req)
			if err := req.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestOrderRoundTripKeepsNullTimestamps(t *testing.T) {
	created := time.Date(2024, 5, 6, 14, 30, 0, 0, time.UTC)
	order := Order{
		Symbol:         "MSFT",
		Side:           SideSell,
		ID:             "b5c9...",
		ClientOrderID:  "takt-1",
		CreatedAt:      &created,
		FilledQty:      decimal.Zero,
		FilledAvgPrice: decimal.Zero,
		Status:         StatusNew,
		Qty:            decimal.RequireFromString("7"),
	}

	out, err := json.Marshal(&order)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if strings.Contains(string(out), "filled_at") {
		t.Fatalf("unset timestamps must be absent from the wire: %s", out)
	}

	var back Order
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if back.FilledAt != nil || back.CanceledAt != nil {
		t.Fatalf("null timestamps must come back nil")
	}
	if back.CreatedAt == nil || !back.CreatedAt.Equal(created) {
		t.Fatalf("created_at lost in round trip: %v", back.CreatedAt)
	}
	if !back.Qty.Equal(order.Qty) {
		t.Fatalf("qty lost in round trip: %v", back.Qty)
	}
}

func TestFailedStatusCarriesReason(t *testing.T) {
	order := Order{Status: FailedStatus("no price data for MSFT at 2024-05-06T14:30:00Z")}
	if !order.Failed() {
		t.Fatalf("status %q must read as failed", order.Status)
	}
	if order.Filled() {
		t.Fatalf("failed order cannot be filled")
	}
	if got := order.FailureReason(); !strings.HasPrefix(got, "no price data") {
		t.Fatalf("unexpected failure reason: %q", got)
	}
	if (&Order{Status: "failure"}).Failed() {
		t.Fatalf("only the failed prefix marks failure")
	}
}

func TestAvailableQtyParsesRetrySize(t *testing.T) {
	msg := InsufficientQtyMsg(decimal.RequireFromString("7"))
	qty, ok := AvailableQty(msg)
	if !ok {
		t.Fatalf("expected to parse %q", msg)
	}
	if !qty.Equal(decimal.RequireFromString("7")) {
		t.Fatalf("expected 7, got %v", qty)
	}
	if _, ok := AvailableQty(MsgInsufficientBuyingPower); ok {
		t.Fatalf("buying-power text must not parse as inventory failure")
	}
	if !IsInsufficientBuyingPower("403: " + MsgInsufficientBuyingPower) {
		t.Fatalf("buying-power text not recognized")
	}
}

func TestStreamParseFiltersForeignStreams(t *testing.T) {
	order := &Order{Symbol: "AAPL", Side: SideBuy, ClientOrderID: "takt-2", Status: StatusFilled}
	frame, err := EncodeTradeUpdate("fill", order)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	got, ok, err := ParseStream(frame)
	if err != nil || !ok {
		t.Fatalf("expected trade update, got ok=%v err=%v", ok, err)
	}
	if got.ClientOrderID != "takt-2" || !got.Filled() {
		t.Fatalf("order lost in stream round trip: %+v", got)
	}

	other := []byte(`{"stream":"account_updates","data":{"cash":"100"}}`)
	if _, ok, err := ParseStream(other); ok || err != nil {
		t.Fatalf("foreign streams must be ignored: ok=%v err=%v", ok, err)
	}

	if _, _, err := ParseStream([]byte(`{"stream":`)); err == nil {
		t.Fatalf("malformed frames must error")
	}
}

func TestBarFloats(t *testing.T) {
	bar := NewBar("AAPL", 10, 11, 9.5, 10.5, 1200,
		time.Date(2024, 5, 6, 14, 30, 0, 0, time.UTC),
		time.Date(2024, 5, 6, 14, 31, 0, 0, time.UTC))
	vals, err := bar.Floats()
	if err != nil {
		t.Fatalf("floats failed: %v", err)
	}
	if vals.Open != 10 || vals.Close != 10.5 || vals.Volume != 1200 {
		t.Fatalf("unexpected parsed values: %+v", vals)
	}

	bad := bar
	bad.ClosePrice = "n/a"
	if _, err := bad.Floats(); err == nil {
		t.Fatalf("expected parse error for bad close")
	}
	open, err := bar.OpenDecimal()
	if err != nil || !open.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("open decimal mismatch: %v (err=%v)", open, err)
	}
}
