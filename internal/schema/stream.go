package schema

import (
	json "github.com/goccy/go-json"

	"github.com/coachpo/takt/errs"
)

// StreamTradeUpdates is the stream name carrying order updates; frames on
// any other stream are ignored.
const StreamTradeUpdates = "trade_updates"

// StreamMessage is the envelope around every order-update stream frame.
type StreamMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// TradeUpdate is the payload of a trade_updates frame.
type TradeUpdate struct {
	Event string `json:"event"`
	Order *Order `json:"order"`
}

// ParseStream decodes one stream frame. It returns the embedded order and
// true for trade_updates frames carrying one, (nil, false) for frames on
// other streams, and an error only for malformed payloads.
func ParseStream(frame []byte) (*Order, bool, error) {
	var msg StreamMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, false, errs.New("stream.parse", errs.CodeInvalid,
			errs.WithMessage("malformed stream frame"),
			errs.WithCause(err))
	}
	if msg.Stream != StreamTradeUpdates || len(msg.Data) == 0 {
		return nil, false, nil
	}
	var update TradeUpdate
	if err := json.Unmarshal(msg.Data, &update); err != nil {
		return nil, false, errs.New("stream.parse", errs.CodeInvalid,
			errs.WithMessage("malformed trade_updates payload"),
			errs.WithCause(err))
	}
	if update.Order == nil {
		return nil, false, nil
	}
	return update.Order, true, nil
}

// EncodeTradeUpdate renders an order as a trade_updates stream frame.
func EncodeTradeUpdate(event string, order *Order) ([]byte, error) {
	data, err := json.Marshal(TradeUpdate{Event: event, Order: order})
	if err != nil {
		return nil, errs.New("stream.encode", errs.CodeInternal, errs.WithCause(err))
	}
	frame, err := json.Marshal(StreamMessage{Stream: StreamTradeUpdates, Data: data})
	if err != nil {
		return nil, errs.New("stream.encode", errs.CodeInternal, errs.WithCause(err))
	}
	return frame, nil
}
