package trader

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/takt/internal/observability"
)

// instruments carries the trader's OpenTelemetry metrics. Creation failures
// are logged and leave the affected instrument nil; recording through a nil
// instrument is a no-op, so metrics never gate trading.
type instruments struct {
	ticks        metric.Int64Counter
	orders       metric.Int64Counter
	fills        metric.Int64Counter
	failedOrders metric.Int64Counter
	tickDuration metric.Float64Histogram
}

func newInstruments() *instruments {
	meter := otel.Meter("takt.trader")
	ins := &instruments{}
	var err error
	if ins.ticks, err = meter.Int64Counter("takt.trader.ticks",
		metric.WithDescription("Completed pipeline ticks")); err != nil {
		warnInstrument("takt.trader.ticks", err)
	}
	if ins.orders, err = meter.Int64Counter("takt.trader.orders_submitted",
		metric.WithDescription("Orders accepted by the broker")); err != nil {
		warnInstrument("takt.trader.orders_submitted", err)
	}
	if ins.fills, err = meter.Int64Counter("takt.trader.fills",
		metric.WithDescription("Settled fills")); err != nil {
		warnInstrument("takt.trader.fills", err)
	}
	if ins.failedOrders, err = meter.Int64Counter("takt.trader.orders_failed",
		metric.WithDescription("Orders terminally failed")); err != nil {
		warnInstrument("takt.trader.orders_failed", err)
	}
	if ins.tickDuration, err = meter.Float64Histogram("takt.trader.tick_duration",
		metric.WithDescription("Wall time of one pipeline tick"),
		metric.WithUnit("ms")); err != nil {
		warnInstrument("takt.trader.tick_duration", err)
	}
	return ins
}

func warnInstrument(name string, err error) {
	observability.Log().Warn("metric instrument unavailable",
		observability.String("instrument", name),
		observability.Err(err))
}

func (i *instruments) tick(ctx context.Context, took time.Duration) {
	if i.ticks != nil {
		i.ticks.Add(ctx, 1)
	}
	if i.tickDuration != nil {
		i.tickDuration.Record(ctx, float64(took)/float64(time.Millisecond))
	}
}

func (i *instruments) orderSubmitted(ctx context.Context) {
	if i.orders != nil {
		i.orders.Add(ctx, 1)
	}
}

func (i *instruments) orderFailed(ctx context.Context) {
	if i.failedOrders != nil {
		i.failedOrders.Add(ctx, 1)
	}
}

func (i *instruments) fill(ctx context.Context) {
	if i.fills != nil {
		i.fills.Add(ctx, 1)
	}
}
