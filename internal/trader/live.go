package trader

import (
	"context"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/takt/internal/market"
	"github.com/coachpo/takt/internal/observability"
)

// Live mode runs three cooperative tasks over the shared ledger: the data
// task streams bars into asset ledgers, the trading task collects order
// updates into the inbox, and the main task runs the pipeline whenever new
// data is signalled. The ledger lock is held for a whole tick by the main
// task and only for single insertions by the other two; no task holds it
// across a blocking read.

// Run drives the trader until the context ends or Stop is called.
func (t *Trader) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	defer cancel()

	var wg conc.WaitGroup
	wg.Go(func() { t.dataTask(ctx) })
	wg.Go(func() { t.tradingTask(ctx) })
	wg.Go(func() { t.mainTask(ctx) })
	wg.Wait()
	return t.runErr()
}

// Stop halts all three tasks and cancels whatever rests at the broker.
func (t *Trader) Stop() {
	t.stopMain.Store(true)
	t.stopData.Store(true)
	t.stopTrad.Store(true)
	if t.cancel != nil {
		t.cancel()
	}
	if err := t.broker.DeleteAllOrders(context.Background()); err != nil {
		observability.Log().Warn("stop: cancel open orders", observability.Err(err))
	}
}

// signalNewData nudges the main task; the event is level-triggered, so
// coalescing bursts into one pending signal is fine.
func (t *Trader) signalNewData() {
	select {
	case t.newData <- struct{}{}:
	default:
	}
}

func (t *Trader) dataTask(ctx context.Context) {
	var wg conc.WaitGroup
	for ticker, asset := range t.assets {
		ticker, asset := ticker, asset
		bars, err := t.broker.SubscribeBars(ctx, ticker, t.cfg.DTime)
		if err != nil {
			t.fail(err)
			return
		}
		wg.Go(func() {
			for bar := range bars {
				if t.stopData.Load() {
					return
				}
				bar := bar
				t.mu.Lock()
				_, err := market.ApplyBar(asset, &bar)
				t.mu.Unlock()
				if err != nil {
					observability.Log().Warn("bar rejected",
						observability.String("ticker", ticker),
						observability.Err(err))
					continue
				}
				t.signalNewData()
			}
		})
	}
	wg.Wait()
}

func (t *Trader) tradingTask(ctx context.Context) {
	for !t.stopTrad.Load() {
		update, err := t.broker.ReceiveOrder(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			observability.Log().Warn("order stream read", observability.Err(err))
			continue
		}
		if update == nil {
			// Brokers without a pending update report idle; back off
			// briefly instead of spinning.
			if !sleepCtx(ctx, 50*time.Millisecond) {
				return
			}
			continue
		}
		t.mu.Lock()
		t.inbox = append(t.inbox, update)
		t.mu.Unlock()
		t.signalNewData()
	}
}

func (t *Trader) mainTask(ctx context.Context) {
	for !t.stopMain.Load() {
		select {
		case <-ctx.Done():
			return
		case <-t.newData:
		case <-time.After(t.cfg.DTime):
			// Ticks also fire on the bar period so clock advance and day
			// close never stall on a quiet feed.
		}
		t.mu.Lock()
		err := t.runTick(ctx)
		t.mu.Unlock()
		if err != nil {
			t.fail(err)
			t.Stop()
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// fail records the first task error; later ones only get logged.
func (t *Trader) fail(err error) {
	t.errMu.Lock()
	if t.firstErr == nil {
		t.firstErr = err
	}
	t.errMu.Unlock()
	observability.Log().Error("trader task failed", observability.Err(err))
}

func (t *Trader) runErr() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.firstErr
}
