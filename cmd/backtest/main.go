// Command backtest runs configured strategies against simulated market
// data and prints the run report. Historical data ingestion is out of
// scope, so bars are synthesized as a seeded random walk per ticker.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coachpo/takt/config"
	"github.com/coachpo/takt/internal/broker"
	"github.com/coachpo/takt/internal/observability"
	"github.com/coachpo/takt/internal/risk"
	"github.com/coachpo/takt/internal/schema"
	"github.com/coachpo/takt/internal/script"
	"github.com/coachpo/takt/internal/strategy"
	"github.com/coachpo/takt/internal/telemetry"
	"github.com/coachpo/takt/internal/trader"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration")
	seed := flag.Int64("seed", 42, "seed for the synthetic bar generator")
	flag.Parse()

	if err := run(*configPath, *seed); err != nil {
		fmt.Fprintf(os.Stderr, "backtest: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, seed int64) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if len(cfg.Strategies) == 0 {
		return fmt.Errorf("no strategies configured")
	}

	logger := observability.NewConsoleLogger(os.Stderr, cfg.LogLevel)
	observability.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, shutdown, err := telemetry.Init(ctx, telemetry.Settings{
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", observability.Err(err))
		}
	}()

	start := cfg.Backtest.Start
	if start.IsZero() {
		start = time.Now().UTC().Truncate(24 * time.Hour).Add(-7 * 24 * time.Hour)
	}
	stopAt := cfg.Backtest.Stop
	if stopAt.IsZero() {
		stopAt = start.Add(24 * time.Hour)
	}
	dtime := cfg.Backtest.DTime.Std()

	registry := strategy.NewRegistry()
	strategy.RegisterBuiltins(registry)
	script.Register(registry)

	cache := broker.NewDataCache()
	clock := broker.NewVirtualClock(start)
	hist := broker.NewHistoricalBroker(cache, clock, broker.HistoricalConfig{
		DTime: dtime,
		Cash:  cfg.Backtest.Cash.Decimal,
		Fees: broker.PerShareFee{
			Variable: cfg.Fees.Variable.Decimal,
			PerShare: cfg.Fees.PerShare.Decimal,
			Fixed:    cfg.Fees.Fixed.Decimal,
		},
		FillAtClose: cfg.Backtest.FillAtClose,
	})

	t, err := trader.New(hist, trader.Config{
		Cash:  cfg.Backtest.Cash.Decimal,
		Start: start,
		DTime: dtime,
		Risk: risk.Limits{
			OrderRate:        float64(cfg.Risk.OrderRate),
			MaxOrderQty:      cfg.Risk.MaxOrderQty.Decimal,
			MaxOrderNotional: cfg.Risk.MaxOrderNotional.Decimal,
		},
	}, trader.WithVirtualClock(clock))
	if err != nil {
		return err
	}
	defer t.Close()

	rng := rand.New(rand.NewSource(seed))
	for _, spec := range cfg.Strategies {
		s, err := registry.Create(spec.System, strategy.Spec{
			Name:    spec.Name,
			Tickers: spec.Tickers,
			Options: spec.Options,
		})
		if err != nil {
			return err
		}
		if err := t.AddStrategy(s, spec.OnlyDay); err != nil {
			return err
		}
		for _, ticker := range spec.Tickers {
			if _, _, ok := cache.Window(ticker, dtime); ok {
				continue
			}
			bars := synthesizeBars(rng, ticker, start, stopAt, dtime)
			if err := cache.LoadBars(ticker, dtime, bars); err != nil {
				return err
			}
		}
	}

	report, err := t.Backtest(ctx, stopAt)
	if err != nil {
		return err
	}
	printReport(report)
	return nil
}

// synthesizeBars walks a price from 100 with small per-slot steps, one bar
// per dtime slot across the window.
func synthesizeBars(rng *rand.Rand, ticker string, start, stop time.Time, dtime time.Duration) []schema.Bar {
	var bars []schema.Bar
	price := 100.0
	for at := start; !at.After(stop.Add(dtime)); at = at.Add(dtime) {
		open := price
		price += (rng.Float64() - 0.5) * 0.8
		if price < 1 {
			price = 1
		}
		high, low := open, price
		if low > high {
			high, low = low, high
		}
		bars = append(bars, schema.NewBar(
			ticker, open, high+0.1, low-0.1, price,
			1000+float64(rng.Intn(9000)),
			at, at.Add(dtime),
		))
	}
	return bars
}

func printReport(r *trader.Report) {
	fmt.Printf("ticks:            %d\n", r.Ticks)
	fmt.Printf("orders submitted: %d\n", r.OrdersSubmitted)
	fmt.Printf("orders filled:    %d\n", r.OrdersFilled)
	fmt.Printf("orders failed:    %d\n", r.OrdersFailed)
	fmt.Printf("volume:           %s\n", r.Volume.StringFixed(2))
	fmt.Printf("fees:             %s\n", r.Fees.StringFixed(2))
	fmt.Printf("start cash:       %s\n", r.StartCash.StringFixed(2))
	fmt.Printf("final equity:     %s\n", r.FinalEquity.StringFixed(2))
	fmt.Printf("net profit:       %s\n", r.NetProfit.StringFixed(2))
	fmt.Printf("max drawdown:     %s\n", r.MaxDrawdown.StringFixed(2))
}
