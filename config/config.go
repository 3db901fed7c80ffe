// Package config loads the takt configuration tree from YAML: broker
// endpoints, strategy declarations, backtest window, fee schedule, risk
// limits and the ambient logging/telemetry settings.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/coachpo/takt/errs"
)

// Duration wraps time.Duration with YAML support for strings like "1m" or
// "24h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return errs.New("config.duration", errs.CodeInvalid,
			errs.WithMessage("duration must be a scalar"), errs.WithCause(err))
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return errs.New("config.duration", errs.CodeInvalid,
			errs.WithMessage("parse duration "+raw), errs.WithCause(err))
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Rate is an events-per-second limit. The YAML value "unlimited" (or zero)
// disables the limit.
type Rate float64

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *Rate) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil && strings.EqualFold(strings.TrimSpace(raw), "unlimited") {
		*r = 0
		return nil
	}
	var f float64
	if err := value.Decode(&f); err != nil {
		return errs.New("config.rate", errs.CodeInvalid,
			errs.WithMessage(`rate must be a number or "unlimited"`), errs.WithCause(err))
	}
	if f < 0 {
		return errs.New("config.rate", errs.CodeInvalid,
			errs.WithMessage("rate must not be negative"))
	}
	*r = Rate(f)
	return nil
}

// Decimal wraps decimal.Decimal with YAML support, since the yaml decoder
// does not consult text unmarshalers.
type Decimal struct {
	decimal.Decimal
}

// D builds a config decimal from a raw decimal value.
func D(v decimal.Decimal) Decimal { return Decimal{Decimal: v} }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Decimal) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return errs.New("config.decimal", errs.CodeInvalid,
			errs.WithMessage("decimal must be a scalar"), errs.WithCause(err))
	}
	parsed, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return errs.New("config.decimal", errs.CodeInvalid,
			errs.WithMessage("parse decimal "+raw), errs.WithCause(err))
	}
	d.Decimal = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Decimal) MarshalYAML() (any, error) { return d.String(), nil }

// Broker points the live trader at its venue. Backtests ignore it.
type Broker struct {
	Endpoint  string `yaml:"endpoint"`
	StreamURL string `yaml:"stream_url"`
	Key       string `yaml:"key"`
	Secret    string `yaml:"secret"`
}

// Fees parameterizes the simulated commission schedule.
type Fees struct {
	Variable Decimal `yaml:"variable_transaction_fee"`
	PerShare Decimal `yaml:"fee_per_share"`
	Fixed    Decimal `yaml:"fixed_transaction_fee"`
}

// Backtest bounds a historical run.
type Backtest struct {
	Start       time.Time `yaml:"start"`
	Stop        time.Time `yaml:"stop"`
	DTime       Duration  `yaml:"dtime"`
	Cash        Decimal   `yaml:"cash"`
	FillAtClose bool      `yaml:"only_close"`
}

// Strategy declares one strategy instance.
type Strategy struct {
	Name    string         `yaml:"name"`
	System  string         `yaml:"system"`
	Tickers []string       `yaml:"tickers"`
	OnlyDay bool           `yaml:"only_day"`
	Options map[string]any `yaml:"options"`
}

// Risk carries the pre-trade limits.
type Risk struct {
	OrderRate        Rate    `yaml:"order_rate"`
	MaxOrderQty      Decimal `yaml:"max_order_qty"`
	MaxOrderNotional Decimal `yaml:"max_order_notional"`
}

// Telemetry selects the metric export target; empty means no-op providers.
type Telemetry struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// Config is the takt configuration tree.
type Config struct {
	LogLevel   string     `yaml:"log_level"`
	Broker     Broker     `yaml:"broker"`
	Fees       Fees       `yaml:"fees"`
	Backtest   Backtest   `yaml:"backtest"`
	Strategies []Strategy `yaml:"strategies"`
	Risk       Risk       `yaml:"risk"`
	Telemetry  Telemetry  `yaml:"telemetry"`
}

// Default returns the embedded defaults: a one-minute tick, the stock
// half-cent-per-share commission, info logging and no telemetry export.
func Default() Config {
	return Config{
		LogLevel: "info",
		Fees: Fees{
			Variable: D(decimal.Zero),
			PerShare: D(decimal.NewFromFloat(0.005)),
			Fixed:    D(decimal.Zero),
		},
		Backtest: Backtest{
			DTime: Duration(time.Minute),
			Cash:  D(decimal.NewFromInt(100_000)),
		},
		Telemetry: Telemetry{ServiceName: "takt"},
	}
}

// Load reads, parses and validates the configuration file, layered over the
// defaults.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errs.New("config.load", errs.CodeNotFound,
			errs.WithMessage("read config "+path), errs.WithCause(err))
	}
	return Parse(raw)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(raw []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, errs.New("config.parse", errs.CodeInvalid,
			errs.WithMessage("decode config"), errs.WithCause(err))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.Backtest.DTime <= 0 {
		return invalid("backtest dtime must be positive")
	}
	if c.Backtest.Cash.Sign() < 0 {
		return invalid("backtest cash must not be negative")
	}
	if !c.Backtest.Stop.IsZero() && !c.Backtest.Start.IsZero() &&
		!c.Backtest.Stop.After(c.Backtest.Start) {
		return invalid("backtest stop must be after start")
	}
	seen := make(map[string]bool, len(c.Strategies))
	for i := range c.Strategies {
		s := &c.Strategies[i]
		if strings.TrimSpace(s.Name) == "" {
			return invalid("strategy without a name")
		}
		if seen[s.Name] {
			return invalid("duplicate strategy name " + s.Name)
		}
		seen[s.Name] = true
		if strings.TrimSpace(s.System) == "" {
			return invalid("strategy " + s.Name + " without a system")
		}
		if len(s.Tickers) == 0 {
			return invalid("strategy " + s.Name + " without tickers")
		}
	}
	return nil
}

func invalid(msg string) error {
	return errs.New("config.validate", errs.CodeInvalid, errs.WithMessage(msg))
}
