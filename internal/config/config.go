package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/Rajchodisetti/prediction-core/internal/errs"
	"github.com/Rajchodisetti/prediction-core/internal/outbox"
	"github.com/Rajchodisetti/prediction-core/internal/risk"
	"github.com/Rajchodisetti/prediction-core/internal/signals"
	"github.com/Rajchodisetti/prediction-core/internal/storage"
)

// EnvPrefix namespaces environment overrides
const EnvPrefix = "PMC_"

type Generators struct {
	Enabled         []string                      `yaml:"enabled"`
	SpreadArbitrage signals.SpreadArbitrageConfig `yaml:"spread_arbitrage"`
	MarketMaking    signals.MarketMakingConfig    `yaml:"market_making"`
	PairCost        signals.PairCostConfig        `yaml:"pair_cost"`
	Correlation     signals.CorrelationConfig     `yaml:"correlation"`
}

type Workers struct {
	Concurrency int `yaml:"concurrency"`
}

type Storage struct {
	Backend string              `yaml:"backend"` // memory | sqlite
	Path    string              `yaml:"path"`
	Retry   storage.RetryConfig `yaml:"retry"`
}

type Outbox struct {
	Enabled          bool   `yaml:"enabled"`
	Path             string `yaml:"path"`
	DedupeWindowSecs int    `yaml:"dedupe_window_seconds"`
}

type Kafka struct {
	Enabled     bool     `yaml:"enabled"`
	Brokers     []string `yaml:"brokers"`
	SignalTopic string   `yaml:"signal_topic"`
	EventTopic  string   `yaml:"event_topic"`
	GroupID     string   `yaml:"group_id"`
}

type Server struct {
	Addr    string `yaml:"addr"`
	GinMode string `yaml:"gin_mode"` // debug | release | test
}

type Paths struct {
	EnvFile   string `yaml:"env_file"`
	ReportDir string `yaml:"report_dir"`
}

type Root struct {
	Pipeline   signals.PipelineConfig  `yaml:"pipeline"`
	Generators Generators              `yaml:"generators"`
	Validators signals.ValidatorConfig `yaml:"validators"`
	Workers    Workers                 `yaml:"workers"`
	Risk       risk.Config             `yaml:"risk"`
	Storage    Storage                 `yaml:"storage"`
	Outbox     Outbox                  `yaml:"outbox"`
	Kafka      Kafka                   `yaml:"kafka"`
	Server     Server                  `yaml:"server"`
	Paths      Paths                   `yaml:"paths"`
}

// Default returns the full default tree
func Default() Root {
	r := risk.DefaultConfig()
	r.StatePath = "data/portfolio_state.json"
	r.EventLogPath = "data/breaker_events.jsonl"

	return Root{
		Pipeline: signals.DefaultPipelineConfig(),
		Generators: Generators{
			Enabled: []string{
				string(signals.TypeSpreadArbitrage),
				string(signals.TypeMarketMaking),
				string(signals.TypePairCostArbitrage),
				string(signals.TypeCorrelationArbitrage),
			},
			SpreadArbitrage: signals.DefaultSpreadArbitrageConfig(),
			MarketMaking:    signals.DefaultMarketMakingConfig(),
			PairCost:        signals.DefaultPairCostConfig(),
			Correlation:     signals.DefaultCorrelationConfig(),
		},
		Validators: signals.DefaultValidatorConfig(),
		Workers:    Workers{Concurrency: 4},
		Risk:       r,
		Storage: Storage{
			Backend: "memory",
			Path:    "data/signals.db",
			Retry:   storage.DefaultRetryConfig(),
		},
		Outbox: Outbox{
			Enabled:          true,
			Path:             "data/outbox.jsonl",
			DedupeWindowSecs: 90,
		},
		Kafka: Kafka{
			Brokers:     []string{"localhost:9092"},
			SignalTopic: "prediction.signals",
			EventTopic:  "prediction.market-events",
			GroupID:     "prediction-riskd",
		},
		Server: Server{Addr: ":8090", GinMode: "release"},
		Paths:  Paths{EnvFile: ".env", ReportDir: "reports"},
	}
}

// Load reads YAML over the defaults, applies the .env file and PMC_*
// environment overrides, then validates
func Load(path string) (Root, error) {
	c := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return c, errs.Wrap(err, errs.CategoryConfiguration, "config", "read").WithContext("path", path)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, errs.Wrap(err, errs.CategoryConfiguration, "config", "parse").WithContext("path", path)
	}
	if err := c.applyEnv(); err != nil {
		return c, err
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// applyEnv loads the optional env file (never overriding variables already
// set) and applies PMC_* overrides
func (c *Root) applyEnv() error {
	if c.Paths.EnvFile != "" {
		if _, err := os.Stat(c.Paths.EnvFile); err == nil {
			if err := godotenv.Load(c.Paths.EnvFile); err != nil {
				return errs.Wrap(err, errs.CategoryConfiguration, "config", "load_env").WithContext("path", c.Paths.EnvFile)
			}
		}
	}

	if v, ok := lookup("BANKROLL"); ok {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return envErr("BANKROLL", v, err)
		}
		c.Risk.Bankroll = d
	}
	if v, ok := lookup("WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return envErr("WORKERS", v, err)
		}
		c.Workers.Concurrency = n
	}
	if v, ok := lookup("KAFKA_ENABLED"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return envErr("KAFKA_ENABLED", v, err)
		}
		c.Kafka.Enabled = enabled
	}
	if v, ok := lookup("KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = splitList(v)
	}
	if v, ok := lookup("STORAGE_BACKEND"); ok {
		c.Storage.Backend = v
	}
	if v, ok := lookup("STORAGE_PATH"); ok {
		c.Storage.Path = v
	}
	if v, ok := lookup("OUTBOX_PATH"); ok {
		c.Outbox.Path = v
	}
	if v, ok := lookup("STATE_PATH"); ok {
		c.Risk.StatePath = v
	}
	if v, ok := lookup("EVENT_LOG_PATH"); ok {
		c.Risk.EventLogPath = v
	}
	if v, ok := lookup("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	return nil
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func envErr(name, value string, err error) error {
	return errs.Wrap(err, errs.CategoryConfiguration, "config", "env").
		WithContext("variable", EnvPrefix+name).
		WithContext("value", value)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate fails fast on the first invalid section
func (c Root) Validate() error {
	sections := []struct {
		name string
		err  error
	}{
		{"pipeline", c.Pipeline.Validate()},
		{"generators.spread_arbitrage", c.Generators.SpreadArbitrage.Validate()},
		{"generators.market_making", c.Generators.MarketMaking.Validate()},
		{"generators.pair_cost", c.Generators.PairCost.Validate()},
		{"generators.correlation", c.Generators.Correlation.Validate()},
		{"validators", c.Validators.Validate()},
	}
	for _, s := range sections {
		if s.err != nil {
			return errs.Wrap(s.err, errs.CategoryConfiguration, "config", s.name)
		}
	}
	if err := c.Risk.Validate(); err != nil {
		return err
	}

	for _, name := range c.Generators.Enabled {
		if !knownGenerator(name) {
			return invalid("generators", "unknown generator %q", name)
		}
	}
	if c.Workers.Concurrency <= 0 {
		return invalid("workers", "concurrency must be positive, got %d", c.Workers.Concurrency)
	}
	switch c.Storage.Backend {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return invalid("storage", "sqlite backend requires a path")
		}
	default:
		return invalid("storage", "unknown backend %q", c.Storage.Backend)
	}
	if c.Storage.Retry.MaxAttempts == 0 {
		return invalid("storage", "retry.max_attempts must be at least 1")
	}
	if c.Outbox.Enabled && c.Outbox.Path == "" {
		return invalid("outbox", "path is required when enabled")
	}
	if c.Outbox.DedupeWindowSecs < 0 {
		return invalid("outbox", "dedupe_window_seconds must not be negative, got %d", c.Outbox.DedupeWindowSecs)
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return invalid("kafka", "at least one broker is required when enabled")
		}
		if c.Kafka.SignalTopic == "" || c.Kafka.EventTopic == "" {
			return invalid("kafka", "signal_topic and event_topic are required when enabled")
		}
	}
	if c.Server.Addr == "" {
		return invalid("server", "addr is required")
	}
	return nil
}

func invalid(section, format string, args ...any) error {
	return errs.New(errs.CategoryConfiguration, "config", section, fmt.Sprintf(format, args...))
}

func knownGenerator(name string) bool {
	switch signals.SignalType(name) {
	case signals.TypeSpreadArbitrage, signals.TypeMarketMaking, signals.TypePairCostArbitrage, signals.TypeCorrelationArbitrage:
		return true
	}
	return false
}

// Registry builds the enabled generators in configured order
func (g Generators) Registry() *signals.Registry {
	var gens []signals.Generator
	for _, name := range g.Enabled {
		switch signals.SignalType(name) {
		case signals.TypeSpreadArbitrage:
			gens = append(gens, signals.NewSpreadArbitrage(g.SpreadArbitrage))
		case signals.TypeMarketMaking:
			gens = append(gens, signals.NewMarketMaking(g.MarketMaking))
		case signals.TypePairCostArbitrage:
			gens = append(gens, signals.NewPairCostArbitrage(g.PairCost))
		case signals.TypeCorrelationArbitrage:
			gens = append(gens, signals.NewCorrelation(g.Correlation))
		}
	}
	return signals.NewRegistry(gens...)
}

// Open builds the configured backend wrapped with retries
func (s Storage) Open() (storage.Store, error) {
	var (
		backend storage.Store
		err     error
	)
	switch s.Backend {
	case "memory":
		backend = storage.NewMemoryStore()
	case "sqlite":
		backend, err = storage.NewSQLiteStore(s.Path)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errs.Newf(errs.CategoryConfiguration, "config", "open_storage", "unknown storage backend %q", s.Backend)
	}
	return storage.NewRetrying(backend, s.Retry), nil
}

// Open returns nil when the outbox is disabled
func (o Outbox) Open() (*outbox.Outbox, error) {
	if !o.Enabled {
		return nil, nil
	}
	ob, err := outbox.New(o.Path, o.DedupeWindowSecs)
	if err != nil {
		return nil, errs.Wrap(err, errs.CategoryConfiguration, "config", "open_outbox")
	}
	return ob, nil
}
