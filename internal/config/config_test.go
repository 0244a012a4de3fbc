package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/prediction-core/internal/errs"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Len(t, c.Generators.Registry().Generators(), 4)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
pipeline:
  max_signals_per_cycle: 5
  generator_timeout: 500ms
generators:
  enabled: [spread_arbitrage, pair_cost_arbitrage]
risk:
  bankroll: "2500.50"
  limits:
    max_position_size: 250
    themes:
      weather:
        max_exposure: 150
        max_positions: 2
        max_percentage: 0.1
  theme_map:
    rain-nyc: weather
storage:
  backend: sqlite
  path: `+filepath.Join(dir, "signals.db")+`
paths:
  env_file: ""
`)

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, c.Pipeline.MaxSignalsPerCycle)
	assert.Equal(t, 500*time.Millisecond, c.Pipeline.GeneratorTimeout)
	assert.Equal(t, 0.6, c.Pipeline.MinConfidence, "unset keys keep defaults")
	assert.Len(t, c.Generators.Registry().Generators(), 2)

	assert.True(t, decimal.RequireFromString("2500.50").Equal(c.Risk.Bankroll))
	assert.True(t, decimal.NewFromInt(250).Equal(c.Risk.Limits.MaxPositionSize))
	assert.True(t, decimal.NewFromInt(1000).Equal(c.Risk.Limits.MaxTotalExposure))
	assert.Contains(t, c.Risk.Limits.Themes, "politics", "default themes are merged")
	assert.Equal(t, 2, c.Risk.Limits.Themes["weather"].MaxPositions)
	assert.Equal(t, "weather", c.Risk.ThemeMap["rain-nyc"])
	assert.Equal(t, "sqlite", c.Storage.Backend)
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	envFile := writeFile(t, dir, "test.env", "PMC_WORKERS=9\nPMC_KAFKA_BROKERS=k1:9092, k2:9092\n")
	path := writeFile(t, dir, "config.yaml", "paths:\n  env_file: "+envFile+"\n")

	t.Setenv("PMC_BANKROLL", "5000")
	t.Setenv("PMC_KAFKA_ENABLED", "true")
	t.Setenv("PMC_WORKERS", "")
	t.Setenv("PMC_KAFKA_BROKERS", "")
	os.Unsetenv("PMC_WORKERS")
	os.Unsetenv("PMC_KAFKA_BROKERS")

	c, err := Load(path)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(5000).Equal(c.Risk.Bankroll))
	assert.True(t, c.Kafka.Enabled)
	assert.Equal(t, 9, c.Workers.Concurrency)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
	}{
		{"unknown generator", "generators:\n  enabled: [momentum_magic]\n", nil},
		{"inverted limits", "risk:\n  limits:\n    max_position_size: 5000\n", nil},
		{"bad pipeline", "pipeline:\n  min_confidence: 1.5\n", nil},
		{"unknown storage backend", "storage:\n  backend: postgres\n", nil},
		{"kafka without brokers", "kafka:\n  enabled: true\n  brokers: []\n", nil},
		{"malformed yaml", "pipeline: [\n", nil},
		{"bad env bankroll", "paths:\n  env_file: \"\"\n", map[string]string{"PMC_BANKROLL": "lots"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := writeFile(t, t.TempDir(), "config.yaml", tt.body)
			_, err := Load(path)
			require.Error(t, err)
			assert.True(t, errs.IsCategory(err, errs.CategoryConfiguration), "got %v", err)
			assert.True(t, errs.IsFatal(err))
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errs.IsCategory(err, errs.CategoryConfiguration))
}

func TestOpenBackends(t *testing.T) {
	dir := t.TempDir()

	for _, backend := range []string{"memory", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			s := Default().Storage
			s.Backend = backend
			s.Path = filepath.Join(dir, "db", "signals.db")
			store, err := s.Open()
			require.NoError(t, err)
			defer store.Close()
			st, err := store.Stats(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 0, st.TotalSignals)
		})
	}

	s := Default().Storage
	s.Backend = "redis"
	_, err := s.Open()
	assert.True(t, errs.IsFatal(err))

	ob := Default().Outbox
	ob.Path = filepath.Join(dir, "out", "outbox.jsonl")
	o, err := ob.Open()
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, ob.Path, o.Path())

	ob.Enabled = false
	o, err = ob.Open()
	require.NoError(t, err)
	assert.Nil(t, o)
}
