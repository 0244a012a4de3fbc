package observ

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogWritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	kv := map[string]any{"market_id": "m1"}
	Log("signal_generated", kv)

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "signal_generated", line["event"])
	assert.Equal(t, "m1", line["market_id"])
	assert.NotEmpty(t, line["ts"])
	_, mutated := kv["event"]
	assert.False(t, mutated, "caller map must not be modified")
}

func TestCountersAndGauges(t *testing.T) {
	ResetForTest()

	IncCounter("signals_rejected_total", map[string]string{"validator": "edge"})
	IncCounter("signals_rejected_total", map[string]string{"validator": "edge"})
	IncCounterBy("signals_rejected_total", map[string]string{"validator": "liquidity"}, 3)
	SetGauge("portfolio_total_value", 250, nil)

	assert.Equal(t, 2.0, CounterValue("signals_rejected_total", map[string]string{"validator": "edge"}))
	assert.Equal(t, 3.0, CounterValue("signals_rejected_total", map[string]string{"validator": "liquidity"}))
	assert.Equal(t, 250.0, GaugeValue("portfolio_total_value", nil))
	assert.Equal(t, 0.0, CounterValue("never_seen_total", nil))
}

func TestHandlerExposesPrometheusText(t *testing.T) {
	ResetForTest()
	IncCounter("pipeline_cycles_total", map[string]string{"status": "ok"})
	Observe("pipeline_cycle_seconds", 0.2, nil)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	assert.True(t, strings.Contains(string(body), `pmc_pipeline_cycles_total{status="ok"} 1`))
	assert.True(t, strings.Contains(string(body), "pmc_pipeline_cycle_seconds_count 1"))
}

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler(func() (map[string]any, bool) {
		return map[string]any{"breaker": "halted"}, true
	}).ServeHTTP(rec, httptest.NewRequest("GET", "/sys/health", nil))

	assert.Equal(t, 503, rec.Code)
	var h HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&h))
	assert.Equal(t, "degraded", h.Status)
	assert.Equal(t, "halted", h.Details["breaker"])
}
