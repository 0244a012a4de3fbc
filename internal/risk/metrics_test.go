package risk

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/prediction-core/internal/portfolio"
)

func series(vals ...int64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		out[i] = decimal.NewFromInt(v)
	}
	return out
}

func TestVaR(t *testing.T) {
	// -50, -40, ..., 140
	var twenty []decimal.Decimal
	for v := int64(-50); v < 150; v += 10 {
		twenty = append(twenty, decimal.NewFromInt(v))
	}
	require.Len(t, twenty, 20)

	tests := []struct {
		name       string
		pnls       []decimal.Decimal
		confidence float64
		samples    int
		wantVaR    string
		wantES     string
	}{
		{"95 percent picks second worst", twenty, 0.95, 100, "40", "50"},
		{"99 percent picks worst", twenty, 0.99, 100, "50", "50"},
		{"gains only", series(5, 10, 20), 0.95, 100, "0", "0"},
		{"window keeps latest samples", series(-1000, 1, 2, 3, -4, 5), 0.95, 5, "4", "4"},
		{"tail mean", series(-30, -10, -20, 0, 0, 0, 0, 0, 0, 0), 0.7, 100, "0", "20"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, es, ok := VaR(tt.pnls, tt.confidence, tt.samples)
			require.True(t, ok)
			assert.True(t, d(tt.wantVaR).Equal(v), "VaR %s", v)
			assert.True(t, d(tt.wantES).Equal(es), "ES %s", es)
		})
	}

	_, _, ok := VaR(nil, 0.95, 100)
	assert.False(t, ok)
}

func TestVaRHigherConfidenceIsNotSmaller(t *testing.T) {
	pnls := series(12, -7, 3, -25, 8, -1, 40, -13, 5, -2, 9, -30, 4, 6, -9)
	v95, _, _ := VaR(pnls, 0.95, 100)
	v99, _, _ := VaR(pnls, 0.99, 100)
	assert.True(t, v99.GreaterThanOrEqual(v95))
}

func TestDrawdown(t *testing.T) {
	maxDD, current := Drawdown(series(100, 120, 90, 110))
	assert.InDelta(t, 0.25, maxDD, 1e-9)
	assert.InDelta(t, 10.0/120, current, 1e-9)

	maxDD, current = Drawdown(series(100, 110, 120))
	assert.Zero(t, maxDD)
	assert.Zero(t, current)

	maxDD, current = Drawdown(nil)
	assert.Zero(t, maxDD)
	assert.Zero(t, current)
}

func TestSharpe(t *testing.T) {
	assert.Nil(t, Sharpe(nil, 0.05))
	assert.Nil(t, Sharpe([]float64{0.01}, 0.05))
	assert.Nil(t, Sharpe([]float64{0.5, 0.5, 0.5}, 0.05), "zero variance")

	s := Sharpe([]float64{0.02, 0}, 0.05)
	require.NotNil(t, s)
	want := (0.01*365 - 0.05) / (0.01 * math.Sqrt(365))
	assert.InDelta(t, want, *s, 1e-9)
}

func TestEquityCurve(t *testing.T) {
	history := []portfolio.PnLRecord{
		{Timestamp: t0, RealizedPnL: d("50")},
		{Timestamp: t0, RealizedPnL: d("-20")},
	}
	// 100 realized before the retained history
	curve := EquityCurve(d("1000"), d("130"), history)
	require.Len(t, curve, 3)
	assert.True(t, d("1100").Equal(curve[0]))
	assert.True(t, d("1150").Equal(curve[1]))
	assert.True(t, d("1130").Equal(curve[2]))
}

func TestDailyReturns(t *testing.T) {
	history := []portfolio.PnLRecord{
		{Timestamp: t0.AddDate(0, 0, -40), RealizedPnL: d("500")}, // outside the window
		{Timestamp: t0.AddDate(0, 0, -2), RealizedPnL: d("10")},
		{Timestamp: t0, RealizedPnL: d("-15")},
		{Timestamp: t0.Add(time.Hour), RealizedPnL: d("-5")},
	}
	got := DailyReturns(history, d("1000"), 30, t0.Add(2*time.Hour))
	require.Len(t, got, 3)
	assert.InDelta(t, 0.01, got[0], 1e-12)
	assert.InDelta(t, 0, got[1], 1e-12)
	assert.InDelta(t, -0.02, got[2], 1e-12)

	assert.Nil(t, DailyReturns(nil, d("1000"), 30, t0))
	assert.Nil(t, DailyReturns(history, decimal.Zero, 30, t0))
}

func TestComputeMetrics(t *testing.T) {
	cfg := DefaultMetricsConfig()

	var history []portfolio.PnLRecord
	for i := 0; i < MinVaRSamples-1; i++ {
		history = append(history, portfolio.PnLRecord{Timestamp: t0, RealizedPnL: d("-10")})
	}
	m := ComputeMetrics(cfg, d("1000"), d("-90"), history, t0)
	assert.Nil(t, m.VaR95, "not enough history")
	assert.Nil(t, m.VaR99)
	require.NotNil(t, m.MaxDrawdown)
	assert.InDelta(t, 0.09, *m.MaxDrawdown, 1e-9)
	assert.InDelta(t, 0.09, m.CurrentDrawdown, 1e-9)
	assert.True(t, d("910").Equal(m.Equity))
	assert.Nil(t, m.SharpeRatio, "single day of returns")

	history = append(history, portfolio.PnLRecord{Timestamp: t0, RealizedPnL: d("30")})
	m = ComputeMetrics(cfg, d("1000"), d("-60"), history, t0)
	require.NotNil(t, m.VaR95)
	require.NotNil(t, m.VaR99)
	require.NotNil(t, m.ExpectedShortfall)
	assert.True(t, d("10").Equal(*m.VaR95))
	assert.True(t, m.VaR99.GreaterThanOrEqual(*m.VaR95))
	assert.Equal(t, 10, m.Samples)

	empty := ComputeMetrics(cfg, d("1000"), decimal.Zero, nil, t0)
	assert.Nil(t, empty.MaxDrawdown)
	assert.Zero(t, empty.CurrentDrawdown)
	assert.True(t, d("1000").Equal(empty.Equity))
}
