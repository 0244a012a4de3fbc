package report

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Rajchodisetti/prediction-core/internal/portfolio"
	"github.com/Rajchodisetti/prediction-core/internal/risk"
	"github.com/Rajchodisetti/prediction-core/internal/signals"
	"github.com/Rajchodisetti/prediction-core/internal/storage"
)

var t0 = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func sampleResults() []*storage.SignalExecutionResult {
	return []*storage.SignalExecutionResult{
		{
			SignalID: "s1", MarketID: "m1", OutcomeID: "yes", SignalType: signals.TypeSpreadArbitrage,
			ExecutedAt: t0, EntryPrice: d("0.40"), ExitPrice: dp("0.46"), PositionSize: d("80"),
			PnL: dp("12"), PnLPct: dp("0.15"), ExitReason: storage.ExitTargetHit,
		},
		{
			SignalID: "s2", MarketID: "m2", OutcomeID: "no", SignalType: signals.TypeMarketMaking,
			ExecutedAt: t0.Add(time.Hour), EntryPrice: d("0.55"), ExitPrice: dp("0.50"), PositionSize: d("55"),
			PnL: dp("-5"), PnLPct: dp("-0.0909"), ExitReason: storage.ExitStopLoss,
		},
		{
			SignalID: "s3", MarketID: "m3", SignalType: signals.TypeSpreadArbitrage,
			ExecutedAt: t0.Add(2 * time.Hour), EntryPrice: d("0.30"), PositionSize: d("30"),
		},
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	var95 := d("42.5")
	summary := risk.PortfolioSummary{
		TotalValue:   d("150"),
		NumPositions: 2,
		RealizedPnL:  d("-10"),
		TotalPnL:     d("-4"),
		ExposureByCategory: []portfolio.Exposure{
			{Category: "politics", Value: d("100"), PositionCount: 1, Percentage: 66.7},
		},
		RiskLevel: risk.LevelMedium,
		Breaker:   risk.BreakerStatus{State: risk.StateTripped, ViolationsToday: 1, MaxViolations: 3},
		StopLosses: []risk.StopLossTrigger{
			{MarketID: "m9", OutcomeID: "yes", EntryPrice: d("0.5"), TriggerPrice: d("0.4"), LossPct: 0.2},
		},
	}
	PrintSummary(&buf, summary, risk.Metrics{VaR95: &var95, CurrentDrawdown: 0.05, Equity: d("990")})

	out := buf.String()
	for _, want := range []string{"PORTFOLIO", "$150.00", "$-10.00", "medium", "tripped", "1 / 3",
		"EXPOSURE BY CATEGORY", "politics", "66.7%", "$42.50", "5.00%", "STOP LOSSES", "20.00%", "n/a"} {
		assert.Contains(t, out, want)
	}
}

func TestPrintBacktest(t *testing.T) {
	var buf bytes.Buffer
	stats := storage.ComputeBacktestStats(t0.Add(-time.Hour), t0.Add(3*time.Hour), sampleResults())
	PrintBacktest(&buf, stats)

	out := buf.String()
	for _, want := range []string{"BACKTEST 2026-07-01 .. 2026-07-01", "1 / 1", "50.00%", "$7.00", "Edge / trade", "$3.50",
		"BY SIGNAL TYPE", "spread_arbitrage", "market_making"} {
		assert.Contains(t, out, want)
	}

	buf.Reset()
	PrintBacktest(&buf, storage.ComputeBacktestStats(t0, t0, nil))
	assert.NotContains(t, buf.String(), "BY SIGNAL TYPE")
}

func TestWriteBacktestXLSX(t *testing.T) {
	results := sampleResults()
	stats := storage.ComputeBacktestStats(t0.Add(-time.Hour), t0.Add(3*time.Hour), results)
	path := filepath.Join(t.TempDir(), "reports", "backtest.xlsx")
	require.NoError(t, WriteBacktestXLSX(path, stats, results))

	fx, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer fx.Close()

	assert.Equal(t, []string{summarySheet, executionsSheet, byTypeSheet}, fx.GetSheetList())

	v, err := fx.GetCellValue(summarySheet, "A4")
	require.NoError(t, err)
	assert.Equal(t, "Total trades", v)
	v, err = fx.GetCellValue(summarySheet, "B4")
	require.NoError(t, err)
	assert.Equal(t, "2", v)

	rows, err := fx.GetRows(executionsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4, "header plus one row per result")
	assert.Equal(t, "Signal", rows[0][0])
	assert.Equal(t, "s3", rows[3][0])

	rows, err = fx.GetRows(byTypeSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "market_making", rows[1][0])
	assert.Equal(t, "spread_arbitrage", rows[2][0])
}
