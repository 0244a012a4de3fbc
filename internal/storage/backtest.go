package storage

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// BacktestStats aggregates closed execution results over a period
type BacktestStats struct {
	PeriodStart   time.Time                  `json:"period_start"`
	PeriodEnd     time.Time                  `json:"period_end"`
	TotalTrades   int                        `json:"total_trades"`
	WinningTrades int                        `json:"winning_trades"`
	LosingTrades  int                        `json:"losing_trades"`
	WinRate       float64                    `json:"win_rate"`
	TotalPnL      decimal.Decimal            `json:"total_pnl"`
	AveragePnL    decimal.Decimal            `json:"average_pnl"`
	AverageWin    decimal.Decimal            `json:"average_win"`
	AverageLoss   decimal.Decimal            `json:"average_loss"`
	MaxDrawdown   decimal.Decimal            `json:"max_drawdown"`
	SharpeRatio   *float64                   `json:"sharpe_ratio,omitempty"`
	BySignalType  map[string]SignalTypeStats `json:"by_signal_type"`
}

// SignalTypeStats is the per-generator slice of BacktestStats
type SignalTypeStats struct {
	TotalTrades   int             `json:"total_trades"`
	WinningTrades int             `json:"winning_trades"`
	WinRate       float64         `json:"win_rate"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	AveragePnL    decimal.Decimal `json:"average_pnl"`
}

// ComputeBacktestStats aggregates the closed results executed within
// [start, end]. Results are processed in execution order. MaxDrawdown is the
// largest peak-to-trough decline of cumulative PnL in dollars; SharpeRatio
// is mean/stddev of per-trade pnl_pct and stays nil with fewer than two
// samples or zero variance.
func ComputeBacktestStats(start, end time.Time, results []*SignalExecutionResult) *BacktestStats {
	var closed []*SignalExecutionResult
	for _, r := range results {
		if r.Closed() && inRange(r.ExecutedAt, start, end) {
			closed = append(closed, r)
		}
	}
	sortExecutions(closed)

	st := &BacktestStats{
		PeriodStart:  start,
		PeriodEnd:    end,
		TotalTrades:  len(closed),
		BySignalType: make(map[string]SignalTypeStats),
	}

	var (
		winSum, lossSum  decimal.Decimal
		cum, peak, maxDD decimal.Decimal
		returns          []float64
	)
	for _, r := range closed {
		pnl := decimal.Zero
		if r.PnL != nil {
			pnl = *r.PnL
		}
		switch {
		case pnl.IsPositive():
			st.WinningTrades++
			winSum = winSum.Add(pnl)
		case pnl.IsNegative():
			st.LosingTrades++
			lossSum = lossSum.Add(pnl)
		}
		st.TotalPnL = st.TotalPnL.Add(pnl)

		cum = cum.Add(pnl)
		if cum.GreaterThan(peak) {
			peak = cum
		}
		if dd := peak.Sub(cum); dd.GreaterThan(maxDD) {
			maxDD = dd
		}

		if r.PnLPct != nil {
			returns = append(returns, r.PnLPct.InexactFloat64())
		}

		key := string(r.SignalType)
		ts := st.BySignalType[key]
		ts.TotalTrades++
		if pnl.IsPositive() {
			ts.WinningTrades++
		}
		ts.TotalPnL = ts.TotalPnL.Add(pnl)
		st.BySignalType[key] = ts
	}

	if st.TotalTrades > 0 {
		st.WinRate = float64(st.WinningTrades) / float64(st.TotalTrades)
		st.AveragePnL = st.TotalPnL.Div(decimal.NewFromInt(int64(st.TotalTrades)))
	}
	if st.WinningTrades > 0 {
		st.AverageWin = winSum.Div(decimal.NewFromInt(int64(st.WinningTrades)))
	}
	if st.LosingTrades > 0 {
		st.AverageLoss = lossSum.Div(decimal.NewFromInt(int64(st.LosingTrades)))
	}
	st.MaxDrawdown = maxDD
	st.SharpeRatio = tradeSharpe(returns)

	for k, ts := range st.BySignalType {
		ts.WinRate = float64(ts.WinningTrades) / float64(ts.TotalTrades)
		ts.AveragePnL = ts.TotalPnL.Div(decimal.NewFromInt(int64(ts.TotalTrades)))
		st.BySignalType[k] = ts
	}
	return st
}

func tradeSharpe(returns []float64) *float64 {
	n := len(returns)
	if n < 2 {
		return nil
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(n)
	var ss float64
	for _, r := range returns {
		ss += (r - mean) * (r - mean)
	}
	std := math.Sqrt(ss / float64(n-1))
	if std == 0 || math.IsNaN(std) {
		return nil
	}
	s := mean / std
	return &s
}
