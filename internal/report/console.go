// Package report renders portfolio and backtest results as console tables
// and Excel workbooks
package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/prediction-core/internal/kelly"
	"github.com/Rajchodisetti/prediction-core/internal/risk"
	"github.com/Rajchodisetti/prediction-core/internal/storage"
)

const na = "n/a"

func usd(v decimal.Decimal) string { return "$" + v.StringFixed(2) }

func pct(v float64) string { return fmt.Sprintf("%.2f%%", v*100) }

func optFloat(v *float64, format func(float64) string) string {
	if v == nil {
		return na
	}
	return format(*v)
}

func optUSD(v *decimal.Decimal) string {
	if v == nil {
		return na
	}
	return usd(*v)
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	return t
}

// PrintSummary renders the portfolio snapshot, its exposure by category and
// the risk metrics
func PrintSummary(w io.Writer, s risk.PortfolioSummary, m risk.Metrics) {
	t := newTable(w, "PORTFOLIO")
	t.AppendRows([]table.Row{
		{"Total value", usd(s.TotalValue)},
		{"Open positions", s.NumPositions},
		{"Realized PnL", usd(s.RealizedPnL)},
		{"Unrealized PnL", usd(s.UnrealizedPnL)},
		{"Total PnL", usd(s.TotalPnL)},
		{"Realized today", usd(s.DailyRealizedPnL)},
		{"Risk level", s.RiskLevel},
	})
	t.AppendSeparator()
	breaker := string(s.Breaker.State)
	if s.Breaker.ResumeAt != nil {
		breaker += " until " + s.Breaker.ResumeAt.UTC().Format("15:04:05")
	}
	t.AppendRows([]table.Row{
		{"Circuit breaker", breaker},
		{"Violations today", fmt.Sprintf("%d / %d", s.Breaker.ViolationsToday, s.Breaker.MaxViolations)},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 16, Align: text.AlignRight},
	})
	t.Render()

	if len(s.ExposureByCategory) > 0 {
		e := newTable(w, "EXPOSURE BY CATEGORY")
		e.AppendHeader(table.Row{"Category", "Value", "Positions", "Share"})
		for _, x := range s.ExposureByCategory {
			e.AppendRow(table.Row{x.Category, usd(x.Value), x.PositionCount, fmt.Sprintf("%.1f%%", x.Percentage)})
		}
		e.Render()
	}

	r := newTable(w, "RISK METRICS")
	r.AppendRows([]table.Row{
		{"Equity", usd(m.Equity)},
		{"VaR 95%", optUSD(m.VaR95)},
		{"VaR 99%", optUSD(m.VaR99)},
		{"Expected shortfall", optUSD(m.ExpectedShortfall)},
		{"Max drawdown", optFloat(m.MaxDrawdown, pct)},
		{"Current drawdown", pct(m.CurrentDrawdown)},
		{"Sharpe", optFloat(m.SharpeRatio, func(v float64) string { return fmt.Sprintf("%.3f", v) })},
		{"Samples", m.Samples},
	})
	r.Render()

	if len(s.StopLosses) > 0 {
		st := newTable(w, "STOP LOSSES")
		st.AppendHeader(table.Row{"Market", "Outcome", "Entry", "Price", "Loss"})
		for _, x := range s.StopLosses {
			st.AppendRow(table.Row{x.MarketID, x.OutcomeID, x.EntryPrice.String(), x.TriggerPrice.String(), pct(x.LossPct)})
		}
		st.Render()
	}
}

// PrintBacktest renders aggregate backtest stats and the per-type breakdown
func PrintBacktest(w io.Writer, stats *storage.BacktestStats) {
	t := newTable(w, fmt.Sprintf("BACKTEST %s .. %s",
		stats.PeriodStart.UTC().Format("2006-01-02"), stats.PeriodEnd.UTC().Format("2006-01-02")))
	t.AppendRows([]table.Row{
		{"Trades", stats.TotalTrades},
		{"Winning / losing", fmt.Sprintf("%d / %d", stats.WinningTrades, stats.LosingTrades)},
		{"Win rate", pct(stats.WinRate)},
		{"Total PnL", usd(stats.TotalPnL)},
		{"Average PnL", usd(stats.AveragePnL)},
		{"Average win", usd(stats.AverageWin)},
		{"Average loss", usd(stats.AverageLoss)},
		{"Edge / trade", usd(historicalEdge(stats))},
		{"Max drawdown", usd(stats.MaxDrawdown)},
		{"Sharpe", optFloat(stats.SharpeRatio, func(v float64) string { return fmt.Sprintf("%.3f", v) })},
	})
	t.Render()

	if len(stats.BySignalType) == 0 {
		return
	}
	b := newTable(w, "BY SIGNAL TYPE")
	b.AppendHeader(table.Row{"Type", "Trades", "Wins", "Win rate", "Total PnL", "Average PnL"})
	for _, name := range sortedTypes(stats) {
		x := stats.BySignalType[name]
		b.AppendRow(table.Row{name, x.TotalTrades, x.WinningTrades, pct(x.WinRate), usd(x.TotalPnL), usd(x.AveragePnL)})
	}
	b.AppendFooter(table.Row{"", stats.TotalTrades, stats.WinningTrades, pct(stats.WinRate), usd(stats.TotalPnL), usd(stats.AveragePnL)})
	b.Render()
}

// historicalEdge is the realized per-trade expectancy in dollars
func historicalEdge(stats *storage.BacktestStats) decimal.Decimal {
	if stats.TotalTrades == 0 {
		return decimal.Zero
	}
	edge := kelly.EdgeFromHistory(stats.WinRate, stats.AverageWin.InexactFloat64(), stats.AverageLoss.InexactFloat64())
	return decimal.NewFromFloat(edge).Round(2)
}

func sortedTypes(stats *storage.BacktestStats) []string {
	names := make([]string, 0, len(stats.BySignalType))
	for name := range stats.BySignalType {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
