package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/Rajchodisetti/prediction-core/internal/storage"
)

const (
	summarySheet    = "Summary"
	executionsSheet = "Executions"
	byTypeSheet     = "ByType"
)

type workbookStyles struct {
	header   int
	currency int
	percent  int
}

func createStyles(fx *excelize.File) (workbookStyles, error) {
	var st workbookStyles
	var err error
	border := []excelize.Border{
		{Type: "left", Color: "D9D9D9", Style: 1},
		{Type: "right", Color: "D9D9D9", Style: 1},
		{Type: "top", Color: "D9D9D9", Style: 1},
		{Type: "bottom", Color: "D9D9D9", Style: 1},
	}
	st.header, err = fx.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"1F4E79"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
		Border:    border,
	})
	if err != nil {
		return st, fmt.Errorf("header style: %w", err)
	}
	currencyFmt := "$#,##0.00"
	st.currency, err = fx.NewStyle(&excelize.Style{CustomNumFmt: &currencyFmt, Border: border})
	if err != nil {
		return st, fmt.Errorf("currency style: %w", err)
	}
	st.percent, err = fx.NewStyle(&excelize.Style{NumFmt: 10, Border: border})
	if err != nil {
		return st, fmt.Errorf("percent style: %w", err)
	}
	return st, nil
}

// WriteBacktestXLSX writes a workbook with the aggregate stats, one row per
// execution result and the per-type breakdown
func WriteBacktestXLSX(path string, stats *storage.BacktestStats, results []*storage.SignalExecutionResult) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	fx := excelize.NewFile()
	defer fx.Close()

	if err := fx.SetSheetName(fx.GetSheetName(0), summarySheet); err != nil {
		return err
	}
	for _, name := range []string{executionsSheet, byTypeSheet} {
		if _, err := fx.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	styles, err := createStyles(fx)
	if err != nil {
		return err
	}
	if err := writeSummarySheet(fx, stats, styles); err != nil {
		return err
	}
	if err := writeExecutionsSheet(fx, results, styles); err != nil {
		return err
	}
	if err := writeByTypeSheet(fx, stats, styles); err != nil {
		return err
	}
	return fx.SaveAs(path)
}

func writeHeader(fx *excelize.File, sheet string, headers []string, style int) error {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := fx.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	return fx.SetCellStyle(sheet, "A1", last, style)
}

func writeRow(fx *excelize.File, sheet string, row int, values []any) error {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		if err := fx.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
	}
	return nil
}

func styleColumn(fx *excelize.File, sheet string, col, fromRow, toRow, style int) error {
	if toRow < fromRow {
		return nil
	}
	from, _ := excelize.CoordinatesToCellName(col, fromRow)
	to, _ := excelize.CoordinatesToCellName(col, toRow)
	return fx.SetCellStyle(sheet, from, to, style)
}

func writeSummarySheet(fx *excelize.File, stats *storage.BacktestStats, st workbookStyles) error {
	if err := writeHeader(fx, summarySheet, []string{"Metric", "Value"}, st.header); err != nil {
		return err
	}
	var sharpe any = na
	if stats.SharpeRatio != nil {
		sharpe = *stats.SharpeRatio
	}
	rows := [][]any{
		{"Period start", stats.PeriodStart.UTC().Format("2006-01-02 15:04:05")},
		{"Period end", stats.PeriodEnd.UTC().Format("2006-01-02 15:04:05")},
		{"Total trades", stats.TotalTrades},
		{"Winning trades", stats.WinningTrades},
		{"Losing trades", stats.LosingTrades},
		{"Win rate", stats.WinRate},
		{"Total PnL", stats.TotalPnL.InexactFloat64()},
		{"Average PnL", stats.AveragePnL.InexactFloat64()},
		{"Average win", stats.AverageWin.InexactFloat64()},
		{"Average loss", stats.AverageLoss.InexactFloat64()},
		{"Max drawdown", stats.MaxDrawdown.InexactFloat64()},
		{"Sharpe ratio", sharpe},
	}
	for i, r := range rows {
		if err := writeRow(fx, summarySheet, i+2, r); err != nil {
			return err
		}
	}
	if err := fx.SetCellStyle(summarySheet, "B7", "B7", st.percent); err != nil {
		return err
	}
	if err := fx.SetCellStyle(summarySheet, "B8", "B12", st.currency); err != nil {
		return err
	}
	return fx.SetColWidth(summarySheet, "A", "B", 20)
}

func writeExecutionsSheet(fx *excelize.File, results []*storage.SignalExecutionResult, st workbookStyles) error {
	headers := []string{"Signal", "Market", "Outcome", "Type", "Executed at", "Entry", "Exit", "Size", "PnL", "PnL %", "Hours held", "Exit reason"}
	if err := writeHeader(fx, executionsSheet, headers, st.header); err != nil {
		return err
	}
	row := 2
	for _, r := range results {
		values := []any{
			r.SignalID,
			r.MarketID,
			r.OutcomeID,
			string(r.SignalType),
			r.ExecutedAt.UTC().Format("2006-01-02 15:04:05"),
			r.EntryPrice.InexactFloat64(),
			nil,
			r.PositionSize.InexactFloat64(),
			nil,
			nil,
			nil,
			string(r.ExitReason),
		}
		if r.ExitPrice != nil {
			values[6] = r.ExitPrice.InexactFloat64()
		}
		if r.PnL != nil {
			values[8] = r.PnL.InexactFloat64()
		}
		if r.PnLPct != nil {
			values[9] = r.PnLPct.InexactFloat64()
		}
		if r.HoldingPeriodHours != nil {
			values[10] = *r.HoldingPeriodHours
		}
		if err := writeRow(fx, executionsSheet, row, values); err != nil {
			return err
		}
		row++
	}
	last := row - 1
	if err := styleColumn(fx, executionsSheet, 8, 2, last, st.currency); err != nil {
		return err
	}
	if err := styleColumn(fx, executionsSheet, 9, 2, last, st.currency); err != nil {
		return err
	}
	if last >= 2 {
		ref := fmt.Sprintf("A1:L%d", last)
		if err := fx.AutoFilter(executionsSheet, ref, []excelize.AutoFilterOptions{}); err != nil {
			return err
		}
	}
	return fx.SetColWidth(executionsSheet, "A", "L", 16)
}

func writeByTypeSheet(fx *excelize.File, stats *storage.BacktestStats, st workbookStyles) error {
	headers := []string{"Signal type", "Trades", "Wins", "Win rate", "Total PnL", "Average PnL"}
	if err := writeHeader(fx, byTypeSheet, headers, st.header); err != nil {
		return err
	}
	row := 2
	for _, name := range sortedTypes(stats) {
		x := stats.BySignalType[name]
		values := []any{name, x.TotalTrades, x.WinningTrades, x.WinRate, x.TotalPnL.InexactFloat64(), x.AveragePnL.InexactFloat64()}
		if err := writeRow(fx, byTypeSheet, row, values); err != nil {
			return err
		}
		row++
	}
	last := row - 1
	if err := styleColumn(fx, byTypeSheet, 4, 2, last, st.percent); err != nil {
		return err
	}
	for col := 5; col <= 6; col++ {
		if err := styleColumn(fx, byTypeSheet, col, 2, last, st.currency); err != nil {
			return err
		}
	}
	return fx.SetColWidth(byTypeSheet, "A", "F", 18)
}
