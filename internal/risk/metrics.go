package risk

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/prediction-core/internal/portfolio"
)

// MinVaRSamples is the history needed before VaR is reported
const MinVaRSamples = 10

// Metrics are derived from realized PnL history. Optional fields stay nil
// until enough history exists.
type Metrics struct {
	VaR95             *decimal.Decimal `json:"var_95,omitempty"`
	VaR99             *decimal.Decimal `json:"var_99,omitempty"`
	ExpectedShortfall *decimal.Decimal `json:"expected_shortfall,omitempty"`
	MaxDrawdown       *float64         `json:"max_drawdown,omitempty"`
	CurrentDrawdown   float64          `json:"current_drawdown"`
	SharpeRatio       *float64         `json:"sharpe_ratio,omitempty"`
	Samples           int              `json:"samples"`
	Equity            decimal.Decimal  `json:"equity"`
	ComputedAt        time.Time        `json:"computed_at"`
}

// VaR is historical-simulation Value-at-Risk over the most recent samples
// observations. Observations are sorted ascending; VaR is the loss magnitude
// at index floor((1-c)*N) and ES the mean loss magnitude of the observations
// below it (at least one). ok is false for an empty input.
func VaR(pnls []decimal.Decimal, confidence float64, samples int) (v, es decimal.Decimal, ok bool) {
	if samples > 0 && len(pnls) > samples {
		pnls = pnls[len(pnls)-samples:]
	}
	n := len(pnls)
	if n == 0 {
		return decimal.Zero, decimal.Zero, false
	}
	sorted := make([]decimal.Decimal, n)
	copy(sorted, pnls)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	idx := int(math.Floor((1-confidence)*float64(n) + 1e-9))
	if idx >= n {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	v = lossMagnitude(sorted[idx])

	tail := sorted[:idx]
	if len(tail) == 0 {
		tail = sorted[:1]
	}
	sum := decimal.Zero
	for _, x := range tail {
		sum = sum.Add(lossMagnitude(x))
	}
	es = sum.Div(decimal.NewFromInt(int64(len(tail))))
	return v, es, true
}

func lossMagnitude(x decimal.Decimal) decimal.Decimal {
	if x.IsNegative() {
		return x.Neg()
	}
	return decimal.Zero
}

// Drawdown tracks a running peak of equity. Both values are fractions of the
// peak; a non-positive peak reports zero.
func Drawdown(equity []decimal.Decimal) (maxDD, current float64) {
	if len(equity) == 0 {
		return 0, 0
	}
	peak := equity[0]
	for _, e := range equity {
		if e.GreaterThan(peak) {
			peak = e
		}
		if !peak.IsPositive() {
			current = 0
			continue
		}
		current = peak.Sub(e).Div(peak).InexactFloat64()
		if current > maxDD {
			maxDD = current
		}
	}
	return maxDD, current
}

// Sharpe annualizes daily returns (x365 mean, x sqrt(365) std) and subtracts
// an annual risk-free rate. Nil with fewer than two returns or zero variance.
func Sharpe(returns []float64, riskFree float64) *float64 {
	n := len(returns)
	if n < 2 {
		return nil
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(n)
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(n)
	std := math.Sqrt(variance)
	if std == 0 || math.IsNaN(std) {
		return nil
	}
	s := (mean*365 - riskFree) / (std * math.Sqrt(365))
	return &s
}

// EquityCurve rebuilds bankroll + cumulative realized PnL at every history
// record. The first point is the equity before the oldest retained record.
func EquityCurve(bankroll, realizedTotal decimal.Decimal, history []portfolio.PnLRecord) []decimal.Decimal {
	retained := decimal.Zero
	for _, r := range history {
		retained = retained.Add(r.RealizedPnL)
	}
	equity := bankroll.Add(realizedTotal).Sub(retained)
	curve := make([]decimal.Decimal, 0, len(history)+1)
	curve = append(curve, equity)
	for _, r := range history {
		equity = equity.Add(r.RealizedPnL)
		curve = append(curve, equity)
	}
	return curve
}

// DailyReturns buckets realized PnL by UTC day over the lookback window ending
// at now, as a fraction of bankroll. Days without realizations count as zero
// once the first realization in the window has happened.
func DailyReturns(history []portfolio.PnLRecord, bankroll decimal.Decimal, lookbackDays int, now time.Time) []float64 {
	if len(history) == 0 || !bankroll.IsPositive() || lookbackDays <= 0 {
		return nil
	}
	today := now.UTC().Truncate(24 * time.Hour)
	windowStart := today.AddDate(0, 0, -(lookbackDays - 1))

	byDay := make(map[string]decimal.Decimal)
	var first time.Time
	for _, r := range history {
		day := r.Timestamp.UTC().Truncate(24 * time.Hour)
		if day.Before(windowStart) || day.After(today) {
			continue
		}
		if first.IsZero() || day.Before(first) {
			first = day
		}
		k := dayKey(day)
		byDay[k] = byDay[k].Add(r.RealizedPnL)
	}
	if first.IsZero() {
		return nil
	}

	var out []float64
	for d := first; !d.After(today); d = d.AddDate(0, 0, 1) {
		out = append(out, byDay[dayKey(d)].Div(bankroll).InexactFloat64())
	}
	return out
}

// ComputeMetrics derives the full metric set from ledger history
func ComputeMetrics(cfg MetricsConfig, bankroll, realizedTotal decimal.Decimal, history []portfolio.PnLRecord, now time.Time) Metrics {
	m := Metrics{Samples: len(history), ComputedAt: now}

	curve := EquityCurve(bankroll, realizedTotal, history)
	m.Equity = curve[len(curve)-1]
	if len(history) > 0 {
		maxDD, current := Drawdown(curve)
		m.MaxDrawdown = &maxDD
		m.CurrentDrawdown = current
	}

	if len(history) >= MinVaRSamples {
		pnls := make([]decimal.Decimal, len(history))
		for i, r := range history {
			pnls[i] = r.RealizedPnL
		}
		if v, es, ok := VaR(pnls, cfg.VaRConfidence, cfg.VaRSamples); ok {
			m.VaR95 = &v
			m.ExpectedShortfall = &es
		}
		if v, _, ok := VaR(pnls, 0.99, cfg.VaRSamples); ok {
			m.VaR99 = &v
		}
	}

	m.SharpeRatio = Sharpe(DailyReturns(history, bankroll, cfg.SharpeLookbackDays, now), cfg.RiskFreeRate)
	return m
}
