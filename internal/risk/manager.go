package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/prediction-core/internal/errs"
	"github.com/Rajchodisetti/prediction-core/internal/kelly"
	"github.com/Rajchodisetti/prediction-core/internal/observ"
	"github.com/Rajchodisetti/prediction-core/internal/portfolio"
)

// TradeEvaluation is the outcome of EvaluateTrade
type TradeEvaluation struct {
	Approved   bool            `json:"approved"`
	MarketID   string          `json:"market_id"`
	OutcomeID  string          `json:"outcome_id"`
	Side       Side            `json:"side"`
	Value      decimal.Decimal `json:"value"`
	KellyLimit decimal.Decimal `json:"kelly_limit"`
	RiskLevel  Level           `json:"risk_level"`
	Violation  *Violation      `json:"violation,omitempty"`
	Warnings   []*Violation    `json:"warnings,omitempty"`
	Breaker    BreakerStatus   `json:"breaker"`
}

// PortfolioSummary is a read-only snapshot of the book
type PortfolioSummary struct {
	TotalValue         decimal.Decimal      `json:"total_value"`
	NumPositions       int                  `json:"num_positions"`
	TotalPnL           decimal.Decimal      `json:"total_pnl"`
	RealizedPnL        decimal.Decimal      `json:"realized_pnl"`
	UnrealizedPnL      decimal.Decimal      `json:"unrealized_pnl"`
	DailyRealizedPnL   decimal.Decimal      `json:"daily_realized_pnl"`
	ExposureByCategory []portfolio.Exposure `json:"exposure_by_category"`
	RiskLevel          Level                `json:"risk_level"`
	Breaker            BreakerStatus        `json:"breaker"`
	StopLosses         []StopLossTrigger    `json:"stop_losses,omitempty"`
	AsOf               time.Time            `json:"as_of"`
}

// Manager is the single owner of the ledger, breaker, correlation monitor and
// metrics. ProcessEvent is the only mutator and runs under the write lock;
// evaluations and snapshots share the read lock.
type Manager struct {
	mu sync.RWMutex

	cfg          Config
	ledger       *portfolio.Ledger
	checker      *Checker
	breaker      *CircuitBreaker
	correlations *CorrelationMonitor
	sizing       kelly.Calculator
	stops        *StopLossMonitor
	metrics      Metrics
	store        *portfolio.Store

	now func() time.Time
}

// NewManager validates cfg, restores the ledger snapshot and replays the
// breaker event log when paths are configured
func NewManager(cfg Config, stopSink StopSink) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	breaker, err := NewCircuitBreaker(cfg.CircuitBreaker, cfg.EventLogPath)
	if err != nil {
		return nil, errs.Wrap(err, errs.CategoryConfiguration, "risk", "load_breaker_events")
	}

	m := &Manager{
		cfg:          cfg,
		ledger:       portfolio.NewLedger(),
		checker:      NewChecker(cfg.Limits, cfg.Bankroll),
		breaker:      breaker,
		correlations: NewCorrelationMonitor(cfg.CorrelationThreshold, cfg.CorrelationWindow),
		sizing:       cfg.Sizing(),
		stops:        NewStopLossMonitor(cfg.Limits.StopLossPercentage, stopSink),
		now:          time.Now,
	}

	if cfg.StatePath != "" {
		m.store = portfolio.NewStore(cfg.StatePath)
		snap, ok, err := m.store.Load()
		if err != nil {
			return nil, errs.Wrap(err, errs.CategoryConfiguration, "risk", "load_state").
				WithContext("path", cfg.StatePath)
		}
		if ok {
			m.ledger.Restore(snap)
			observ.Log("portfolio_state_restored", map[string]any{
				"path":      cfg.StatePath,
				"version":   snap.Version,
				"positions": len(snap.Positions),
			})
		}
	}
	for market, theme := range cfg.ThemeMap {
		m.ledger.SetCategory(market, theme)
	}
	m.recompute(m.now())
	return m, nil
}

// WithClock replaces the wall clock of the manager and its breaker
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	m.breaker.WithClock(now)
	return m
}

// Config returns the manager configuration
func (m *Manager) Config() Config { return m.cfg }

// EvaluateTrade gates a proposed trade of size shares at price. A blocked
// trade returns an evaluation with Approved false and the *Violation as the
// error. Nothing is mutated.
func (m *Manager) EvaluateTrade(marketID, outcomeID string, side Side, price, size decimal.Decimal) (*TradeEvaluation, error) {
	if side != Buy && side != Sell {
		return nil, errs.Newf(errs.CategoryValidationRejected, "risk", "evaluate_trade", "unknown side %q", side)
	}
	if !price.IsPositive() || price.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, errs.Newf(errs.CategoryValidationRejected, "risk", "evaluate_trade", "price must be in (0, 1), got %s", price)
	}
	if !size.IsPositive() {
		return nil, errs.Newf(errs.CategoryValidationRejected, "risk", "evaluate_trade", "size must be positive, got %s", size)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	start := time.Now()
	now := m.now()
	value := price.Mul(size)
	eval := &TradeEvaluation{
		MarketID:   marketID,
		OutcomeID:  outcomeID,
		Side:       side,
		Value:      value,
		KellyLimit: m.kellyLimit(marketID, price),
		RiskLevel:  m.riskLevel(),
		Breaker:    m.breaker.Status(now),
	}

	if v := m.checker.CheckTrade(marketID, outcomeID, side, value, m.ledger, eval.Breaker); v != nil {
		eval.Violation = v
		observ.IncCounter("risk_evaluations_total", map[string]string{"approved": "false"})
		observ.Log("risk_violation", map[string]any{
			"market_id":  marketID,
			"outcome_id": outcomeID,
			"side":       side,
			"value":      value.String(),
			"kind":       v.Kind,
			"reason":     v.Error(),
		})
		return eval, v
	}

	eval.Approved = true
	if side == Buy {
		if value.GreaterThan(eval.KellyLimit) {
			eval.Warnings = append(eval.Warnings, &Violation{
				Kind:     KellyLimitExceeded,
				MarketID: marketID,
				Proposed: value,
				Limit:    eval.KellyLimit,
			})
		}
		eval.Warnings = append(eval.Warnings, m.correlations.Check(marketID, m.ledger.MarketIDs())...)
	}
	for _, w := range eval.Warnings {
		observ.IncCounter("risk_warnings_total", map[string]string{"kind": string(w.Kind)})
	}
	observ.IncCounter("risk_evaluations_total", map[string]string{"approved": "true"})
	observ.RecordDuration("risk_evaluation", time.Since(start), nil)
	return eval, nil
}

// kellyLimit is the advisory dollar cap: the sizing calculator applied to a
// binary contract at price assuming a fixed edge, with the market's recent
// price volatility; caller holds a lock
func (m *Manager) kellyLimit(marketID string, price decimal.Decimal) decimal.Decimal {
	p := price.InexactFloat64()
	b, ok := kelly.BinaryOdds(p)
	if !ok {
		return decimal.Zero
	}
	f := m.sizing.Size(b, math.Min(p+m.cfg.KellyEdge, 0.99), m.correlations.Volatility(marketID))
	return kelly.PositionSize(m.cfg.Bankroll, f)
}

// ProcessEvent applies a market event to the ledger, then recomputes metrics
// and re-evaluates the circuit breaker. It is the only mutator.
func (m *Manager) ProcessEvent(ctx context.Context, ev MarketEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ev.Validate(); err != nil {
		return errs.Wrap(err, errs.CategoryValidationRejected, "risk", "process_event")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	at := ev.Timestamp
	if at.IsZero() {
		at = m.now()
	}
	if ev.Category != "" {
		m.ledger.SetCategory(ev.MarketID, ev.Category)
	}

	fields := map[string]any{
		"type":      ev.Type,
		"market_id": ev.MarketID,
	}
	switch ev.Type {
	case EventTrade:
		value := ev.Value()
		fields["outcome_id"] = ev.OutcomeID
		fields["side"] = ev.Side
		fields["value"] = value.String()
		if ev.Side == Buy {
			if err := m.ledger.AddPosition(ev.MarketID, ev.OutcomeID, value, ev.Price, at); err != nil {
				return errs.Wrap(err, errs.CategoryValidationRejected, "risk", "process_event")
			}
		} else {
			pnl, err := m.ledger.RemovePosition(ev.MarketID, ev.OutcomeID, value, ev.Price, at)
			if err != nil {
				return errs.Wrap(err, errs.CategoryValidationRejected, "risk", "process_event")
			}
			fields["realized_pnl"] = pnl.String()
		}
		m.correlations.Update(ev.MarketID, ev.OutcomeID, ev.Price.InexactFloat64())
	case EventPriceTick:
		m.correlations.Update(ev.MarketID, ev.OutcomeID, ev.Price.InexactFloat64())
		if m.ledger.UpdatePrice(ev.MarketID, ev.OutcomeID, ev.Price, at) {
			if p, ok := m.ledger.Position(ev.MarketID, ev.OutcomeID); ok {
				if _, err := m.stops.Check(p, at); err != nil {
					observ.Log("stop_loss_emit_failed", map[string]any{"market_id": ev.MarketID, "error": err.Error()})
				}
			}
		}
	case EventMarketResolved:
		pnl := m.ledger.ResolveMarket(ev.MarketID, ev.WinningOutcome, at)
		fields["winning_outcome"] = ev.WinningOutcome
		fields["realized_pnl"] = pnl.String()
	}

	m.recompute(at)
	status, triggers := m.breaker.Evaluate(BreakerInputs{
		DailyPnL: m.ledger.DailyRealizedPnL(at),
		Drawdown: m.metrics.CurrentDrawdown,
		VaR95:    m.metrics.VaR95,
	}, at)
	for _, t := range triggers {
		observ.Log("circuit_breaker_trigger", map[string]any{"kind": t.Kind, "reason": t.Error()})
	}
	fields["breaker_state"] = status.State
	observ.IncCounter("market_events_total", map[string]string{"type": string(ev.Type)})
	if ev.Type != EventPriceTick {
		observ.Log("market_event_processed", fields)
	}

	if m.store != nil {
		if err := m.store.Save(m.ledger.Snapshot()); err != nil {
			return errs.Wrap(err, errs.CategoryStorageFailure, "risk", "save_state").
				WithContext("path", m.cfg.StatePath)
		}
	}
	return nil
}

// recompute refreshes metrics and portfolio gauges; caller holds the write lock
func (m *Manager) recompute(now time.Time) {
	m.metrics = ComputeMetrics(m.cfg.Metrics, m.cfg.Bankroll, m.ledger.RealizedPnL(), m.ledger.PnLHistory(), now)

	observ.SetGauge("portfolio_total_value", m.ledger.TotalValue().InexactFloat64(), nil)
	observ.SetGauge("portfolio_positions", float64(m.ledger.NumPositions()), nil)
	observ.SetGauge("portfolio_realized_pnl", m.ledger.RealizedPnL().InexactFloat64(), nil)
	observ.SetGauge("portfolio_unrealized_pnl", m.ledger.UnrealizedPnL().InexactFloat64(), nil)
	observ.SetGauge("portfolio_current_drawdown", m.metrics.CurrentDrawdown, nil)
	if m.metrics.VaR95 != nil {
		observ.SetGauge("portfolio_var_95", m.metrics.VaR95.InexactFloat64(), nil)
	}
	for _, e := range m.ledger.Exposures() {
		observ.SetGauge("portfolio_theme_exposure", e.Value.InexactFloat64(), map[string]string{"theme": e.Category})
	}
}

// riskLevel scores utilization; caller holds a lock
func (m *Manager) riskLevel() Level {
	exposure := m.ledger.TotalValue().Div(m.cfg.Limits.MaxTotalExposure).InexactFloat64()
	var drawdown float64
	if m.cfg.CircuitBreaker.MaxDrawdownPercentage > 0 {
		drawdown = m.metrics.CurrentDrawdown / m.cfg.CircuitBreaker.MaxDrawdownPercentage
	}
	positions := float64(m.ledger.NumPositions()) / float64(m.cfg.Limits.MaxPositions)
	return LevelFromScore(Score(exposure, drawdown, positions))
}

// Summary returns a consistent snapshot of the book
func (m *Manager) Summary() PortfolioSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	realized := m.ledger.RealizedPnL()
	unrealized := m.ledger.UnrealizedPnL()
	return PortfolioSummary{
		TotalValue:         m.ledger.TotalValue(),
		NumPositions:       m.ledger.NumPositions(),
		TotalPnL:           realized.Add(unrealized),
		RealizedPnL:        realized,
		UnrealizedPnL:      unrealized,
		DailyRealizedPnL:   m.ledger.DailyRealizedPnL(now),
		ExposureByCategory: m.ledger.Exposures(),
		RiskLevel:          m.riskLevel(),
		Breaker:            m.breaker.Status(now),
		StopLosses:         m.stops.Triggers(now),
		AsOf:               now,
	}
}

// Metrics returns the metrics computed after the last event
func (m *Manager) Metrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

// BreakerStatus returns the effective breaker state now
func (m *Manager) BreakerStatus() BreakerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.breaker.Status(m.now())
}

// BreakerEvents returns recent breaker events
func (m *Manager) BreakerEvents(max int) []BreakerEvent {
	return m.breaker.EventHistory(max)
}

// ResetBreaker is the administrative override back to Active
func (m *Manager) ResetBreaker(userID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.breaker.Reset(userID, reason); err != nil {
		return errs.Wrap(err, errs.CategoryValidationRejected, "risk", "reset_breaker")
	}
	return nil
}

// Positions returns copies of the open positions
func (m *Manager) Positions() []portfolio.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ledger.Positions()
}

// PnLHistory returns a copy of the realization history
func (m *Manager) PnLHistory() []portfolio.PnLRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ledger.PnLHistory()
}

// Correlations lists every correlated pair among tracked markets
func (m *Manager) Correlations() []*Violation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.correlations.CheckAll()
}

// Health reports breaker state for the health endpoint; a halted breaker
// degrades the service
func (m *Manager) Health() (map[string]any, bool) {
	st := m.BreakerStatus()
	summary := m.Summary()
	return map[string]any{
		"breaker_state": st.State,
		"positions":     summary.NumPositions,
		"total_value":   summary.TotalValue.String(),
		"risk_level":    summary.RiskLevel,
	}, st.State == StateHalted
}

func (s PortfolioSummary) String() string {
	return fmt.Sprintf("value=$%s positions=%d pnl=$%s level=%s breaker=%s",
		s.TotalValue.StringFixed(2), s.NumPositions, s.TotalPnL.StringFixed(2), s.RiskLevel, s.Breaker.State)
}
