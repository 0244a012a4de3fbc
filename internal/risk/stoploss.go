package risk

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/prediction-core/internal/observ"
	"github.com/Rajchodisetti/prediction-core/internal/portfolio"
)

// StopLossTrigger is raised when a position's mark falls stop_loss_percentage
// below its average entry
type StopLossTrigger struct {
	MarketID     string          `json:"market_id"`
	OutcomeID    string          `json:"outcome_id"`
	PositionID   string          `json:"position_id"`
	TriggerPrice decimal.Decimal `json:"trigger_price"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	Investment   decimal.Decimal `json:"investment"`
	LossPct      float64         `json:"loss_pct"`
	TimestampUTC time.Time       `json:"timestamp_utc"`
}

// StopSink receives stop-loss triggers, typically the outbox
type StopSink interface {
	WriteStop(StopLossTrigger) error
}

// StopLossMonitor fires at most once per position per UTC day
type StopLossMonitor struct {
	pct      float64
	triggers map[string]StopLossTrigger // position id -> trigger
	sink     StopSink
}

// NewStopLossMonitor creates a monitor; pct 0 disables it
func NewStopLossMonitor(pct float64, sink StopSink) *StopLossMonitor {
	return &StopLossMonitor{pct: pct, triggers: make(map[string]StopLossTrigger), sink: sink}
}

// generatePositionID buckets a position by UTC day for idempotency
func generatePositionID(k portfolio.Key, now time.Time) string {
	return k.String() + "_" + now.UTC().Format("2006-01-02")
}

// Check evaluates a position after a price update
func (s *StopLossMonitor) Check(p portfolio.Position, now time.Time) (*StopLossTrigger, error) {
	if s.pct <= 0 || !p.AvgEntryPrice.IsPositive() || !p.CurrentPrice.IsPositive() {
		return nil, nil
	}
	lossPct := p.AvgEntryPrice.Sub(p.CurrentPrice).Div(p.AvgEntryPrice).InexactFloat64()
	if lossPct < s.pct {
		return nil, nil
	}

	positionID := generatePositionID(p.Key(), now)
	if _, exists := s.triggers[positionID]; exists {
		observ.IncCounter("stop_triggers_duplicate_total", nil)
		return nil, nil
	}

	trigger := StopLossTrigger{
		MarketID:     p.MarketID,
		OutcomeID:    p.OutcomeID,
		PositionID:   positionID,
		TriggerPrice: p.CurrentPrice,
		EntryPrice:   p.AvgEntryPrice,
		Investment:   p.Investment,
		LossPct:      lossPct,
		TimestampUTC: now.UTC(),
	}
	s.triggers[positionID] = trigger
	s.prune(now)

	observ.IncCounter("stop_triggers_total", nil)
	observ.Log("stop_loss_triggered", map[string]any{
		"market_id":  p.MarketID,
		"outcome_id": p.OutcomeID,
		"loss_pct":   lossPct,
		"price":      p.CurrentPrice.String(),
	})
	if s.sink != nil {
		if err := s.sink.WriteStop(trigger); err != nil {
			return &trigger, err
		}
	}
	return &trigger, nil
}

// Triggers returns today's triggers
func (s *StopLossMonitor) Triggers(now time.Time) []StopLossTrigger {
	today := now.UTC().Format("2006-01-02")
	var out []StopLossTrigger
	for _, t := range s.triggers {
		if t.TimestampUTC.Format("2006-01-02") == today {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PositionID < out[j].PositionID })
	return out
}

func (s *StopLossMonitor) prune(now time.Time) {
	cutoff := now.Add(-48 * time.Hour)
	for id, t := range s.triggers {
		if t.TimestampUTC.Before(cutoff) {
			delete(s.triggers, id)
		}
	}
}
