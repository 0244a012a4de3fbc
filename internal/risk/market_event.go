package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MarketEventType routes an event inside the manager
type MarketEventType string

const (
	EventTrade          MarketEventType = "trade"
	EventPriceTick      MarketEventType = "price_tick"
	EventMarketResolved MarketEventType = "market_resolved"
)

// MarketEvent is a fill, a price tick or a resolution reported back by the
// execution and market data layers
type MarketEvent struct {
	Type           MarketEventType `json:"type"`
	MarketID       string          `json:"market_id"`
	OutcomeID      string          `json:"outcome_id,omitempty"`
	Side           Side            `json:"side,omitempty"`
	Price          decimal.Decimal `json:"price"`
	Size           decimal.Decimal `json:"size"` // shares
	Category       string          `json:"category,omitempty"`
	WinningOutcome string          `json:"winning_outcome,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Value is price * size
func (e MarketEvent) Value() decimal.Decimal { return e.Price.Mul(e.Size) }

// Validate checks the fields each event type needs
func (e MarketEvent) Validate() error {
	if e.MarketID == "" {
		return fmt.Errorf("market_id is required")
	}
	switch e.Type {
	case EventTrade:
		if e.OutcomeID == "" {
			return fmt.Errorf("trade on %s: outcome_id is required", e.MarketID)
		}
		if e.Side != Buy && e.Side != Sell {
			return fmt.Errorf("trade on %s: unknown side %q", e.MarketID, e.Side)
		}
		if !e.Price.IsPositive() || !e.Size.IsPositive() {
			return fmt.Errorf("trade on %s: price and size must be positive", e.MarketID)
		}
	case EventPriceTick:
		if e.OutcomeID == "" {
			return fmt.Errorf("price tick on %s: outcome_id is required", e.MarketID)
		}
		if !e.Price.IsPositive() {
			return fmt.Errorf("price tick on %s: price must be positive", e.MarketID)
		}
	case EventMarketResolved:
		if e.WinningOutcome == "" {
			return fmt.Errorf("resolution of %s: winning_outcome is required", e.MarketID)
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}
