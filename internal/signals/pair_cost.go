package signals

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/prediction-core/internal/observ"
)

// PairCostConfig configures pair-cost arbitrage accumulation
type PairCostConfig struct {
	TargetPairCost    float64 `yaml:"target_pair_cost" json:"target_pair_cost"`
	SafetyMargin      float64 `yaml:"safety_margin" json:"safety_margin"`
	MinPositionSize   float64 `yaml:"min_position_size" json:"min_position_size"`
	MaxImbalanceRatio float64 `yaml:"max_imbalance_ratio" json:"max_imbalance_ratio"`
	MaxTotalSize      float64 `yaml:"max_total_size" json:"max_total_size"`
	MinEdge           float64 `yaml:"min_edge" json:"min_edge"`
	ExpirationMinutes int     `yaml:"expiration_minutes" json:"expiration_minutes"`
}

// DefaultPairCostConfig returns the production defaults
func DefaultPairCostConfig() PairCostConfig {
	return PairCostConfig{
		TargetPairCost:    1.00,
		SafetyMargin:      0.99,
		MinPositionSize:   10,
		MaxImbalanceRatio: 1.5,
		MaxTotalSize:      1000,
		MinEdge:           0.01,
		ExpirationMinutes: 15,
	}
}

// Validate checks ranges
func (c PairCostConfig) Validate() error {
	switch {
	case c.TargetPairCost <= 0:
		return fmt.Errorf("target_pair_cost must be positive, got %v", c.TargetPairCost)
	case c.SafetyMargin <= 0 || c.SafetyMargin > c.TargetPairCost:
		return fmt.Errorf("safety_margin must be within (0, target_pair_cost], got %v", c.SafetyMargin)
	case c.MinPositionSize <= 0:
		return fmt.Errorf("min_position_size must be positive, got %v", c.MinPositionSize)
	case c.MaxTotalSize < c.MinPositionSize:
		return fmt.Errorf("max_total_size must be >= min_position_size, got %v", c.MaxTotalSize)
	case c.MaxImbalanceRatio < 1:
		return fmt.Errorf("max_imbalance_ratio must be >= 1, got %v", c.MaxImbalanceRatio)
	}
	return nil
}

// PairState is the YES/NO inventory accumulated in one binary market
type PairState struct {
	YesQty  decimal.Decimal `json:"yes_qty"`
	NoQty   decimal.Decimal `json:"no_qty"`
	YesCost decimal.Decimal `json:"yes_cost"`
	NoCost  decimal.Decimal `json:"no_cost"`
}

func avg(cost, qty decimal.Decimal) decimal.Decimal {
	if !qty.IsPositive() {
		return decimal.Zero
	}
	return cost.Div(qty)
}

// PairCost is avg YES price + avg NO price
func (s PairState) PairCost() decimal.Decimal {
	return avg(s.YesCost, s.YesQty).Add(avg(s.NoCost, s.NoQty))
}

// GuaranteedProfit is the payout of the matched pairs minus everything spent
func (s PairState) GuaranteedProfit() decimal.Decimal {
	return decimal.Min(s.YesQty, s.NoQty).Sub(s.YesCost.Add(s.NoCost))
}

// HasLockedProfit reports whether both legs are held below the safety margin
func (s PairState) HasLockedProfit(cfg PairCostConfig) bool {
	pc := s.PairCost()
	return s.YesQty.IsPositive() && s.NoQty.IsPositive() &&
		pc.LessThan(dec(cfg.TargetPairCost).Mul(dec(cfg.SafetyMargin)))
}

// shouldBuy decides whether adding one lot on a leg at price keeps the pair
// cost improving and under the safety margin
func (s PairState) shouldBuy(yes bool, price decimal.Decimal, cfg PairCostConfig) bool {
	lot := dec(cfg.MinPositionSize)
	ownQty, ownCost, otherQty, otherCost := s.YesQty, s.YesCost, s.NoQty, s.NoCost
	if !yes {
		ownQty, ownCost, otherQty, otherCost = s.NoQty, s.NoCost, s.YesQty, s.YesCost
	}

	newQty := ownQty.Add(lot)
	if newQty.GreaterThan(dec(cfg.MaxTotalSize)) {
		return false
	}
	if otherQty.IsPositive() {
		if newQty.Div(otherQty).GreaterThan(dec(cfg.MaxImbalanceRatio)) {
			return false
		}
	} else if ownQty.IsPositive() {
		// wait for the other leg before adding a second lot
		return false
	}

	newPair := ownCost.Add(price.Mul(lot)).Div(newQty).Add(avg(otherCost, otherQty))
	if newPair.GreaterThanOrEqual(dec(cfg.SafetyMargin)) {
		return false
	}
	if s.YesQty.IsPositive() && s.NoQty.IsPositive() {
		return newPair.LessThan(s.PairCost())
	}
	return true
}

// PairCostArbitrage accumulates both legs of a binary market while the
// combined average cost stays below 1
type PairCostArbitrage struct {
	cfg   PairCostConfig
	now   Clock
	newID IDFunc

	mu       sync.RWMutex
	states   map[string]PairState
	outcomes map[string][2]string
}

// NewPairCostArbitrage creates the generator
func NewPairCostArbitrage(cfg PairCostConfig) *PairCostArbitrage {
	return &PairCostArbitrage{
		cfg:      cfg,
		now:      time.Now,
		newID:    defaultID,
		states:   make(map[string]PairState),
		outcomes: make(map[string][2]string),
	}
}

func (g *PairCostArbitrage) Name() string           { return string(TypePairCostArbitrage) }
func (g *PairCostArbitrage) SignalType() SignalType { return TypePairCostArbitrage }

// RecordFill adds a filled lot to a leg
func (g *PairCostArbitrage) RecordFill(marketID string, yes bool, qty, price decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.states[marketID]
	if yes {
		s.YesQty = s.YesQty.Add(qty)
		s.YesCost = s.YesCost.Add(qty.Mul(price))
	} else {
		s.NoQty = s.NoQty.Add(qty)
		s.NoCost = s.NoCost.Add(qty.Mul(price))
	}
	g.states[marketID] = s
}

// BookFill implements FillRecorder. Only buys add to a leg; the leg is
// matched against the outcome ids last seen for the market, falling back
// to outcome ids named yes and no.
func (g *PairCostArbitrage) BookFill(f Fill) bool {
	if !f.Buy {
		return false
	}
	yes, ok := g.leg(f.MarketID, f.OutcomeID)
	if !ok {
		return false
	}
	g.RecordFill(f.MarketID, yes, f.Shares, f.Price)
	return true
}

func (g *PairCostArbitrage) leg(marketID, outcomeID string) (yes, ok bool) {
	g.mu.RLock()
	ids, known := g.outcomes[marketID]
	g.mu.RUnlock()
	if known {
		switch outcomeID {
		case ids[0]:
			return true, true
		case ids[1]:
			return false, true
		}
	}
	switch {
	case strings.EqualFold(outcomeID, "yes"):
		return true, true
	case strings.EqualFold(outcomeID, "no"):
		return false, true
	}
	return false, false
}

// State returns the accumulated legs for a market
func (g *PairCostArbitrage) State(marketID string) PairState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.states[marketID]
}

// Generate implements Generator
func (g *PairCostArbitrage) Generate(ctx context.Context, input *SignalInput) (*TradeSignal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bid, ask, ok := input.OrderBook.BestBidAsk()
	if !ok {
		observ.IncCounter("generator_no_signal_total", map[string]string{"generator": g.Name(), "reason": "no_order_book"})
		return nil, nil
	}
	if len(input.Market.Outcomes) >= 2 {
		g.mu.Lock()
		g.outcomes[input.Market.ID] = [2]string{input.Market.Outcomes[0].ID, input.Market.Outcomes[1].ID}
		g.mu.Unlock()
	}
	state := g.State(input.Market.ID)

	yesPrice := ask
	noPrice := one.Sub(bid)

	// the lighter leg is considered first
	legs := []bool{true, false}
	if state.YesQty.GreaterThan(state.NoQty) {
		legs = []bool{false, true}
	}
	for _, yes := range legs {
		price := yesPrice
		if !yes {
			price = noPrice
		}
		if !price.IsPositive() || price.GreaterThanOrEqual(one) {
			continue
		}
		edge := one.Sub(price).Div(price)
		if edge.LessThan(dec(g.cfg.MinEdge)) {
			continue
		}
		if state.shouldBuy(yes, price, g.cfg) {
			return g.signal(input, state, yes, price, edge), nil
		}
	}
	observ.IncCounter("generator_no_signal_total", map[string]string{"generator": g.Name(), "reason": "pair_cost_not_improving"})
	return nil, nil
}

func (g *PairCostArbitrage) signal(input *SignalInput, state PairState, yes bool, price, edge decimal.Decimal) *TradeSignal {
	lot := dec(g.cfg.MinPositionSize)
	cost := lot.Mul(price)
	side, idx := "YES", 0
	if !yes {
		side, idx = "NO", 1
	}
	outcomeID := side
	if len(input.Market.Outcomes) > idx {
		outcomeID = input.Market.Outcomes[idx].ID
	}
	now := g.now()

	return &TradeSignal{
		ID:            g.newID(),
		MarketID:      input.Market.ID,
		SignalType:    TypePairCostArbitrage,
		Direction:     Long,
		OutcomeID:     outcomeID,
		EntryPrice:    price,
		TargetPrice:   one,
		StopLoss:      price.Mul(dec(0.9)),
		PositionSize:  cost,
		Confidence:    0.95,
		ExpectedValue: cost.Mul(one.Sub(price)),
		Edge:          edge,
		KellyFraction: 0.2,
		Reasoning: fmt.Sprintf("Pair cost arbitrage: add %s @ %s, current pair cost %s, guaranteed if < %.4f",
			side, price.StringFixed(4), state.PairCost().StringFixed(4), g.cfg.SafetyMargin),
		Metadata: Metadata{
			ResearchSources: []string{"pair_cost_arbitrage"},
			DataPoints:      1,
			LiquidityScore:  0.85,
			VolatilityScore: 0.5,
			CustomFields: map[string]any{
				"strategy":          "pair_cost_arbitrage",
				"leg":               side,
				"lot_size":          lot.String(),
				"current_pair_cost": state.PairCost().String(),
				"target_pair_cost":  g.cfg.TargetPairCost,
				"yes_qty":           state.YesQty.String(),
				"no_qty":            state.NoQty.String(),
				"guaranteed_profit": state.GuaranteedProfit().String(),
			},
		},
		CreatedAt: now,
		ExpiresAt: expiry(now, time.Duration(g.cfg.ExpirationMinutes)*time.Minute),
	}
}
