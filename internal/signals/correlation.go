package signals

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// RelationType describes the logical relation between two markets
type RelationType string

const (
	RelationImplies           RelationType = "implies"
	RelationSuggests          RelationType = "suggests"
	RelationMutuallyExclusive RelationType = "mutually_exclusive"
	RelationCumulative        RelationType = "cumulative"
	RelationSameOutcome       RelationType = "same_outcome"
)

// Relation is a directed edge From -> To in the market relation graph
type Relation struct {
	From      string       `yaml:"from" json:"from"`
	To        string       `yaml:"to" json:"to"`
	Type      RelationType `yaml:"type" json:"type"`
	Strength  float64      `yaml:"strength" json:"strength"` // suggests only, (0, 1]
	MinSpread float64      `yaml:"min_spread" json:"min_spread"`
}

// CorrelationConfig configures logical arbitrage across related markets
type CorrelationConfig struct {
	Relations         []Relation `yaml:"relations" json:"relations"`
	PositionSize      float64    `yaml:"position_size" json:"position_size"`
	ExpirationMinutes int        `yaml:"expiration_minutes" json:"expiration_minutes"`
}

// DefaultCorrelationConfig returns defaults with no relations configured
func DefaultCorrelationConfig() CorrelationConfig {
	return CorrelationConfig{PositionSize: 100, ExpirationMinutes: 10}
}

// Validate checks every relation
func (c CorrelationConfig) Validate() error {
	if c.PositionSize <= 0 {
		return fmt.Errorf("position_size must be positive, got %v", c.PositionSize)
	}
	for i, r := range c.Relations {
		if r.From == "" || r.To == "" || r.From == r.To {
			return fmt.Errorf("relation %d: from and to must be distinct market ids", i)
		}
		switch r.Type {
		case RelationImplies, RelationMutuallyExclusive, RelationCumulative, RelationSameOutcome:
		case RelationSuggests:
			if r.Strength <= 0 || r.Strength > 1 {
				return fmt.Errorf("relation %d: strength must be within (0, 1], got %v", i, r.Strength)
			}
		default:
			return fmt.Errorf("relation %d: unknown type %q", i, r.Type)
		}
		if r.MinSpread < 0 {
			return fmt.Errorf("relation %d: min_spread must not be negative", i)
		}
	}
	return nil
}

// ArbitrageLeg is one side of a logical arbitrage
type ArbitrageLeg struct {
	MarketID  string
	Direction Direction
	Entry     decimal.Decimal
}

// Violation is a detected inconsistency between two related markets
type Violation struct {
	Relation    Relation
	Kind        string
	Amount      decimal.Decimal
	Description string
	Legs        []ArbitrageLeg
}

// RelationGraph stores the latest price per market and the relations
// between them
type RelationGraph struct {
	mu        sync.RWMutex
	prices    map[string]decimal.Decimal
	relations []Relation
}

// NewRelationGraph creates a graph over the given relations
func NewRelationGraph(relations []Relation) *RelationGraph {
	return &RelationGraph{prices: make(map[string]decimal.Decimal), relations: relations}
}

// UpdatePrice records the latest price for a market
func (g *RelationGraph) UpdatePrice(marketID string, price decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices[marketID] = price
}

// Violations returns every relation currently violated by at least its
// min spread. When marketID is not empty only relations touching it are checked.
func (g *RelationGraph) Violations(marketID string) []Violation {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Violation
	for _, r := range g.relations {
		if marketID != "" && r.From != marketID && r.To != marketID {
			continue
		}
		a, okA := g.prices[r.From]
		b, okB := g.prices[r.To]
		if !okA || !okB {
			continue
		}
		if v, ok := checkRelation(r, a, b); ok {
			out = append(out, v)
		}
	}
	return out
}

func checkRelation(r Relation, a, b decimal.Decimal) (Violation, bool) {
	minSpread := dec(r.MinSpread)
	pct := func(x decimal.Decimal) string { return x.Mul(hundred).StringFixed(2) + "%" }

	switch r.Type {
	case RelationImplies:
		// A implies B, so P(A) <= P(B)
		if !a.GreaterThan(b) {
			return Violation{}, false
		}
		amount := a.Sub(b)
		if amount.LessThan(minSpread) {
			return Violation{}, false
		}
		return Violation{
			Relation:    r,
			Kind:        "implication",
			Amount:      amount,
			Description: fmt.Sprintf("%s implies %s but %s > %s", r.From, r.To, pct(a), pct(b)),
			Legs: []ArbitrageLeg{
				{MarketID: r.To, Direction: Long, Entry: b},
				{MarketID: r.From, Direction: Short, Entry: a},
			},
		}, true

	case RelationSuggests:
		implied := a.Div(dec(r.Strength))
		if !b.LessThan(implied) {
			return Violation{}, false
		}
		amount := implied.Sub(b)
		if amount.LessThan(minSpread) {
			return Violation{}, false
		}
		return Violation{
			Relation:    r,
			Kind:        "suggestion",
			Amount:      amount,
			Description: fmt.Sprintf("%s suggests %s (%.0f%%) but %s < %s", r.From, r.To, r.Strength*100, pct(b), pct(implied)),
			Legs: []ArbitrageLeg{
				{MarketID: r.To, Direction: Long, Entry: b},
				{MarketID: r.From, Direction: Short, Entry: a},
			},
		}, true

	case RelationMutuallyExclusive, RelationCumulative:
		sum := a.Add(b)
		if !sum.GreaterThan(one) {
			return Violation{}, false
		}
		amount := sum.Sub(one)
		if amount.LessThan(minSpread) {
			return Violation{}, false
		}
		return Violation{
			Relation:    r,
			Kind:        "mutually_exclusive",
			Amount:      amount,
			Description: fmt.Sprintf("exclusive markets %s and %s sum to %s > 100%%", r.From, r.To, pct(sum)),
			Legs: []ArbitrageLeg{
				{MarketID: r.From, Direction: Short, Entry: a},
				{MarketID: r.To, Direction: Short, Entry: b},
			},
		}, true

	case RelationSameOutcome:
		amount := a.Sub(b).Abs()
		if amount.IsZero() || amount.LessThan(minSpread) {
			return Violation{}, false
		}
		cheap := ArbitrageLeg{MarketID: r.From, Direction: Long, Entry: a}
		if b.LessThan(a) {
			cheap = ArbitrageLeg{MarketID: r.To, Direction: Long, Entry: b}
		}
		return Violation{
			Relation:    r,
			Kind:        "same_outcome",
			Amount:      amount,
			Description: fmt.Sprintf("same outcome priced at %s and %s", pct(a), pct(b)),
			Legs:        []ArbitrageLeg{cheap},
		}, true
	}
	return Violation{}, false
}

// Correlation emits logical-arbitrage legs for the input market when a
// configured relation with another market is violated. Prices of other
// markets come from earlier inputs.
type Correlation struct {
	cfg   CorrelationConfig
	graph *RelationGraph
	now   Clock
	newID IDFunc
}

// NewCorrelation creates the generator
func NewCorrelation(cfg CorrelationConfig) *Correlation {
	return &Correlation{cfg: cfg, graph: NewRelationGraph(cfg.Relations), now: time.Now, newID: defaultID}
}

func (g *Correlation) Name() string           { return string(TypeCorrelationArbitrage) }
func (g *Correlation) SignalType() SignalType { return TypeCorrelationArbitrage }

// Graph exposes the relation graph for price seeding
func (g *Correlation) Graph() *RelationGraph { return g.graph }

func marketPrice(input *SignalInput) (decimal.Decimal, bool) {
	if mid, ok := input.OrderBook.Mid(); ok {
		return mid, true
	}
	if len(input.Market.Outcomes) > 0 && input.Market.Outcomes[0].Price > 0 {
		return dec(input.Market.Outcomes[0].Price), true
	}
	return decimal.Zero, false
}

// Generate implements Generator
func (g *Correlation) Generate(ctx context.Context, input *SignalInput) (*TradeSignal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	price, ok := marketPrice(input)
	if !ok {
		return nil, nil
	}
	g.graph.UpdatePrice(input.Market.ID, price)

	var (
		best    *Violation
		bestLeg ArbitrageLeg
	)
	for _, v := range g.graph.Violations(input.Market.ID) {
		for _, leg := range v.Legs {
			if leg.MarketID != input.Market.ID || !leg.Entry.IsPositive() {
				continue
			}
			if best == nil || v.Amount.GreaterThan(best.Amount) {
				vv := v
				best, bestLeg = &vv, leg
			}
		}
	}
	if best == nil {
		return nil, nil
	}
	return g.signal(input, *best, bestLeg), nil
}

func (g *Correlation) signal(input *SignalInput, v Violation, leg ArbitrageLeg) *TradeSignal {
	size := dec(g.cfg.PositionSize)
	entry := leg.Entry
	var target, stop decimal.Decimal
	if leg.Direction == Long {
		target = decimal.Min(entry.Add(v.Amount), one)
		stop = entry.Mul(dec(0.9))
	} else {
		target = decimal.Max(entry.Sub(v.Amount), dec(0.01))
		stop = entry.Mul(dec(1.1))
	}
	outcomeID := ""
	if len(input.Market.Outcomes) > 0 {
		outcomeID = input.Market.Outcomes[0].ID
	}
	now := g.now()

	return &TradeSignal{
		ID:            g.newID(),
		MarketID:      input.Market.ID,
		SignalType:    TypeCorrelationArbitrage,
		Direction:     leg.Direction,
		OutcomeID:     outcomeID,
		EntryPrice:    entry,
		TargetPrice:   target,
		StopLoss:      stop,
		PositionSize:  size,
		Confidence:    0.95,
		ExpectedValue: v.Amount.Mul(size).Div(decimal.NewFromInt(int64(len(v.Legs)))),
		Edge:          v.Amount.Div(entry),
		KellyFraction: 0.15,
		Reasoning:     v.Description,
		Metadata: Metadata{
			ResearchSources: []string{"correlation_arbitrage"},
			DataPoints:      2,
			LiquidityScore:  0.8,
			VolatilityScore: 0.5,
			CustomFields: map[string]any{
				"strategy":         "correlation_arbitrage",
				"violation_kind":   v.Kind,
				"related_market":   otherMarket(v.Relation, input.Market.ID),
				"violation_amount": v.Amount.String(),
			},
		},
		CreatedAt: now,
		ExpiresAt: expiry(now, time.Duration(g.cfg.ExpirationMinutes)*time.Minute),
	}
}

func otherMarket(r Relation, id string) string {
	if r.From == id {
		return r.To
	}
	return r.From
}
