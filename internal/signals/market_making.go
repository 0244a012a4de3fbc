package signals

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/prediction-core/internal/observ"
)

// MarketMakingConfig configures the liquidity-providing quoter
type MarketMakingConfig struct {
	MinSpread             float64 `yaml:"min_spread" json:"min_spread"`
	MaxInventoryImbalance float64 `yaml:"max_inventory_imbalance" json:"max_inventory_imbalance"`
	BasePositionSize      float64 `yaml:"base_position_size" json:"base_position_size"`
	VolatilityMultiplier  float64 `yaml:"volatility_multiplier" json:"volatility_multiplier"`
	HighVolatility        float64 `yaml:"high_volatility" json:"high_volatility"`
	InventoryAdjustment   float64 `yaml:"inventory_adjustment" json:"inventory_adjustment"`
	ExpirationMinutes     int     `yaml:"expiration_minutes" json:"expiration_minutes"`
}

// DefaultMarketMakingConfig returns the production defaults
func DefaultMarketMakingConfig() MarketMakingConfig {
	return MarketMakingConfig{
		MinSpread:             0.02,
		MaxInventoryImbalance: 0.3,
		BasePositionSize:      100,
		VolatilityMultiplier:  1.5,
		HighVolatility:        0.7,
		InventoryAdjustment:   0.1,
		ExpirationMinutes:     30,
	}
}

// Validate checks ranges
func (c MarketMakingConfig) Validate() error {
	switch {
	case c.MinSpread <= 0 || c.MinSpread >= 1:
		return fmt.Errorf("min_spread must be within (0, 1), got %v", c.MinSpread)
	case c.MaxInventoryImbalance <= 0 || c.MaxInventoryImbalance > 1:
		return fmt.Errorf("max_inventory_imbalance must be within (0, 1], got %v", c.MaxInventoryImbalance)
	case c.BasePositionSize <= 0:
		return fmt.Errorf("base_position_size must be positive, got %v", c.BasePositionSize)
	case c.VolatilityMultiplier < 1:
		return fmt.Errorf("volatility_multiplier must be >= 1, got %v", c.VolatilityMultiplier)
	}
	return nil
}

// inventory tracks filled YES/NO quantity for one market
type inventory struct {
	yes      decimal.Decimal
	no       decimal.Decimal
	invested decimal.Decimal
}

func (inv inventory) imbalance() decimal.Decimal {
	total := inv.yes.Add(inv.no)
	if total.IsZero() {
		return decimal.Zero
	}
	return inv.yes.Sub(inv.no).Div(total)
}

// MarketMaking quotes around the order book mid, skewing its spread with
// volatility and its own inventory imbalance
type MarketMaking struct {
	cfg   MarketMakingConfig
	now   Clock
	newID IDFunc

	mu        sync.RWMutex
	inventory map[string]inventory
}

// NewMarketMaking creates the generator
func NewMarketMaking(cfg MarketMakingConfig) *MarketMaking {
	return &MarketMaking{cfg: cfg, now: time.Now, newID: defaultID, inventory: make(map[string]inventory)}
}

func (g *MarketMaking) Name() string           { return string(TypeMarketMaking) }
func (g *MarketMaking) SignalType() SignalType { return TypeMarketMaking }

// RecordFill updates inventory after one of our quotes was filled.
// Long fills add YES inventory, Short fills add NO inventory.
func (g *MarketMaking) RecordFill(marketID string, dir Direction, size, price decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	inv := g.inventory[marketID]
	switch dir {
	case Long:
		inv.yes = inv.yes.Add(size)
	case Short:
		inv.no = inv.no.Add(size)
	default:
		return
	}
	inv.invested = inv.invested.Add(size.Mul(price))
	g.inventory[marketID] = inv
}

// BookFill implements FillRecorder. Quotes trade the first outcome, so a
// buy adds YES inventory and a sell adds NO inventory.
func (g *MarketMaking) BookFill(f Fill) bool {
	dir := Short
	if f.Buy {
		dir = Long
	}
	g.RecordFill(f.MarketID, dir, f.Shares, f.Price)
	return true
}

// Imbalance returns (yes - no) / (yes + no) for a market
func (g *MarketMaking) Imbalance(marketID string) decimal.Decimal {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.inventory[marketID].imbalance()
}

// Generate implements Generator
func (g *MarketMaking) Generate(ctx context.Context, input *SignalInput) (*TradeSignal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mid, ok := input.OrderBook.Mid()
	if !ok {
		observ.IncCounter("generator_no_signal_total", map[string]string{"generator": g.Name(), "reason": "no_order_book"})
		return nil, nil
	}

	g.mu.RLock()
	inv := g.inventory[input.Market.ID]
	g.mu.RUnlock()
	imbalance := inv.imbalance()

	volatility := VolatilityScore(input.PriceHistory)
	spread := dec(g.cfg.MinSpread)
	if volatility > g.cfg.HighVolatility {
		spread = spread.Mul(dec(g.cfg.VolatilityMultiplier))
	}
	spread = spread.Add(imbalance.Abs().Mul(dec(g.cfg.InventoryAdjustment)))

	minPrice := dec(0.01)
	yes := decimal.Max(mid.Sub(spread.Div(decimal.NewFromInt(2))), minPrice)
	no := decimal.Max(one.Sub(yes), minPrice)
	size := dec(g.cfg.BasePositionSize)

	var (
		dir                 Direction
		entry, target, stop decimal.Decimal
		gap                 decimal.Decimal
		side                string
	)
	if imbalance.LessThanOrEqual(dec(g.cfg.MaxInventoryImbalance)) {
		dir, side = Long, "YES"
		entry, target = yes, mid
		stop = yes.Mul(dec(0.95))
		gap = target.Sub(entry)
	} else {
		dir, side = Short, "NO"
		entry, target = no, one.Sub(mid)
		stop = no.Mul(dec(1.05))
		gap = entry.Sub(target)
	}
	if !gap.IsPositive() {
		observ.IncCounter("generator_no_signal_total", map[string]string{"generator": g.Name(), "reason": "no_quote_edge"})
		return nil, nil
	}

	outcomeID := ""
	if len(input.Market.Outcomes) > 0 {
		outcomeID = input.Market.Outcomes[0].ID
	}
	now := g.now()

	return &TradeSignal{
		ID:            g.newID(),
		MarketID:      input.Market.ID,
		SignalType:    TypeMarketMaking,
		Direction:     dir,
		OutcomeID:     outcomeID,
		EntryPrice:    entry,
		TargetPrice:   target,
		StopLoss:      stop,
		PositionSize:  size,
		Confidence:    0.85,
		ExpectedValue: gap.Mul(size),
		Edge:          gap.Div(entry),
		KellyFraction: 0.1,
		Reasoning: fmt.Sprintf("Market making: providing %s liquidity at %s, mid %s, spread %s%%",
			side, entry.StringFixed(4), mid.StringFixed(4), spread.Mul(hundred).StringFixed(2)),
		Metadata: Metadata{
			ResearchSources: []string{"market_making"},
			DataPoints:      1,
			LiquidityScore:  0.9,
			VolatilityScore: volatility,
			CustomFields: map[string]any{
				"strategy":            "market_making",
				"inventory_imbalance": imbalance.String(),
				"spread":              spread.String(),
				"yes_inventory":       inv.yes.String(),
				"no_inventory":        inv.no.String(),
			},
		},
		CreatedAt: now,
		ExpiresAt: expiry(now, time.Duration(g.cfg.ExpirationMinutes)*time.Minute),
	}, nil
}
