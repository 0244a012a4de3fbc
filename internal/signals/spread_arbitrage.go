package signals

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/prediction-core/internal/kelly"
	"github.com/Rajchodisetti/prediction-core/internal/observ"
)

// LiquidityNormalizationUSD is the outcome liquidity that scores 1.0
const LiquidityNormalizationUSD = 10000.0

// SpreadArbitrageConfig configures the spread arbitrage detector
type SpreadArbitrageConfig struct {
	MinEdge             float64 `yaml:"min_edge" json:"min_edge"`
	MinLiquidity        float64 `yaml:"min_liquidity" json:"min_liquidity"`
	MaxKellyFraction    float64 `yaml:"max_kelly_fraction" json:"max_kelly_fraction"`
	DefaultPositionSize float64 `yaml:"default_position_size" json:"default_position_size"`
	Bankroll            float64 `yaml:"bankroll" json:"bankroll"` // 0 = unknown, use DefaultPositionSize
	StopLossPct         float64 `yaml:"stop_loss_pct" json:"stop_loss_pct"`
	TargetPct           float64 `yaml:"target_pct" json:"target_pct"`
	ExpirationHours     int     `yaml:"expiration_hours" json:"expiration_hours"`
}

// DefaultSpreadArbitrageConfig returns the production defaults
func DefaultSpreadArbitrageConfig() SpreadArbitrageConfig {
	return SpreadArbitrageConfig{
		MinEdge:             0.05,
		MinLiquidity:        0.3,
		MaxKellyFraction:    0.1,
		DefaultPositionSize: 100,
		StopLossPct:         0.10,
		TargetPct:           0.15,
		ExpirationHours:     24,
	}
}

// Validate checks ranges
func (c SpreadArbitrageConfig) Validate() error {
	switch {
	case c.MinEdge < 0 || c.MinEdge >= 1:
		return fmt.Errorf("min_edge must be within [0, 1), got %v", c.MinEdge)
	case c.MinLiquidity < 0 || c.MinLiquidity >= 1:
		return fmt.Errorf("min_liquidity must be within [0, 1), got %v", c.MinLiquidity)
	case c.MaxKellyFraction < 0 || c.MaxKellyFraction > 1:
		return fmt.Errorf("max_kelly_fraction must be within [0, 1], got %v", c.MaxKellyFraction)
	case c.DefaultPositionSize <= 0:
		return fmt.Errorf("default_position_size must be positive, got %v", c.DefaultPositionSize)
	case c.Bankroll < 0:
		return fmt.Errorf("bankroll must not be negative, got %v", c.Bankroll)
	case c.StopLossPct <= 0 || c.StopLossPct >= 1:
		return fmt.Errorf("stop_loss_pct must be within (0, 1), got %v", c.StopLossPct)
	case c.TargetPct <= 0:
		return fmt.Errorf("target_pct must be positive, got %v", c.TargetPct)
	}
	return nil
}

// SpreadArbitrage looks for markets whose outcome prices sum below 1
type SpreadArbitrage struct {
	cfg   SpreadArbitrageConfig
	now   Clock
	newID IDFunc
}

// NewSpreadArbitrage creates the generator
func NewSpreadArbitrage(cfg SpreadArbitrageConfig) *SpreadArbitrage {
	return &SpreadArbitrage{cfg: cfg, now: time.Now, newID: defaultID}
}

// WithClock overrides the time source
func (g *SpreadArbitrage) WithClock(c Clock) *SpreadArbitrage {
	g.now = c
	return g
}

func (g *SpreadArbitrage) Name() string           { return string(TypeSpreadArbitrage) }
func (g *SpreadArbitrage) SignalType() SignalType { return TypeSpreadArbitrage }

// spreadOpportunity holds the intermediate values that end up in the signal
// and its reasoning text
type spreadOpportunity struct {
	outcome        Outcome
	totalProb      decimal.Decimal
	edge           decimal.Decimal
	winProbability float64
	liquidityScore float64
	entry          decimal.Decimal
	target         decimal.Decimal
	stop           decimal.Decimal
	kellyFraction  float64
	positionSize   decimal.Decimal
	expectedValue  decimal.Decimal
	confidence     float64
}

// ExpectedValue is p*(target-entry) - q*(entry-stop), scaled by size
func ExpectedValue(entry, target, stop decimal.Decimal, p float64, size decimal.Decimal) decimal.Decimal {
	win := target.Sub(entry)
	loss := entry.Sub(stop)
	ev := dec(p).Mul(win).Sub(dec(1 - p).Mul(loss))
	return ev.Mul(size)
}

// CombinedConfidence blends a normalized edge score, research confidence and
// liquidity with 0.4/0.4/0.2 weights. edgeScore = min(edge/refEdge, 2)/2.
// liquidity is the 0..1 score stored in Metadata.LiquidityScore, so
// ConfidenceValidator reproduces a generator's confidence from the signal.
func CombinedConfidence(edge, refEdge, researchConfidence, liquidity float64) float64 {
	edgeScore := 1.0
	if refEdge > 0 {
		edgeScore = min(edge/refEdge, 2.0) / 2.0
	}
	return clamp01(0.4*edgeScore + 0.4*researchConfidence + 0.2*liquidity)
}

func (g *SpreadArbitrage) detect(input *SignalInput) (*spreadOpportunity, string) {
	market := input.Market
	if len(market.Outcomes) < 2 {
		return nil, "fewer_than_two_outcomes"
	}

	total := decimal.Zero
	for _, o := range market.Outcomes {
		total = total.Add(dec(o.Price))
	}
	edge := one.Sub(total)
	if edge.LessThan(dec(g.cfg.MinEdge)) {
		return nil, "insufficient_edge"
	}

	best := market.Outcomes[0]
	for _, o := range market.Outcomes[1:] {
		if o.Liquidity > best.Liquidity {
			best = o
		}
	}
	if best.Price <= 0 || best.Price >= 1 {
		return nil, "invalid_outcome_price"
	}

	p := best.Price
	if input.Research.ProbabilityEstimate != nil {
		p = clamp01(*input.Research.ProbabilityEstimate)
	}

	liquidityScore := clamp01(best.Liquidity / LiquidityNormalizationUSD)
	if liquidityScore < g.cfg.MinLiquidity {
		return nil, "insufficient_liquidity"
	}

	entry := dec(best.Price)
	stop := entry.Mul(one.Sub(dec(g.cfg.StopLossPct)))
	target := entry.Mul(one.Add(dec(g.cfg.TargetPct)))

	kf := kelly.Fraction(entry, target, stop, p, g.cfg.MaxKellyFraction)
	base := dec(g.cfg.DefaultPositionSize)
	if g.cfg.Bankroll > 0 {
		base = dec(g.cfg.Bankroll)
	}
	size := base.Mul(dec(kf)).Round(4)

	return &spreadOpportunity{
		outcome:        best,
		totalProb:      total,
		edge:           edge,
		winProbability: p,
		liquidityScore: liquidityScore,
		entry:          entry,
		target:         target,
		stop:           stop,
		kellyFraction:  kf,
		positionSize:   size,
		expectedValue:  ExpectedValue(entry, target, stop, p, size),
		confidence:     CombinedConfidence(edge.InexactFloat64(), g.cfg.MinEdge, input.Research.Confidence, liquidityScore),
	}, ""
}

// Generate implements Generator
func (g *SpreadArbitrage) Generate(ctx context.Context, input *SignalInput) (*TradeSignal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opp, reason := g.detect(input)
	if opp == nil {
		observ.IncCounter("generator_no_signal_total", map[string]string{"generator": g.Name(), "reason": reason})
		return nil, nil
	}

	volatility := VolatilityScore(input.PriceHistory)
	now := g.now()

	reasoning := fmt.Sprintf(
		"Spread arbitrage opportunity detected. Market total probability: %s%% (edge: %s%%). "+
			"Research confidence: %.2f%%. Estimated win probability: %.2f%%. "+
			"Liquidity score: %.2f. Volatility: %.2f. Kelly fraction: %.4f.",
		opp.totalProb.Mul(hundred).StringFixed(2),
		opp.edge.Mul(hundred).StringFixed(2),
		input.Research.Confidence*100,
		opp.winProbability*100,
		opp.liquidityScore,
		volatility,
		opp.kellyFraction,
	)

	return &TradeSignal{
		ID:            g.newID(),
		MarketID:      input.Market.ID,
		SignalType:    TypeSpreadArbitrage,
		Direction:     Long,
		OutcomeID:     opp.outcome.ID,
		EntryPrice:    opp.entry,
		TargetPrice:   opp.target,
		StopLoss:      opp.stop,
		PositionSize:  opp.positionSize,
		Confidence:    opp.confidence,
		ExpectedValue: opp.expectedValue,
		Edge:          opp.edge,
		KellyFraction: opp.kellyFraction,
		Reasoning:     reasoning,
		Metadata: Metadata{
			ResearchSources: researchSources(input),
			DataPoints:      input.Research.DataPoints,
			LiquidityScore:  opp.liquidityScore,
			VolatilityScore: volatility,
			CustomFields: map[string]any{
				"win_probability":          opp.winProbability,
				"total_market_probability": opp.totalProb.InexactFloat64(),
			},
		},
		CreatedAt: now,
		ExpiresAt: expiry(now, time.Duration(g.cfg.ExpirationHours)*time.Hour),
	}, nil
}

func researchSources(input *SignalInput) []string {
	out := make([]string, 0, len(input.Research.Sentiment.Sources))
	for _, s := range input.Research.Sentiment.Sources {
		out = append(out, s.Name)
	}
	return out
}
