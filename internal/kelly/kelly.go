// Package kelly sizes positions with the Kelly criterion.
//
// All functions are pure. Prices come in as decimals because they are money;
// probabilities and fractions stay float64.
package kelly

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Odds returns b = (target - entry) / (entry - stop). ok is false when the
// stop equals the entry, which leaves the odds undefined.
func Odds(entry, target, stop decimal.Decimal) (b float64, ok bool) {
	loss := entry.Sub(stop)
	if loss.IsZero() {
		return 0, false
	}
	return target.Sub(entry).Div(loss).InexactFloat64(), true
}

// RawFraction returns the unclamped Kelly fraction f* = (b*p - q) / b
func RawFraction(b, p float64) float64 {
	if b == 0 {
		return math.Inf(-1)
	}
	q := 1 - p
	return (b*p - q) / b
}

// Fraction sizes a trade with entry, target and stop prices and win
// probability p. The result is always within [0, maxFraction]: non-positive
// odds or a non-positive edge size to zero.
func Fraction(entry, target, stop decimal.Decimal, p, maxFraction float64) float64 {
	b, ok := Odds(entry, target, stop)
	if !ok || b <= 0 {
		return 0
	}
	f := RawFraction(b, p)
	if f <= 0 || math.IsNaN(f) {
		return 0
	}
	if maxFraction < 0 {
		return 0
	}
	return math.Min(f, maxFraction)
}

// BinaryOdds is b = (1 - price) / price for a contract paying 1 on a win.
// ok is false outside (0, 1).
func BinaryOdds(price float64) (b float64, ok bool) {
	if price <= 0 || price >= 1 {
		return 0, false
	}
	return (1 - price) / price, true
}

// BinaryFraction is the full-Kelly fraction for a binary contract bought at
// price that pays 1 on a win, given our win probability p.
func BinaryFraction(price, p float64) float64 {
	b, ok := BinaryOdds(price)
	if !ok {
		return 0
	}
	f := RawFraction(b, p)
	if f <= 0 || math.IsNaN(f) {
		return 0
	}
	return f
}

// EdgeFromHistory estimates a per-trade edge from realized performance:
// winRate*avgWin - (1-winRate)*avgLoss, with avgLoss as a magnitude. Returns
// 0 for a win rate outside [0, 1] or a non-positive edge.
func EdgeFromHistory(winRate, avgWin, avgLoss float64) float64 {
	if winRate < 0 || winRate > 1 {
		return 0
	}
	return math.Max(0, winRate*avgWin-(1-winRate)*math.Abs(avgLoss))
}

// Strategy selects how a Kelly fraction is turned into a bet size
type Strategy string

const (
	StrategyFullKelly          Strategy = "full_kelly"
	StrategyHalfKelly          Strategy = "half_kelly"
	StrategyQuarterKelly       Strategy = "quarter_kelly"
	StrategyFixedFraction      Strategy = "fixed_fraction"
	StrategyFractional         Strategy = "fractional_kelly" // scaled by SafetyFactor
	StrategyVolatilityAdjusted Strategy = "volatility_adjusted"
)

// Calculator applies safety bounds on top of the raw fraction
type Calculator struct {
	MaxFraction   float64  `yaml:"max_fraction" json:"max_fraction"`
	SafetyFactor  float64  `yaml:"safety_factor" json:"safety_factor"`
	MinFraction   float64  `yaml:"min_fraction" json:"min_fraction"`
	Strategy      Strategy `yaml:"strategy" json:"strategy"`
	FixedFraction float64  `yaml:"fixed_fraction" json:"fixed_fraction"`
}

// DefaultCalculator returns a half-Kelly calculator capped at 25%
func DefaultCalculator() Calculator {
	return Calculator{
		MaxFraction:   0.25,
		SafetyFactor:  0.5,
		MinFraction:   0.01,
		Strategy:      StrategyHalfKelly,
		FixedFraction: 0.02,
	}
}

// Validate rejects inverted or out-of-range bounds
func (c Calculator) Validate() error {
	if c.MaxFraction <= 0 || c.MaxFraction > 1 {
		return fmt.Errorf("max_fraction must be within (0, 1], got %v", c.MaxFraction)
	}
	if c.MinFraction < 0 || c.MinFraction > c.MaxFraction {
		return fmt.Errorf("min_fraction must be within [0, max_fraction], got %v", c.MinFraction)
	}
	if c.SafetyFactor <= 0 || c.SafetyFactor > 1 {
		return fmt.Errorf("safety_factor must be within (0, 1], got %v", c.SafetyFactor)
	}
	switch c.Strategy {
	case StrategyFullKelly, StrategyHalfKelly, StrategyQuarterKelly, StrategyFractional, StrategyVolatilityAdjusted:
	case StrategyFixedFraction:
		if c.FixedFraction <= 0 || c.FixedFraction > c.MaxFraction {
			return fmt.Errorf("fixed_fraction must be within (0, max_fraction], got %v", c.FixedFraction)
		}
	default:
		return fmt.Errorf("unknown sizing strategy %q", c.Strategy)
	}
	return nil
}

// Size returns the bankroll fraction for odds b, win probability p and a
// volatility score in [0, 1]. Fractions below MinFraction are dropped to 0.
func (c Calculator) Size(b, p, volatility float64) float64 {
	if c.Strategy == StrategyFixedFraction {
		return c.FixedFraction
	}
	if b <= 0 {
		return 0
	}
	f := RawFraction(b, p)
	if f <= 0 {
		return 0
	}

	switch c.Strategy {
	case StrategyFullKelly:
	case StrategyHalfKelly:
		f *= 0.5
	case StrategyQuarterKelly:
		f *= 0.25
	case StrategyFractional:
		f *= c.SafetyFactor
	case StrategyVolatilityAdjusted:
		f *= c.SafetyFactor
		switch {
		case volatility > 0.7:
			f *= 0.5
		case volatility > 0.5:
			f *= 0.75
		}
	}

	f = math.Min(f, c.MaxFraction)
	if f < c.MinFraction {
		return 0
	}
	return f
}

// PositionSize converts a fraction of bankroll into a dollar amount
func PositionSize(bankroll decimal.Decimal, fraction float64) decimal.Decimal {
	if fraction <= 0 || !bankroll.IsPositive() {
		return decimal.Zero
	}
	return bankroll.Mul(decimal.NewFromFloat(fraction)).Round(2)
}
