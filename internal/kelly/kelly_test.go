package kelly

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestFraction_SymmetricBetIsZero(t *testing.T) {
	// b = 1, p = 0.5
	f := Fraction(d("0.50"), d("0.60"), d("0.40"), 0.5, 1.0)
	assert.Equal(t, 0.0, f)
}

func TestFraction_WorkedExample(t *testing.T) {
	entry, target, stop := d("0.45"), d("0.5175"), d("0.405")

	b, ok := Odds(entry, target, stop)
	require.True(t, ok)
	assert.InDelta(t, 1.5, b, 1e-12)

	raw := RawFraction(b, 0.58)
	assert.InDelta(t, 0.30, raw, 1e-9)

	assert.InDelta(t, 0.10, Fraction(entry, target, stop, 0.58, 0.10), 1e-12)
	assert.InDelta(t, 0.30, Fraction(entry, target, stop, 0.58, 1.0), 1e-9)
}

func TestFraction_Bounds(t *testing.T) {
	tests := []struct {
		name   string
		entry  string
		target string
		stop   string
		p      float64
		max    float64
		want   float64
	}{
		{"negative edge clamps to zero", "0.50", "0.55", "0.45", 0.30, 0.25, 0},
		{"stop equals entry", "0.50", "0.60", "0.50", 0.90, 0.25, 0},
		{"inverted target", "0.50", "0.40", "0.45", 0.90, 0.25, 0},
		{"capped at max", "0.50", "0.60", "0.45", 0.90, 0.25, 0.25},
		{"certain win capped", "0.20", "1.00", "0.10", 1.0, 0.5, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fraction(d(tt.entry), d(tt.target), d(tt.stop), tt.p, tt.max)
			assert.InDelta(t, tt.want, got, 1e-12)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, tt.max)
		})
	}
}

func TestFraction_MonotonicInProbabilityAndOdds(t *testing.T) {
	entry, stop := d("0.40"), d("0.30")
	target := d("0.55")

	prev := -1.0
	for p := 0.0; p <= 1.0; p += 0.05 {
		f := Fraction(entry, target, stop, p, 1.0)
		assert.GreaterOrEqual(t, f, prev, "p=%v", p)
		prev = f
	}

	prev = -1.0
	for _, tgt := range []string{"0.45", "0.50", "0.60", "0.80", "1.00"} {
		f := Fraction(entry, d(tgt), stop, 0.6, 1.0)
		assert.GreaterOrEqual(t, f, prev, "target=%s", tgt)
		prev = f
	}
}

func TestBinaryFraction(t *testing.T) {
	// Fair price, no edge
	assert.InDelta(t, 0.0, BinaryFraction(0.5, 0.5), 1e-12)
	// b = 1, p = 0.6 -> 0.2
	assert.InDelta(t, 0.2, BinaryFraction(0.5, 0.6), 1e-12)
	assert.Equal(t, 0.0, BinaryFraction(0, 0.9))
	assert.Equal(t, 0.0, BinaryFraction(1, 0.9))

	b, ok := BinaryOdds(0.25)
	require.True(t, ok)
	assert.InDelta(t, 3.0, b, 1e-12)
	_, ok = BinaryOdds(1)
	assert.False(t, ok)
}

func TestCalculator_Strategies(t *testing.T) {
	base := DefaultCalculator()
	require.NoError(t, base.Validate())

	// b = 1, p = 0.7 -> f* = 0.4
	full := base
	full.Strategy = StrategyFullKelly
	assert.InDelta(t, 0.25, full.Size(1, 0.7, 0), 1e-12, "capped at max fraction")

	half := base
	assert.InDelta(t, 0.2, half.Size(1, 0.7, 0), 1e-12)

	quarter := base
	quarter.Strategy = StrategyQuarterKelly
	assert.InDelta(t, 0.1, quarter.Size(1, 0.7, 0), 1e-12)

	fixed := base
	fixed.Strategy = StrategyFixedFraction
	assert.InDelta(t, 0.02, fixed.Size(1, 0.1, 0), 1e-12)

	fractional := base
	fractional.Strategy = StrategyFractional
	fractional.SafetyFactor = 0.3
	assert.InDelta(t, 0.12, fractional.Size(1, 0.7, 0.9), 1e-12, "volatility is ignored")

	vol := base
	vol.Strategy = StrategyVolatilityAdjusted
	assert.InDelta(t, 0.2, vol.Size(1, 0.7, 0.2), 1e-12)
	assert.InDelta(t, 0.15, vol.Size(1, 0.7, 0.6), 1e-12)
	assert.InDelta(t, 0.1, vol.Size(1, 0.7, 0.9), 1e-12)

	// Below the minimum fraction the bet is dropped
	assert.Equal(t, 0.0, quarter.Size(1, 0.51, 0))
}

func TestCalculator_ValidateRejectsBadBounds(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Calculator)
	}{
		{"max above one", func(c *Calculator) { c.MaxFraction = 1.5 }},
		{"min above max", func(c *Calculator) { c.MinFraction = 0.5 }},
		{"zero safety", func(c *Calculator) { c.SafetyFactor = 0 }},
		{"unknown strategy", func(c *Calculator) { c.Strategy = "martingale" }},
		{"fixed above max", func(c *Calculator) { c.Strategy = StrategyFixedFraction; c.FixedFraction = 0.9 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultCalculator()
			tt.modify(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestEdgeFromHistoryAndPositionSize(t *testing.T) {
	assert.InDelta(t, 0.6*10-0.4*5, EdgeFromHistory(0.6, 10, 5), 1e-12)
	assert.Equal(t, 0.0, EdgeFromHistory(0, 10, 5))
	assert.InDelta(t, 4.0, EdgeFromHistory(0.6, 10, -5), 1e-12, "loss is taken as a magnitude")
	assert.InDelta(t, 10.0, EdgeFromHistory(1, 10, 0), 1e-12, "no losing trades")
	assert.Equal(t, 0.0, EdgeFromHistory(1.2, 10, 5))
	assert.True(t, PositionSize(d("1000"), 0.1).Equal(d("100")))
	assert.True(t, PositionSize(d("1000"), -0.1).IsZero())
}
