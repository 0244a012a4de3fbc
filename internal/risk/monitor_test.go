package risk

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/prediction-core/internal/portfolio"
)

func TestCorrelationMonitor(t *testing.T) {
	c := NewCorrelationMonitor(0.7, 5)
	prices := []float64{0.40, 0.45, 0.43, 0.50, 0.55, 0.60}
	for _, p := range prices {
		c.Update("a", "yes", p)
		c.Update("b", "yes", p/2)
		c.Update("inv", "yes", 1-p)
	}
	c.Update("flat", "yes", 0.5)
	c.Update("flat", "yes", 0.5)

	assert.Equal(t, 5, c.Observations("a"), "window trims history")

	corr, ok := c.Correlation("a", "b")
	require.True(t, ok)
	assert.InDelta(t, 1.0, corr, 1e-9)

	corr, ok = c.Correlation("a", "inv")
	require.True(t, ok)
	assert.InDelta(t, -1.0, corr, 1e-9)

	_, ok = c.Correlation("a", "flat")
	assert.False(t, ok, "flat series has no correlation")
	_, ok = c.Correlation("a", "unknown")
	assert.False(t, ok)

	found := c.Check("a", []string{"a", "b", "inv", "flat"})
	require.Len(t, found, 2)
	assert.Equal(t, "b", found[0].RelatedMarket)
	assert.Equal(t, "inv", found[1].RelatedMarket)
	assert.Equal(t, CorrelationDetected, found[0].Kind)
	assert.False(t, found[0].Blocking())

	// a-b, a-inv, b-inv
	assert.Len(t, c.CheckAll(), 3)
}

func TestCorrelationMonitor_FollowsReferenceOutcome(t *testing.T) {
	c := NewCorrelationMonitor(0.7, 20)
	for _, p := range []float64{0.40, 0.45, 0.50, 0.55, 0.60, 0.65} {
		c.Update("a", "yes", p)
		c.Update("b", "yes", p)
		c.Update("b", "no", 1-p)
	}

	assert.Equal(t, 6, c.Observations("b"), "no-side ticks stay out of the series")
	corr, ok := c.Correlation("a", "b")
	require.True(t, ok)
	assert.InDelta(t, 1.0, corr, 1e-9)
	require.Len(t, c.Check("b", []string{"a"}), 1)

	t.Run("a yes tick restarts a series begun on another outcome", func(t *testing.T) {
		c := NewCorrelationMonitor(0.7, 20)
		c.Update("m", "no", 0.6)
		c.Update("m", "no", 0.55)
		ref, _ := c.Reference("m")
		assert.Equal(t, "no", ref)

		c.Update("m", "yes", 0.45)
		ref, _ = c.Reference("m")
		assert.Equal(t, "yes", ref)
		assert.Equal(t, 1, c.Observations("m"))

		c.Update("m", "no", 0.5)
		assert.Equal(t, 1, c.Observations("m"))
	})

	t.Run("outcomes other than yes use the first one seen", func(t *testing.T) {
		c := NewCorrelationMonitor(0.7, 20)
		c.Update("race", "smith", 0.3)
		c.Update("race", "jones", 0.6)
		c.Update("race", "smith", 0.35)
		ref, _ := c.Reference("race")
		assert.Equal(t, "smith", ref)
		assert.Equal(t, 2, c.Observations("race"))
	})
}

func TestCorrelationMonitor_Volatility(t *testing.T) {
	c := NewCorrelationMonitor(0.7, 20)
	assert.Equal(t, 0.5, c.Volatility("m"), "unknown market")

	c.Update("calm", "yes", 0.50)
	c.Update("calm", "yes", 0.50)
	assert.Equal(t, 0.0, c.Volatility("calm"))

	for _, p := range []float64{0.2, 0.8, 0.2, 0.8} {
		c.Update("wild", "yes", p)
	}
	assert.Equal(t, 1.0, c.Volatility("wild"))
}

func TestLevelFromScore(t *testing.T) {
	tests := []struct {
		score float64
		want  Level
	}{
		{0, LevelLow},
		{0.39, LevelLow},
		{0.4, LevelMedium},
		{0.7, LevelHigh},
		{0.9, LevelCritical},
		{1, LevelCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelFromScore(tt.score), "score %v", tt.score)
	}

	assert.InDelta(t, 0.5, Score(0.5, 0.5, 0.5), 1e-9)
	assert.Equal(t, 1.0, Score(3, 3, 3))
	assert.Equal(t, 0.0, Score(-1, 0, 0))
}

type stopRecorder struct {
	stops []StopLossTrigger
	err   error
}

func (r *stopRecorder) WriteStop(s StopLossTrigger) error {
	r.stops = append(r.stops, s)
	return r.err
}

func TestStopLossMonitor(t *testing.T) {
	pos := portfolio.Position{
		MarketID:      "m1",
		OutcomeID:     "yes",
		Investment:    d("50"),
		AvgEntryPrice: d("0.50"),
		CurrentPrice:  d("0.42"),
	}
	sink := &stopRecorder{}
	mon := NewStopLossMonitor(0.2, sink)

	trig, err := mon.Check(pos, t0)
	require.NoError(t, err)
	assert.Nil(t, trig, "16% loss is under the threshold")

	pos.CurrentPrice = d("0.39")
	trig, err = mon.Check(pos, t0)
	require.NoError(t, err)
	require.NotNil(t, trig)
	assert.Equal(t, "m1/yes_2026-07-01", trig.PositionID)
	assert.InDelta(t, 0.22, trig.LossPct, 1e-9)

	trig, err = mon.Check(pos, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, trig, "fires once per day")

	trig, err = mon.Check(pos, t0.Add(24*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, trig, "fires again the next day")

	assert.Len(t, sink.stops, 2)
	assert.Len(t, mon.Triggers(t0), 1)
	assert.Len(t, mon.Triggers(t0.Add(24*time.Hour)), 1)

	sink.err = errors.New("disk full")
	pos.MarketID = "m2"
	trig, err = mon.Check(pos, t0)
	assert.Error(t, err)
	assert.NotNil(t, trig)

	trig, err = NewStopLossMonitor(0, nil).Check(pos, t0)
	assert.NoError(t, err)
	assert.Nil(t, trig, "disabled")
}
