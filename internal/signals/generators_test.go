package signals

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr(f float64) *float64 { return &f }

func binaryInput(id string, yes, no float64, liqYes, liqNo float64) *SignalInput {
	return &SignalInput{
		Market: Market{
			ID:       id,
			Question: "Will it happen?",
			Category: "politics",
			Outcomes: []Outcome{
				{ID: id + "-yes", Name: "YES", Price: yes, Liquidity: liqYes},
				{ID: id + "-no", Name: "NO", Price: no, Liquidity: liqNo},
			},
		},
		Research: ResearchOutput{MarketID: id, Confidence: 0.8, DataPoints: 12},
	}
}

func book(bid, ask string) *OrderBookSnapshot {
	return &OrderBookSnapshot{
		Bids: []Level{{Price: d(bid), Size: d("500")}},
		Asks: []Level{{Price: d(ask), Size: d("500")}},
	}
}

func TestSpreadArbitrage_WorkedExample(t *testing.T) {
	g := NewSpreadArbitrage(DefaultSpreadArbitrageConfig()).WithClock(func() time.Time { return fixedNow })
	in := binaryInput("m1", 0.45, 0.45, 8000, 2000)
	in.Research.ProbabilityEstimate = ptr(0.58)

	sig, err := g.Generate(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, sig)

	assert.Equal(t, TypeSpreadArbitrage, sig.SignalType)
	assert.Equal(t, Long, sig.Direction)
	assert.Equal(t, "m1-yes", sig.OutcomeID)
	assert.True(t, sig.Edge.Equal(d("0.1")), "edge %s", sig.Edge)
	assert.True(t, sig.EntryPrice.Equal(d("0.45")))
	assert.True(t, sig.StopLoss.Equal(d("0.405")))
	assert.True(t, sig.TargetPrice.Equal(d("0.5175")))
	assert.InDelta(t, 0.10, sig.KellyFraction, 1e-9)
	assert.True(t, sig.PositionSize.Equal(d("10")), "size %s", sig.PositionSize)
	assert.InDelta(t, 0.2025, sig.ExpectedValue.InexactFloat64(), 1e-9)
	assert.InDelta(t, 0.4+0.32+0.2*0.8, sig.Confidence, 1e-9)
	assert.InDelta(t, 0.8, sig.Metadata.LiquidityScore, 1e-9)
	assert.True(t, sig.PricesOrdered())
	require.NotNil(t, sig.ExpiresAt)
	assert.Equal(t, fixedNow.Add(24*time.Hour), *sig.ExpiresAt)
	assert.Contains(t, sig.Reasoning, "edge: 10.00%")
}

func TestSpreadArbitrage_ConfidenceMatchesValidator(t *testing.T) {
	tests := []struct {
		name     string
		liqYes   float64
		research float64
	}{
		{"deep book", 9500, 0.8},
		{"at liquidity floor", 3000, 0.6},
		{"capped liquidity", 25000, 0.9},
	}
	g := NewSpreadArbitrage(DefaultSpreadArbitrageConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := binaryInput("m1", 0.45, 0.45, tt.liqYes, 1000)
			in.Research.Confidence = tt.research
			sig, err := g.Generate(context.Background(), in)
			require.NoError(t, err)
			require.NotNil(t, sig)

			want := CombinedConfidence(sig.Edge.InexactFloat64(), 0.05, tt.research, sig.Metadata.LiquidityScore)
			assert.InDelta(t, want, sig.Confidence, 1e-9)

			// a validator threshold at the generator's own score passes
			v := ConfidenceValidator{MinConfidence: sig.Confidence - 1e-9, ReferenceEdge: 0.05}
			assert.True(t, v.Validate(sig, in).Passed)
		})
	}
}

func TestSpreadArbitrage_EdgeBoundaryIsInclusive(t *testing.T) {
	g := NewSpreadArbitrage(DefaultSpreadArbitrageConfig())
	sig, err := g.Generate(context.Background(), binaryInput("m1", 0.50, 0.45, 9000, 9000))
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.True(t, sig.Edge.Equal(d("0.05")), "edge %s", sig.Edge)
	assert.True(t, EdgeValidator{MinEdge: 0.05}.Validate(sig, nil).Passed)
}

func TestSpreadArbitrage_NoSignal(t *testing.T) {
	tests := []struct {
		name  string
		input *SignalInput
	}{
		{"edge below minimum", binaryInput("m", 0.50, 0.48, 9000, 9000)},
		{"prices sum above one", binaryInput("m", 0.60, 0.50, 9000, 9000)},
		{"thin liquidity", binaryInput("m", 0.40, 0.40, 1000, 500)},
		{"single outcome", &SignalInput{Market: Market{ID: "m", Outcomes: []Outcome{{ID: "a", Price: 0.3, Liquidity: 9000}}}}},
	}
	g := NewSpreadArbitrage(DefaultSpreadArbitrageConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := g.Generate(context.Background(), tt.input)
			require.NoError(t, err)
			assert.Nil(t, sig)
		})
	}
}

func TestSpreadArbitrage_DeterministicAsideFromID(t *testing.T) {
	g := NewSpreadArbitrage(DefaultSpreadArbitrageConfig()).WithClock(func() time.Time { return fixedNow })
	in := binaryInput("m1", 0.40, 0.45, 8000, 2000)
	a, err := g.Generate(context.Background(), in)
	require.NoError(t, err)
	b, err := g.Generate(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, a)
	require.NotNil(t, b)

	assert.NotEqual(t, a.ID, b.ID)
	b.ID = a.ID
	assert.Equal(t, a, b)
}

func TestMarketMaking_QuotesYesThenSkewsToNo(t *testing.T) {
	g := NewMarketMaking(DefaultMarketMakingConfig())
	in := binaryInput("mm", 0.5, 0.5, 5000, 5000)
	in.OrderBook = book("0.48", "0.52")

	sig, err := g.Generate(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, Long, sig.Direction)
	assert.True(t, sig.EntryPrice.Equal(d("0.49")), "entry %s", sig.EntryPrice)
	assert.True(t, sig.TargetPrice.Equal(d("0.5")))
	assert.True(t, sig.ExpectedValue.Equal(d("1")), "ev %s", sig.ExpectedValue)
	assert.True(t, sig.PricesOrdered())

	g.RecordFill("mm", Long, d("100"), d("0.49"))
	assert.True(t, g.Imbalance("mm").Equal(d("1")))

	sig, err = g.Generate(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, Short, sig.Direction)
	assert.True(t, sig.EntryPrice.Equal(d("0.56")), "entry %s", sig.EntryPrice)
	assert.True(t, sig.TargetPrice.Equal(d("0.5")))
	assert.True(t, sig.ExpectedValue.IsPositive())
	assert.True(t, sig.ExpectedValue.Equal(d("6")), "ev %s", sig.ExpectedValue)
	assert.True(t, sig.PricesOrdered())
}

func TestMarketMaking_NoBookNoSignal(t *testing.T) {
	g := NewMarketMaking(DefaultMarketMakingConfig())
	sig, err := g.Generate(context.Background(), binaryInput("mm", 0.5, 0.5, 5000, 5000))
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestPairCost_AccumulatesBothLegs(t *testing.T) {
	g := NewPairCostArbitrage(DefaultPairCostConfig())
	in := binaryInput("pc", 0.45, 0.55, 5000, 5000)
	in.OrderBook = book("0.44", "0.45")

	// empty state buys the first YES lot
	sig, err := g.Generate(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, "pc-yes", sig.OutcomeID)
	assert.Equal(t, Long, sig.Direction)
	assert.True(t, sig.PositionSize.Equal(d("4.5")))
	assert.True(t, sig.PricesOrdered())

	g.RecordFill("pc", true, d("10"), d("0.45"))

	// NO at 0.56 would push the pair cost to 1.01
	sig, err = g.Generate(context.Background(), in)
	require.NoError(t, err)
	assert.Nil(t, sig)

	in.OrderBook = book("0.50", "0.51")
	sig, err = g.Generate(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, "pc-no", sig.OutcomeID)
	assert.True(t, sig.EntryPrice.Equal(d("0.5")))

	g.RecordFill("pc", false, d("10"), d("0.50"))
	state := g.State("pc")
	assert.True(t, state.PairCost().Equal(d("0.95")))
	assert.True(t, state.HasLockedProfit(DefaultPairCostConfig()))
	assert.True(t, state.GuaranteedProfit().Equal(d("0.5")))
}

func TestCorrelation_ImplicationViolation(t *testing.T) {
	cfg := DefaultCorrelationConfig()
	cfg.Relations = []Relation{{From: "a", To: "b", Type: RelationImplies, MinSpread: 0.05}}
	require.NoError(t, cfg.Validate())
	g := NewCorrelation(cfg)

	sig, err := g.Generate(context.Background(), binaryInput("a", 0.7, 0.3, 1000, 1000))
	require.NoError(t, err)
	assert.Nil(t, sig, "related market has no price yet")

	sig, err = g.Generate(context.Background(), binaryInput("b", 0.5, 0.5, 1000, 1000))
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, Long, sig.Direction)
	assert.True(t, sig.EntryPrice.Equal(d("0.5")))
	assert.True(t, sig.TargetPrice.Equal(d("0.7")))
	assert.True(t, sig.ExpectedValue.Equal(d("10")), "ev %s", sig.ExpectedValue)
	assert.True(t, sig.Edge.Equal(d("0.4")))
	assert.Equal(t, "a", sig.Metadata.CustomFields["related_market"])
	assert.True(t, sig.PricesOrdered())
}

func TestCorrelation_MutuallyExclusiveShortsBothLegs(t *testing.T) {
	cfg := DefaultCorrelationConfig()
	cfg.Relations = []Relation{{From: "c", To: "d", Type: RelationMutuallyExclusive}}
	g := NewCorrelation(cfg)

	g.Graph().UpdatePrice("c", d("0.6"))
	sig, err := g.Generate(context.Background(), binaryInput("d", 0.55, 0.45, 1000, 1000))
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, Short, sig.Direction)
	assert.True(t, sig.TargetPrice.Equal(d("0.4")), "target %s", sig.TargetPrice)
	assert.True(t, sig.PricesOrdered())
}

func TestCorrelationConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		rel  Relation
	}{
		{"self loop", Relation{From: "a", To: "a", Type: RelationImplies}},
		{"unknown type", Relation{From: "a", To: "b", Type: "weird"}},
		{"suggests without strength", Relation{From: "a", To: "b", Type: RelationSuggests}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultCorrelationConfig()
			cfg.Relations = []Relation{tt.rel}
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestVolatilityScore(t *testing.T) {
	assert.Equal(t, 0.5, VolatilityScore(nil))
	flat := []PriceSnapshot{{Price: d("0.5")}, {Price: d("0.5")}, {Price: d("0.5")}}
	assert.Equal(t, 0.0, VolatilityScore(flat))
	wild := []PriceSnapshot{{Price: d("0.1")}, {Price: d("0.9")}}
	assert.Equal(t, 1.0, VolatilityScore(wild))
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	r := NewRegistry(NewSpreadArbitrage(DefaultSpreadArbitrageConfig()))
	assert.Error(t, r.Register(NewSpreadArbitrage(DefaultSpreadArbitrageConfig())))
	require.NoError(t, r.Register(NewMarketMaking(DefaultMarketMakingConfig())))

	names := []string{}
	for _, g := range r.Generators() {
		names = append(names, g.Name())
	}
	assert.Equal(t, []string{"spread_arbitrage", "market_making"}, names)

	_, ok := r.Lookup("market_making")
	assert.True(t, ok)
}

func TestRegistry_RecordFillChangesNextSignal(t *testing.T) {
	pc := NewPairCostArbitrage(DefaultPairCostConfig())
	mm := NewMarketMaking(DefaultMarketMakingConfig())
	r := NewRegistry(NewSpreadArbitrage(DefaultSpreadArbitrageConfig()), mm, pc)

	in := binaryInput("pc", 0.45, 0.55, 5000, 5000)
	in.OrderBook = book("0.44", "0.45")
	sig, err := r.Generators()[2].Generate(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, "pc-yes", sig.OutcomeID)

	assert.True(t, r.RecordFill(Fill{
		SignalType: TypePairCostArbitrage, MarketID: "pc", OutcomeID: "pc-yes",
		Buy: true, Shares: d("10"), Price: d("0.45"),
	}))
	assert.True(t, pc.State("pc").YesQty.Equal(d("10")))

	// the YES leg is held, and NO at 0.56 would push the pair cost over 1
	sig, err = pc.Generate(context.Background(), in)
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestRegistry_RecordFillDispatch(t *testing.T) {
	tests := []struct {
		name   string
		fill   Fill
		booked bool
		check  func(t *testing.T, mm *MarketMaking, pc *PairCostArbitrage)
	}{
		{
			name:   "market making sell adds no inventory",
			fill:   Fill{SignalType: TypeMarketMaking, MarketID: "mm", OutcomeID: "mm-yes", Shares: d("50"), Price: d("0.5")},
			booked: true,
			check: func(t *testing.T, mm *MarketMaking, _ *PairCostArbitrage) {
				assert.True(t, mm.Imbalance("mm").Equal(d("-1")))
			},
		},
		{
			name:   "pair cost outcome named no",
			fill:   Fill{SignalType: TypePairCostArbitrage, MarketID: "x", OutcomeID: "NO", Buy: true, Shares: d("5"), Price: d("0.4")},
			booked: true,
			check: func(t *testing.T, _ *MarketMaking, pc *PairCostArbitrage) {
				assert.True(t, pc.State("x").NoCost.Equal(d("2")))
			},
		},
		{
			name: "pair cost ignores sells",
			fill: Fill{SignalType: TypePairCostArbitrage, MarketID: "x", OutcomeID: "yes", Shares: d("5"), Price: d("0.4")},
		},
		{
			name: "pair cost unknown outcome",
			fill: Fill{SignalType: TypePairCostArbitrage, MarketID: "x", OutcomeID: "0xabc", Buy: true, Shares: d("5"), Price: d("0.4")},
		},
		{
			name: "generator without inventory",
			fill: Fill{SignalType: TypeSpreadArbitrage, MarketID: "x", OutcomeID: "yes", Buy: true, Shares: d("5"), Price: d("0.4")},
		},
		{
			name: "unregistered type",
			fill: Fill{SignalType: TypeCorrelationArbitrage, MarketID: "x", OutcomeID: "yes", Buy: true, Shares: d("5"), Price: d("0.4")},
		},
		{
			name: "empty fill",
			fill: Fill{SignalType: TypeMarketMaking, MarketID: "mm", OutcomeID: "mm-yes", Buy: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mm := NewMarketMaking(DefaultMarketMakingConfig())
			pc := NewPairCostArbitrage(DefaultPairCostConfig())
			r := NewRegistry(NewSpreadArbitrage(DefaultSpreadArbitrageConfig()), mm, pc)

			assert.Equal(t, tt.booked, r.RecordFill(tt.fill))
			if tt.check != nil {
				tt.check(t, mm, pc)
			}
		})
	}
}
