package signals

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalType tags which detector produced a signal
type SignalType string

const (
	TypeSpreadArbitrage      SignalType = "spread_arbitrage"
	TypeMarketMaking         SignalType = "market_making"
	TypePairCostArbitrage    SignalType = "pair_cost_arbitrage"
	TypeCorrelationArbitrage SignalType = "correlation_arbitrage"
	TypeMomentum             SignalType = "momentum"
	TypeMeanReversion        SignalType = "mean_reversion"
	TypeValue                SignalType = "value"
	TypeSentiment            SignalType = "sentiment"
)

// Direction of a trade signal
type Direction string

const (
	Long    Direction = "long"
	Short   Direction = "short"
	Neutral Direction = "neutral"
)

// Outcome is one tradeable outcome of a market. Price is the implied
// probability; Liquidity is in dollars.
type Outcome struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Liquidity float64 `json:"liquidity"`
}

// Market is the market half of a SignalInput
type Market struct {
	ID       string    `json:"id"`
	Question string    `json:"question"`
	Category string    `json:"category"`
	Outcomes []Outcome `json:"outcomes"`
}

// SentimentSource is one weighted sentiment reading
type SentimentSource struct {
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
	Weight float64 `json:"weight"`
}

// Sentiment aggregates sentiment sources; Overall is within [-1, 1]
type Sentiment struct {
	Overall float64           `json:"overall"`
	Sources []SentimentSource `json:"sources"`
}

// ResearchOutput carries the research estimate for a market
type ResearchOutput struct {
	MarketID            string    `json:"market_id"`
	Analysis            string    `json:"analysis"`
	Sentiment           Sentiment `json:"sentiment"`
	Confidence          float64   `json:"confidence"`
	ProbabilityEstimate *float64  `json:"probability_estimate,omitempty"`
	KeyFactors          []string  `json:"key_factors"`
	DataPoints          int       `json:"data_points"`
	Timestamp           time.Time `json:"timestamp"`
}

// Level is a single order book price level
type Level struct {
	OutcomeID string          `json:"outcome_id"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
}

// OrderBookSnapshot holds bids (best first) and asks (best first)
type OrderBookSnapshot struct {
	MarketID  string    `json:"market_id"`
	Bids      []Level   `json:"bids"`
	Asks      []Level   `json:"asks"`
	Timestamp time.Time `json:"timestamp"`
}

// BestBidAsk returns the top of book; ok is false when either side is empty
func (ob *OrderBookSnapshot) BestBidAsk() (bid, ask decimal.Decimal, ok bool) {
	if ob == nil || len(ob.Bids) == 0 || len(ob.Asks) == 0 {
		return decimal.Zero, decimal.Zero, false
	}
	return ob.Bids[0].Price, ob.Asks[0].Price, true
}

// Mid returns the midpoint of the top of book
func (ob *OrderBookSnapshot) Mid() (decimal.Decimal, bool) {
	bid, ask, ok := ob.BestBidAsk()
	if !ok {
		return decimal.Zero, false
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), true
}

// PriceSnapshot is one observation in a market's price history
type PriceSnapshot struct {
	OutcomeID string          `json:"outcome_id"`
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
	Liquidity decimal.Decimal `json:"liquidity"`
	Timestamp time.Time       `json:"timestamp"`
}

// SignalInput is an immutable market + research snapshot. Nothing in this
// module mutates it.
type SignalInput struct {
	Market       Market             `json:"market"`
	Research     ResearchOutput     `json:"research"`
	OrderBook    *OrderBookSnapshot `json:"order_book,omitempty"`
	PriceHistory []PriceSnapshot    `json:"price_history"`
}

// Metadata is diagnostic context attached to a signal
type Metadata struct {
	ResearchSources []string       `json:"research_sources"`
	DataPoints      int            `json:"data_points"`
	LiquidityScore  float64        `json:"liquidity_score"`
	VolatilityScore float64        `json:"volatility_score"`
	CustomFields    map[string]any `json:"custom_fields,omitempty"`
}

// TradeSignal is a sized, priced trade recommendation
type TradeSignal struct {
	ID            string          `json:"id"`
	MarketID      string          `json:"market_id"`
	SignalType    SignalType      `json:"signal_type"`
	Direction     Direction       `json:"direction"`
	OutcomeID     string          `json:"outcome_id"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	TargetPrice   decimal.Decimal `json:"target_price"`
	StopLoss      decimal.Decimal `json:"stop_loss"`
	PositionSize  decimal.Decimal `json:"position_size"`
	Confidence    float64         `json:"confidence"`
	ExpectedValue decimal.Decimal `json:"expected_value"`
	Edge          decimal.Decimal `json:"edge"`
	KellyFraction float64         `json:"kelly_fraction"`
	Reasoning     string          `json:"reasoning"`
	Metadata      Metadata        `json:"metadata"`
	CreatedAt     time.Time       `json:"created_at"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
}

// PricesOrdered checks stop < entry < target for longs and the inverse for shorts
func (s *TradeSignal) PricesOrdered() bool {
	switch s.Direction {
	case Long:
		return s.StopLoss.LessThan(s.EntryPrice) && s.EntryPrice.LessThan(s.TargetPrice)
	case Short:
		return s.TargetPrice.LessThan(s.EntryPrice) && s.EntryPrice.LessThan(s.StopLoss)
	default:
		return true
	}
}

// IsExpired reports whether the signal's validity window has passed
func (s *TradeSignal) IsExpired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// RankScore is expected value times confidence, the pipeline's ranking key.
// Dollars times probability; see the open questions in DESIGN.md.
func (s *TradeSignal) RankScore() float64 {
	return s.ExpectedValue.InexactFloat64() * s.Confidence
}
