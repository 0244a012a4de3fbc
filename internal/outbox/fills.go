package outbox

import (
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/prediction-core/internal/risk"
)

// FillSimulator produces paper fills with random latency and adverse slippage
type FillSimulator struct {
	latencyMsMin   int
	latencyMsMax   int
	slippageBpsMin int
	slippageBpsMax int
	rng            *rand.Rand
}

func NewFillSimulator(latencyMsMin, latencyMsMax, slippageBpsMin, slippageBpsMax int, seed int64) *FillSimulator {
	if latencyMsMax < latencyMsMin {
		latencyMsMax = latencyMsMin
	}
	if slippageBpsMax < slippageBpsMin {
		slippageBpsMax = slippageBpsMin
	}
	return &FillSimulator{
		latencyMsMin:   latencyMsMin,
		latencyMsMax:   latencyMsMax,
		slippageBpsMin: slippageBpsMin,
		slippageBpsMax: slippageBpsMax,
		rng:            rand.New(rand.NewSource(seed)),
	}
}

// SimulateFill fills the order's whole notional at the limit price moved
// against us by the slippage, clamped inside (0, 1)
func (fs *FillSimulator) SimulateFill(order Order) (Fill, time.Duration) {
	latencyMs := fs.latencyMsMin + fs.rng.Intn(fs.latencyMsMax-fs.latencyMsMin+1)
	slippageBps := fs.slippageBpsMin + fs.rng.Intn(fs.slippageBpsMax-fs.slippageBpsMin+1)

	slip := decimal.NewFromInt(int64(slippageBps)).Div(decimal.NewFromInt(10000))
	price := order.LimitPrice
	if order.Side == risk.Buy {
		price = price.Mul(decimal.NewFromInt(1).Add(slip))
	} else {
		price = price.Mul(decimal.NewFromInt(1).Sub(slip))
	}
	price = clampPrice(price.Round(4))

	shares := decimal.Zero
	if price.IsPositive() {
		shares = order.Notional.Div(price).Round(4)
	}
	latency := time.Duration(latencyMs) * time.Millisecond
	fill := Fill{
		OrderID:     order.ID,
		SignalID:    order.SignalID,
		MarketID:    order.MarketID,
		OutcomeID:   order.OutcomeID,
		SignalType:  order.SignalType,
		Side:        order.Side,
		Price:       price,
		Shares:      shares,
		Timestamp:   order.Timestamp.Add(latency),
		LatencyMs:   latencyMs,
		SlippageBps: slippageBps,
	}
	return fill, latency
}

var (
	minPrice = decimal.RequireFromString("0.0001")
	maxPrice = decimal.RequireFromString("0.9999")
)

func clampPrice(p decimal.Decimal) decimal.Decimal {
	if p.LessThan(minPrice) {
		return minPrice
	}
	if p.GreaterThan(maxPrice) {
		return maxPrice
	}
	return p
}
