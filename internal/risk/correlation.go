package risk

import (
	"math"
	"sort"
	"strings"
)

// volatilityNormalization is the price standard deviation that scores 1.0
const volatilityNormalization = 0.05

// referenceOutcome is the outcome a market's series follows once it is seen
const referenceOutcome = "yes"

// CorrelationMonitor keeps a rolling price window per market and computes
// pairwise Pearson correlation on demand. Each market's series follows a
// single reference outcome: "yes" when the market has one, otherwise the
// first outcome observed. Not safe for concurrent use; the manager
// serializes access.
type CorrelationMonitor struct {
	threshold float64
	window    int
	history   map[string][]float64
	reference map[string]string
}

// NewCorrelationMonitor creates a monitor flagging |corr| >= threshold
func NewCorrelationMonitor(threshold float64, window int) *CorrelationMonitor {
	if window < 2 {
		window = 2
	}
	return &CorrelationMonitor{
		threshold: threshold,
		window:    window,
		history:   make(map[string][]float64),
		reference: make(map[string]string),
	}
}

// Update appends a price observation for an outcome of a market.
// Observations of any other outcome than the market's reference are ignored.
// A "yes" observation on a market tracking another outcome restarts the
// series on "yes".
func (c *CorrelationMonitor) Update(marketID, outcomeID string, price float64) {
	ref, ok := c.reference[marketID]
	switch {
	case !ok:
		c.reference[marketID] = outcomeID
	case ref == outcomeID:
	case strings.EqualFold(outcomeID, referenceOutcome) && !strings.EqualFold(ref, referenceOutcome):
		c.reference[marketID] = outcomeID
		c.history[marketID] = nil
	default:
		return
	}
	h := append(c.history[marketID], price)
	if len(h) > c.window {
		h = append([]float64(nil), h[len(h)-c.window:]...)
	}
	c.history[marketID] = h
}

// Observations returns how many prices are held for a market
func (c *CorrelationMonitor) Observations(marketID string) int { return len(c.history[marketID]) }

// Reference returns the outcome a market's series follows
func (c *CorrelationMonitor) Reference(marketID string) (string, bool) {
	ref, ok := c.reference[marketID]
	return ref, ok
}

// Volatility scores the standard deviation of a market's held prices
// against volatilityNormalization, clamped to [0, 1]. It is 0.5 with fewer
// than two observations.
func (c *CorrelationMonitor) Volatility(marketID string) float64 {
	h := c.history[marketID]
	if len(h) < 2 {
		return 0.5
	}
	var mean float64
	for _, p := range h {
		mean += p
	}
	mean /= float64(len(h))
	var variance float64
	for _, p := range h {
		variance += (p - mean) * (p - mean)
	}
	std := math.Sqrt(variance / float64(len(h)-1))
	return math.Min(std/volatilityNormalization, 1)
}

// Correlation is Pearson correlation over the most recent observations the
// two markets have in common. ok is false with fewer than two points or a
// flat series.
func (c *CorrelationMonitor) Correlation(a, b string) (float64, bool) {
	xa, xb := c.history[a], c.history[b]
	n := len(xa)
	if len(xb) < n {
		n = len(xb)
	}
	if n < 2 {
		return 0, false
	}
	xa, xb = xa[len(xa)-n:], xb[len(xb)-n:]

	var meanA, meanB float64
	for i := 0; i < n; i++ {
		meanA += xa[i]
		meanB += xb[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := xa[i]-meanA, xb[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	denom := math.Sqrt(varA * varB)
	if denom == 0 {
		return 0, false
	}
	return cov / denom, true
}

// Check flags every held market whose correlation with marketID meets the
// threshold
func (c *CorrelationMonitor) Check(marketID string, held []string) []*Violation {
	var out []*Violation
	for _, other := range held {
		if other == marketID {
			continue
		}
		if corr, ok := c.Correlation(marketID, other); ok && math.Abs(corr) >= c.threshold {
			out = append(out, &Violation{
				Kind:          CorrelationDetected,
				MarketID:      marketID,
				RelatedMarket: other,
				Correlation:   corr,
				RatioLimit:    c.threshold,
			})
		}
	}
	return out
}

// CheckAll flags every correlated pair among the tracked markets
func (c *CorrelationMonitor) CheckAll() []*Violation {
	ids := make([]string, 0, len(c.history))
	for id := range c.history {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []*Violation
	for i := range ids {
		out = append(out, c.Check(ids[i], ids[i+1:])...)
	}
	return out
}
