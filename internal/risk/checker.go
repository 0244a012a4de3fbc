package risk

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/prediction-core/internal/observ"
	"github.com/Rajchodisetti/prediction-core/internal/portfolio"
)

// Side of a trade
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// ParseSide accepts buy/sell in any case
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}

// Book is the read-only ledger view the checker needs
type Book interface {
	TotalValue() decimal.Decimal
	NumPositions() int
	HasPosition(marketID, outcomeID string) bool
	Position(marketID, outcomeID string) (portfolio.Position, bool)
	Category(marketID string) string
	ExposureByCategory() map[string]decimal.Decimal
	CategoryPositions(category string) int
}

// Checker gates proposed trades against limits and breaker state. It never
// mutates the book.
type Checker struct {
	limits   Limits
	bankroll decimal.Decimal
}

// NewChecker creates a checker; theme percentages are measured against bankroll
func NewChecker(limits Limits, bankroll decimal.Decimal) *Checker {
	return &Checker{limits: limits, bankroll: bankroll}
}

// Limits returns the configured limits
func (c *Checker) Limits() Limits { return c.limits }

// CheckTrade returns the first violated limit, or nil. Buys are checked in
// order: position size, total exposure, position count, theme exposure,
// circuit breaker. Sells reduce risk and only face the breaker.
func (c *Checker) CheckTrade(marketID, outcomeID string, side Side, value decimal.Decimal, book Book, breaker BreakerStatus) *Violation {
	v := c.check(marketID, outcomeID, side, value, book, breaker)
	if v != nil {
		observ.IncCounter("risk_violations_total", map[string]string{"kind": string(v.Kind)})
	}
	return v
}

func (c *Checker) check(marketID, outcomeID string, side Side, value decimal.Decimal, book Book, breaker BreakerStatus) *Violation {
	if side == Sell {
		return breakerViolation(breaker)
	}

	current := decimal.Zero
	if p, ok := book.Position(marketID, outcomeID); ok {
		current = p.Investment
	}
	if current.Add(value).GreaterThan(c.limits.MaxPositionSize) {
		return &Violation{
			Kind:     PositionSizeExceeded,
			MarketID: marketID,
			Current:  current,
			Proposed: value,
			Limit:    c.limits.MaxPositionSize,
		}
	}

	total := book.TotalValue()
	if total.Add(value).GreaterThan(c.limits.MaxTotalExposure) {
		return &Violation{
			Kind:     ExposureExceeded,
			MarketID: marketID,
			Current:  total,
			Proposed: value,
			Limit:    c.limits.MaxTotalExposure,
		}
	}

	isNew := !book.HasPosition(marketID, outcomeID)
	if isNew && book.NumPositions() >= c.limits.MaxPositions {
		return &Violation{
			Kind:     TooManyPositions,
			MarketID: marketID,
			Count:    book.NumPositions(),
			MaxCount: c.limits.MaxPositions,
		}
	}

	if v := c.checkTheme(marketID, isNew, value, book); v != nil {
		return v
	}
	return breakerViolation(breaker)
}

func (c *Checker) checkTheme(marketID string, isNew bool, value decimal.Decimal, book Book) *Violation {
	theme := book.Category(marketID)
	maxExposure, maxPositions, maxPct := c.limits.themeLimits(theme)
	themeCurrent := book.ExposureByCategory()[theme]
	after := themeCurrent.Add(value)

	if after.GreaterThan(maxExposure) {
		return &Violation{
			Kind:     ThemeLimitExceeded,
			MarketID: marketID,
			Theme:    theme,
			Current:  themeCurrent,
			Proposed: value,
			Limit:    maxExposure,
		}
	}
	if maxPositions > 0 && isNew {
		if n := book.CategoryPositions(theme); n >= maxPositions {
			return &Violation{
				Kind:     ThemeLimitExceeded,
				MarketID: marketID,
				Theme:    theme,
				Count:    n,
				MaxCount: maxPositions,
			}
		}
	}
	if c.bankroll.IsPositive() {
		share := after.Div(c.bankroll).InexactFloat64()
		if share > maxPct {
			return &Violation{
				Kind:       ThemeLimitExceeded,
				MarketID:   marketID,
				Theme:      theme,
				Current:    themeCurrent,
				Proposed:   value,
				Limit:      c.bankroll.Mul(decimal.NewFromFloat(maxPct)),
				Ratio:      share,
				RatioLimit: maxPct,
			}
		}
	}
	return nil
}

func breakerViolation(s BreakerStatus) *Violation {
	if !s.Blocking() {
		return nil
	}
	return &Violation{
		Kind:         CircuitBreakerTripped,
		BreakerState: s.State,
		ResumeAt:     s.ResumeAt,
		Count:        s.ViolationsToday,
		MaxCount:     s.MaxViolations,
	}
}
