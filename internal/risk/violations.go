package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ViolationKind names a risk violation
type ViolationKind string

const (
	// Blocking trade rejections
	PositionSizeExceeded  ViolationKind = "PositionSizeExceeded"
	ExposureExceeded      ViolationKind = "ExposureExceeded"
	TooManyPositions      ViolationKind = "TooManyPositions"
	ThemeLimitExceeded    ViolationKind = "ThemeLimitExceeded"
	CircuitBreakerTripped ViolationKind = "CircuitBreakerTripped"

	// Advisory warnings attached to an approved evaluation
	KellyLimitExceeded  ViolationKind = "KellyLimitExceeded"
	CorrelationDetected ViolationKind = "CorrelationDetected"

	// Circuit breaker triggers
	DailyLossExceeded ViolationKind = "DailyLossExceeded"
	DrawdownExceeded  ViolationKind = "DrawdownExceeded"
	VaRExceeded       ViolationKind = "VaRExceeded"
)

// Violation is a typed risk finding. It implements error so a blocked trade
// can be returned directly to the caller.
type Violation struct {
	Kind          ViolationKind   `json:"kind"`
	MarketID      string          `json:"market_id,omitempty"`
	Theme         string          `json:"theme,omitempty"`
	Current       decimal.Decimal `json:"current"`
	Proposed      decimal.Decimal `json:"proposed"`
	Limit         decimal.Decimal `json:"limit"`
	Count         int             `json:"count,omitempty"`
	MaxCount      int             `json:"max_count,omitempty"`
	Ratio         float64         `json:"ratio,omitempty"`
	RatioLimit    float64         `json:"ratio_limit,omitempty"`
	RelatedMarket string          `json:"related_market,omitempty"`
	Correlation   float64         `json:"correlation,omitempty"`
	BreakerState  BreakerState    `json:"breaker_state,omitempty"`
	ResumeAt      *time.Time      `json:"resume_at,omitempty"`
}

func (v *Violation) Error() string {
	switch v.Kind {
	case PositionSizeExceeded:
		return fmt.Sprintf("position size $%s + $%s exceeds limit $%s",
			v.Current.StringFixed(2), v.Proposed.StringFixed(2), v.Limit.StringFixed(2))
	case ExposureExceeded:
		return fmt.Sprintf("total exposure $%s + $%s exceeds limit $%s",
			v.Current.StringFixed(2), v.Proposed.StringFixed(2), v.Limit.StringFixed(2))
	case TooManyPositions:
		return fmt.Sprintf("number of positions %d reached limit %d", v.Count, v.MaxCount)
	case ThemeLimitExceeded:
		if v.RatioLimit > 0 {
			return fmt.Sprintf("theme %q share %.2f%% exceeds limit %.2f%%", v.Theme, v.Ratio*100, v.RatioLimit*100)
		}
		if v.MaxCount > 0 {
			return fmt.Sprintf("theme %q positions %d reached limit %d", v.Theme, v.Count, v.MaxCount)
		}
		return fmt.Sprintf("theme %q exposure $%s + $%s exceeds limit $%s",
			v.Theme, v.Current.StringFixed(2), v.Proposed.StringFixed(2), v.Limit.StringFixed(2))
	case CircuitBreakerTripped:
		if v.ResumeAt != nil {
			return fmt.Sprintf("circuit breaker %s until %s", v.BreakerState, v.ResumeAt.UTC().Format(time.RFC3339))
		}
		return fmt.Sprintf("circuit breaker %s", v.BreakerState)
	case KellyLimitExceeded:
		return fmt.Sprintf("position $%s exceeds Kelly limit $%s", v.Proposed.StringFixed(2), v.Limit.StringFixed(2))
	case CorrelationDetected:
		return fmt.Sprintf("correlation %.2f between %s and %s", v.Correlation, v.MarketID, v.RelatedMarket)
	case DailyLossExceeded:
		return fmt.Sprintf("daily loss $%s reached limit $%s", v.Current.Abs().StringFixed(2), v.Limit.StringFixed(2))
	case DrawdownExceeded:
		return fmt.Sprintf("drawdown %.2f%% reached limit %.2f%%", v.Ratio*100, v.RatioLimit*100)
	case VaRExceeded:
		return fmt.Sprintf("VaR(95%%) $%s reached limit $%s", v.Current.StringFixed(2), v.Limit.StringFixed(2))
	default:
		return string(v.Kind)
	}
}

// Blocking reports whether the violation rejects a trade
func (v *Violation) Blocking() bool {
	switch v.Kind {
	case PositionSizeExceeded, ExposureExceeded, TooManyPositions, ThemeLimitExceeded, CircuitBreakerTripped:
		return true
	}
	return false
}
