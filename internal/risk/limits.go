package risk

import (
	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/prediction-core/internal/errs"
	"github.com/Rajchodisetti/prediction-core/internal/kelly"
)

// maxKellyFraction caps the advisory Kelly limit at a quarter of bankroll
const maxKellyFraction = 0.25

// ThemeLimit overrides the global theme limits for one category
type ThemeLimit struct {
	MaxExposure   decimal.Decimal `yaml:"max_exposure" json:"max_exposure"`
	MaxPositions  int             `yaml:"max_positions" json:"max_positions"`
	MaxPercentage float64         `yaml:"max_percentage" json:"max_percentage"`
}

// Limits are the per-trade and portfolio caps enforced by the Checker
type Limits struct {
	MaxPositionSize    decimal.Decimal       `yaml:"max_position_size" json:"max_position_size"`
	MaxTotalExposure   decimal.Decimal       `yaml:"max_total_exposure" json:"max_total_exposure"`
	MaxThemeExposure   decimal.Decimal       `yaml:"max_theme_exposure" json:"max_theme_exposure"`
	MaxPositions       int                   `yaml:"max_positions" json:"max_positions"`
	MaxThemePercentage float64               `yaml:"max_theme_percentage" json:"max_theme_percentage"` // of bankroll, 0..1
	DailyLossLimit     decimal.Decimal       `yaml:"daily_loss_limit" json:"daily_loss_limit"`
	StopLossPercentage float64               `yaml:"stop_loss_percentage" json:"stop_loss_percentage"` // 0..1
	Themes             map[string]ThemeLimit `yaml:"themes" json:"themes"`
}

// BreakerConfig drives the circuit breaker
type BreakerConfig struct {
	Enabled               bool            `yaml:"enabled" json:"enabled"`
	DailyLossLimit        decimal.Decimal `yaml:"daily_loss_limit" json:"daily_loss_limit"`
	MaxDrawdownPercentage float64         `yaml:"max_drawdown_percentage" json:"max_drawdown_percentage"`
	VaR95Limit            decimal.Decimal `yaml:"var_95_limit" json:"var_95_limit"`
	CooldownMinutes       int             `yaml:"cooldown_minutes" json:"cooldown_minutes"`
	MaxViolationsPerDay   int             `yaml:"max_violations_per_day" json:"max_violations_per_day"`
}

// MetricsConfig drives the metrics engine
type MetricsConfig struct {
	VaRSamples         int     `yaml:"var_samples" json:"var_samples"`
	VaRConfidence      float64 `yaml:"var_confidence" json:"var_confidence"`
	SharpeLookbackDays int     `yaml:"sharpe_lookback_days" json:"sharpe_lookback_days"`
	RiskFreeRate       float64 `yaml:"risk_free_rate" json:"risk_free_rate"` // annualized
}

// Config is the full risk manager configuration
type Config struct {
	Limits               Limits            `yaml:"limits" json:"limits"`
	CircuitBreaker       BreakerConfig     `yaml:"circuit_breaker" json:"circuit_breaker"`
	Metrics              MetricsConfig     `yaml:"metrics" json:"metrics"`
	KellyMultiplier      float64           `yaml:"kelly_multiplier" json:"kelly_multiplier"` // safety factor of fractional strategies
	KellyStrategy        kelly.Strategy    `yaml:"kelly_strategy" json:"kelly_strategy"`
	KellyEdge            float64           `yaml:"kelly_edge" json:"kelly_edge"`
	CorrelationThreshold float64           `yaml:"correlation_threshold" json:"correlation_threshold"`
	CorrelationWindow    int               `yaml:"correlation_window" json:"correlation_window"`
	Bankroll             decimal.Decimal   `yaml:"bankroll" json:"bankroll"`
	ThemeMap             map[string]string `yaml:"theme_map" json:"theme_map"` // market id -> theme
	StatePath            string            `yaml:"state_path" json:"state_path"`
	EventLogPath         string            `yaml:"event_log_path" json:"event_log_path"`
}

func usd(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// DefaultLimits returns conservative starting limits with politics, sports
// and crypto overrides
func DefaultLimits() Limits {
	return Limits{
		MaxPositionSize:    usd(100),
		MaxTotalExposure:   usd(1000),
		MaxThemeExposure:   usd(500),
		MaxPositions:       20,
		MaxThemePercentage: 0.30,
		DailyLossLimit:     usd(100),
		StopLossPercentage: 0.20,
		Themes: map[string]ThemeLimit{
			"politics": {MaxExposure: usd(500), MaxPositions: 5, MaxPercentage: 0.30},
			"sports":   {MaxExposure: usd(300), MaxPositions: 3, MaxPercentage: 0.20},
			"crypto":   {MaxExposure: usd(400), MaxPositions: 4, MaxPercentage: 0.25},
		},
	}
}

// DefaultBreakerConfig returns the default breaker thresholds
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:               true,
		DailyLossLimit:        usd(100),
		MaxDrawdownPercentage: 0.15,
		VaR95Limit:            usd(200),
		CooldownMinutes:       30,
		MaxViolationsPerDay:   3,
	}
}

// DefaultMetricsConfig returns the default metrics windows
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		VaRSamples:         100,
		VaRConfidence:      0.95,
		SharpeLookbackDays: 30,
		RiskFreeRate:       0.05,
	}
}

// DefaultConfig returns a quarter-Kelly configuration over a $1000 bankroll
func DefaultConfig() Config {
	return Config{
		Limits:               DefaultLimits(),
		CircuitBreaker:       DefaultBreakerConfig(),
		Metrics:              DefaultMetricsConfig(),
		KellyMultiplier:      0.25,
		KellyStrategy:        kelly.StrategyVolatilityAdjusted,
		KellyEdge:            0.05,
		CorrelationThreshold: 0.7,
		CorrelationWindow:    100,
		Bankroll:             usd(1000),
		ThemeMap:             map[string]string{},
	}
}

func invalid(op, format string, args ...any) error {
	return errs.Newf(errs.CategoryConfiguration, "risk", op, format, args...)
}

// Validate fails fast on negative or inverted limits
func (l Limits) Validate() error {
	if !l.MaxPositionSize.IsPositive() {
		return invalid("limits", "max_position_size must be positive, got %s", l.MaxPositionSize)
	}
	if !l.MaxTotalExposure.IsPositive() {
		return invalid("limits", "max_total_exposure must be positive, got %s", l.MaxTotalExposure)
	}
	if l.MaxPositionSize.GreaterThan(l.MaxTotalExposure) {
		return invalid("limits", "max_position_size %s exceeds max_total_exposure %s", l.MaxPositionSize, l.MaxTotalExposure)
	}
	if !l.MaxThemeExposure.IsPositive() {
		return invalid("limits", "max_theme_exposure must be positive, got %s", l.MaxThemeExposure)
	}
	if l.MaxPositions <= 0 {
		return invalid("limits", "max_positions must be positive, got %d", l.MaxPositions)
	}
	if l.MaxThemePercentage <= 0 || l.MaxThemePercentage > 1 {
		return invalid("limits", "max_theme_percentage must be in (0, 1], got %v", l.MaxThemePercentage)
	}
	if l.DailyLossLimit.IsNegative() {
		return invalid("limits", "daily_loss_limit must not be negative, got %s", l.DailyLossLimit)
	}
	if l.StopLossPercentage < 0 || l.StopLossPercentage > 1 {
		return invalid("limits", "stop_loss_percentage must be in [0, 1], got %v", l.StopLossPercentage)
	}
	for theme, t := range l.Themes {
		if !t.MaxExposure.IsPositive() {
			return invalid("limits", "theme %q max_exposure must be positive, got %s", theme, t.MaxExposure)
		}
		if t.MaxPositions < 0 {
			return invalid("limits", "theme %q max_positions must not be negative, got %d", theme, t.MaxPositions)
		}
		if t.MaxPercentage <= 0 || t.MaxPercentage > 1 {
			return invalid("limits", "theme %q max_percentage must be in (0, 1], got %v", theme, t.MaxPercentage)
		}
	}
	return nil
}

// Validate checks breaker thresholds
func (c BreakerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if !c.DailyLossLimit.IsPositive() {
		return invalid("circuit_breaker", "daily_loss_limit must be positive, got %s", c.DailyLossLimit)
	}
	if c.MaxDrawdownPercentage <= 0 || c.MaxDrawdownPercentage > 1 {
		return invalid("circuit_breaker", "max_drawdown_percentage must be in (0, 1], got %v", c.MaxDrawdownPercentage)
	}
	if !c.VaR95Limit.IsPositive() {
		return invalid("circuit_breaker", "var_95_limit must be positive, got %s", c.VaR95Limit)
	}
	if c.CooldownMinutes < 0 {
		return invalid("circuit_breaker", "cooldown_minutes must not be negative, got %d", c.CooldownMinutes)
	}
	if c.MaxViolationsPerDay < 1 {
		return invalid("circuit_breaker", "max_violations_per_day must be at least 1, got %d", c.MaxViolationsPerDay)
	}
	return nil
}

// Validate checks metric windows
func (c MetricsConfig) Validate() error {
	if c.VaRSamples < MinVaRSamples {
		return invalid("metrics", "var_samples must be at least %d, got %d", MinVaRSamples, c.VaRSamples)
	}
	if c.VaRConfidence <= 0 || c.VaRConfidence >= 1 {
		return invalid("metrics", "var_confidence must be in (0, 1), got %v", c.VaRConfidence)
	}
	if c.SharpeLookbackDays < 2 {
		return invalid("metrics", "sharpe_lookback_days must be at least 2, got %d", c.SharpeLookbackDays)
	}
	return nil
}

// Validate checks the whole tree
func (c Config) Validate() error {
	if err := c.Limits.Validate(); err != nil {
		return err
	}
	if err := c.CircuitBreaker.Validate(); err != nil {
		return err
	}
	if err := c.Metrics.Validate(); err != nil {
		return err
	}
	if c.KellyMultiplier <= 0 || c.KellyMultiplier > 1 {
		return invalid("config", "kelly_multiplier must be in (0, 1], got %v", c.KellyMultiplier)
	}
	if err := c.Sizing().Validate(); err != nil {
		return invalid("config", "kelly sizing: %v", err)
	}
	if c.KellyEdge < 0 || c.KellyEdge >= 1 {
		return invalid("config", "kelly_edge must be in [0, 1), got %v", c.KellyEdge)
	}
	if c.CorrelationThreshold <= 0 || c.CorrelationThreshold > 1 {
		return invalid("config", "correlation_threshold must be in (0, 1], got %v", c.CorrelationThreshold)
	}
	if c.CorrelationWindow < 2 {
		return invalid("config", "correlation_window must be at least 2, got %d", c.CorrelationWindow)
	}
	if !c.Bankroll.IsPositive() {
		return invalid("config", "bankroll must be positive, got %s", c.Bankroll)
	}
	return nil
}

// themeLimits resolves the effective limits for a theme
func (l Limits) themeLimits(theme string) (maxExposure decimal.Decimal, maxPositions int, maxPct float64) {
	if t, ok := l.Themes[theme]; ok {
		return t.MaxExposure, t.MaxPositions, t.MaxPercentage
	}
	return l.MaxThemeExposure, 0, l.MaxThemePercentage
}

// Sizing is the calculator behind the advisory Kelly limit. KellyMultiplier
// is its safety factor and the result never exceeds a quarter of bankroll.
func (c Config) Sizing() kelly.Calculator {
	calc := kelly.DefaultCalculator()
	calc.MaxFraction = maxKellyFraction
	calc.MinFraction = 0
	calc.SafetyFactor = c.KellyMultiplier
	calc.Strategy = c.KellyStrategy
	if calc.Strategy == "" {
		calc.Strategy = kelly.StrategyVolatilityAdjusted
	}
	return calc
}
