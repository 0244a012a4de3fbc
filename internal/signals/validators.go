package signals

import (
	"errors"
	"fmt"

	"github.com/Rajchodisetti/prediction-core/internal/errs"
)

// LiquidityCapacityUSD converts a unitless liquidity score into a dollar
// capacity: capacity = max_position_liquidity_ratio * score * LiquidityCapacityUSD.
// Matches LiquidityNormalizationUSD so a score of 1.0 means $10k of depth.
const LiquidityCapacityUSD = 10000.0

// ValidationResult is the outcome of one validator
type ValidationResult struct {
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
}

func pass() ValidationResult { return ValidationResult{Passed: true} }

func fail(format string, args ...any) ValidationResult {
	return ValidationResult{Reason: fmt.Sprintf(format, args...)}
}

// Validator is a stateless predicate over a candidate signal and its input
type Validator interface {
	Name() string
	Validate(signal *TradeSignal, input *SignalInput) ValidationResult
}

// ValidatorConfig holds every validator threshold
type ValidatorConfig struct {
	MinEdge                   float64 `yaml:"min_edge" json:"min_edge"`
	MinConfidence             float64 `yaml:"min_confidence" json:"min_confidence"`
	ReferenceEdge             float64 `yaml:"reference_edge" json:"reference_edge"`
	MinLiquidityScore         float64 `yaml:"min_liquidity_score" json:"min_liquidity_score"`
	MaxPositionLiquidityRatio float64 `yaml:"max_position_liquidity_ratio" json:"max_position_liquidity_ratio"`
	MinExpectedValue          float64 `yaml:"min_expected_value" json:"min_expected_value"`
}

// DefaultValidatorConfig returns the production thresholds
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MinEdge:                   0.05,
		MinConfidence:             0.7,
		ReferenceEdge:             0.05,
		MinLiquidityScore:         0.3,
		MaxPositionLiquidityRatio: 0.1,
		MinExpectedValue:          5,
	}
}

// Validate checks ranges
func (c ValidatorConfig) Validate() error {
	switch {
	case c.MinEdge < 0 || c.MinEdge >= 1:
		return fmt.Errorf("min_edge must be within [0, 1), got %v", c.MinEdge)
	case c.MinConfidence < 0 || c.MinConfidence > 1:
		return fmt.Errorf("min_confidence must be within [0, 1], got %v", c.MinConfidence)
	case c.ReferenceEdge <= 0:
		return fmt.Errorf("reference_edge must be positive, got %v", c.ReferenceEdge)
	case c.MinLiquidityScore < 0 || c.MinLiquidityScore > 1:
		return fmt.Errorf("min_liquidity_score must be within [0, 1], got %v", c.MinLiquidityScore)
	case c.MaxPositionLiquidityRatio <= 0:
		return fmt.Errorf("max_position_liquidity_ratio must be positive, got %v", c.MaxPositionLiquidityRatio)
	case c.MinExpectedValue < 0:
		return fmt.Errorf("min_expected_value must not be negative, got %v", c.MinExpectedValue)
	}
	return nil
}

// EdgeValidator requires signal.Edge >= MinEdge (inclusive)
type EdgeValidator struct{ MinEdge float64 }

func (v EdgeValidator) Name() string { return "edge" }

func (v EdgeValidator) Validate(s *TradeSignal, _ *SignalInput) ValidationResult {
	if s.Edge.LessThan(dec(v.MinEdge)) {
		return fail("edge %s below minimum %v", s.Edge.StringFixed(4), v.MinEdge)
	}
	return pass()
}

// ConfidenceValidator recomputes the combined confidence from the signal's
// edge, the research confidence and the signal's liquidity score
type ConfidenceValidator struct {
	MinConfidence float64
	ReferenceEdge float64
}

func (v ConfidenceValidator) Name() string { return "confidence" }

func (v ConfidenceValidator) Validate(s *TradeSignal, input *SignalInput) ValidationResult {
	research := 0.0
	if input != nil {
		research = input.Research.Confidence
	}
	score := CombinedConfidence(s.Edge.InexactFloat64(), v.ReferenceEdge, research, s.Metadata.LiquidityScore)
	if score < v.MinConfidence {
		return fail("combined confidence %.4f below minimum %v", score, v.MinConfidence)
	}
	return pass()
}

// LiquidityValidator requires a minimum liquidity score and caps the
// position size at the score-derived dollar capacity
type LiquidityValidator struct {
	MinLiquidityScore         float64
	MaxPositionLiquidityRatio float64
}

func (v LiquidityValidator) Name() string { return "liquidity" }

// Capacity is the largest position size allowed for a liquidity score
func (v LiquidityValidator) Capacity(score float64) float64 {
	return v.MaxPositionLiquidityRatio * score * LiquidityCapacityUSD
}

func (v LiquidityValidator) Validate(s *TradeSignal, _ *SignalInput) ValidationResult {
	score := s.Metadata.LiquidityScore
	if score < v.MinLiquidityScore {
		return fail("liquidity score %.4f below minimum %v", score, v.MinLiquidityScore)
	}
	capacity := v.Capacity(score)
	if s.PositionSize.GreaterThan(dec(capacity)) {
		return fail("position size %s exceeds liquidity capacity %.2f", s.PositionSize.StringFixed(2), capacity)
	}
	return pass()
}

// ExpectedValueValidator requires a positive EV of at least MinExpectedValue
type ExpectedValueValidator struct{ MinExpectedValue float64 }

func (v ExpectedValueValidator) Name() string { return "expected_value" }

func (v ExpectedValueValidator) Validate(s *TradeSignal, _ *SignalInput) ValidationResult {
	if !s.ExpectedValue.IsPositive() {
		return fail("expected value %s is not positive", s.ExpectedValue.StringFixed(4))
	}
	if s.ExpectedValue.LessThan(dec(v.MinExpectedValue)) {
		return fail("expected value %s below minimum %v", s.ExpectedValue.StringFixed(4), v.MinExpectedValue)
	}
	return pass()
}

// Composite runs validators in order; all must pass
type Composite struct {
	validators []Validator
}

// NewComposite creates a composite over the given validators
func NewComposite(validators ...Validator) *Composite {
	return &Composite{validators: validators}
}

// DefaultValidators builds the four standard validators from cfg
func DefaultValidators(cfg ValidatorConfig) *Composite {
	return NewComposite(
		EdgeValidator{MinEdge: cfg.MinEdge},
		ConfidenceValidator{MinConfidence: cfg.MinConfidence, ReferenceEdge: cfg.ReferenceEdge},
		LiquidityValidator{MinLiquidityScore: cfg.MinLiquidityScore, MaxPositionLiquidityRatio: cfg.MaxPositionLiquidityRatio},
		ExpectedValueValidator{MinExpectedValue: cfg.MinExpectedValue},
	)
}

// Validators returns the configured validators in order
func (c *Composite) Validators() []Validator {
	out := make([]Validator, len(c.validators))
	copy(out, c.validators)
	return out
}

// Validate returns nil when every validator passes, otherwise a
// VALIDATION_REJECTED error naming the first failing validator
func (c *Composite) Validate(s *TradeSignal, input *SignalInput) error {
	for _, v := range c.validators {
		res := v.Validate(s, input)
		if res.Passed {
			continue
		}
		return errs.New(errs.CategoryValidationRejected, "validator", v.Name(), res.Reason).
			WithContext("validator", v.Name()).
			WithContext("signal_id", s.ID).
			WithContext("signal_type", string(s.SignalType))
	}
	return nil
}

// RejectingValidator returns the name of the validator that rejected err, if any
func RejectingValidator(err error) string {
	if !errs.IsCategory(err, errs.CategoryValidationRejected) {
		return ""
	}
	var e *errs.Error
	if errors.As(err, &e) {
		if name, ok := e.Context["validator"].(string); ok {
			return name
		}
	}
	return ""
}
