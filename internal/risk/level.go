package risk

import "math"

// Level is a coarse portfolio risk assessment
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// LevelFromScore buckets a 0..1 score
func LevelFromScore(score float64) Level {
	switch {
	case score >= 0.9:
		return LevelCritical
	case score >= 0.7:
		return LevelHigh
	case score >= 0.4:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Score weighs exposure, drawdown and position-count utilization 0.4/0.4/0.2,
// capped at 1
func Score(exposureRatio, drawdownRatio, positionRatio float64) float64 {
	s := 0.4*exposureRatio + 0.4*drawdownRatio + 0.2*positionRatio
	if math.IsNaN(s) || s < 0 {
		return 0
	}
	return math.Min(s, 1)
}
