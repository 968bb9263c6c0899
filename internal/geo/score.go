package geo

import "math"

// ScoringConfig parameterizes the distance-to-score curve.
type ScoringConfig struct {
	MaxPoints         int
	ZeroScoreDistance float64
	CurveExponent     float64
}

// DefaultScoringConfig matches the spec's reference constants.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		MaxPoints:         5000,
		ZeroScoreDistance: 20_000_000,
		CurveExponent:     2.0,
	}
}

// Score turns a distance in meters into a point value in [0, MaxPoints],
// monotonically non-increasing in distance.
func (c ScoringConfig) Score(distanceMeters float64) int {
	if distanceMeters <= 0 {
		return c.MaxPoints
	}
	if distanceMeters >= c.ZeroScoreDistance {
		return 0
	}
	ratio := distanceMeters / c.ZeroScoreDistance
	factor := 1 - math.Pow(ratio, c.CurveExponent)
	return int(math.Round(float64(c.MaxPoints) * factor))
}
