package stats

import "math"

// WilsonInterval calculates the Wilson score confidence interval for a
// binomial proportion. More accurate for small samples than the normal
// approximation.
func WilsonInterval(successes, trials int64, confidence float64) (lower, upper float64) {
	if trials == 0 {
		return 0, 0
	}

	z := zScore(confidence)
	p := float64(successes) / float64(trials)
	n := float64(trials)

	denominator := 1 + z*z/n
	center := (p + z*z/(2*n)) / denominator
	spread := (z / denominator) * math.Sqrt(p*(1-p)/n+z*z/(4*n*n))

	lower = math.Max(center-spread, 0)
	upper = math.Min(center+spread, 1)
	return lower, upper
}

// zScore returns the two-sided z-score for the common confidence levels
// the engine is configured with.
func zScore(confidence float64) float64 {
	switch {
	case confidence >= 0.99:
		return 2.576
	case confidence >= 0.95:
		return 1.96
	case confidence >= 0.90:
		return 1.645
	case confidence >= 0.85:
		return 1.44
	case confidence >= 0.80:
		return 1.28
	default:
		return 1.96
	}
}
