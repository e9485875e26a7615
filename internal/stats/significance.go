package stats

import "math"

// Confidence performs a pooled two-proportion z-test and returns the
// one-sided confidence (0-1) that A's true rate exceeds B's. Equal to
// 1-p for the one-sided p-value against "the rates are equal".
func Confidence(aSuccesses, aTrials, bSuccesses, bTrials int64) float64 {
	if aTrials == 0 || bTrials == 0 {
		return 0.5 // need data from both sides to say anything
	}

	pA := float64(aSuccesses) / float64(aTrials)
	pB := float64(bSuccesses) / float64(bTrials)

	// Pooled proportion under the null hypothesis (pA = pB)
	pooled := float64(aSuccesses+bSuccesses) / float64(aTrials+bTrials)

	// Standard error of the difference
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(aTrials) + 1/float64(bTrials)))

	if se == 0 {
		// Both rates pinned at 0 or 1; direction decides
		if pA > pB {
			return 1.0
		} else if pA < pB {
			return 0.0
		}
		return 0.5
	}

	z := (pA - pB) / se

	// P(Z < z) is the confidence that A > B
	return normalCDF(z)
}

// normalCDF approximates the cumulative distribution function
// of the standard normal distribution
func normalCDF(x float64) float64 {
	// Abramowitz and Stegun, Handbook of Mathematical Functions,
	// formula 7.1.26
	a1 := 0.254829592
	a2 := -0.284496736
	a3 := 1.421413741
	a4 := -1.453152027
	a5 := 1.061405429
	p := 0.3275911

	sign := 1.0
	if x < 0 {
		sign = -1.0
	}
	x = math.Abs(x) / math.Sqrt(2)

	t := 1.0 / (1.0 + p*x)
	y := 1.0 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)

	return 0.5 * (1.0 + sign*y)
}
