package model

import "math"

// Z95 is the normal quantile for a two-sided 95% interval.
const Z95 = 1.96

// Wilson returns the Wilson score interval for successes/total at 95%.
// An empty sample yields the uninformative interval (0, 1).
func Wilson(successes, total int) (lower, upper float64) {
	if total <= 0 {
		return 0, 1
	}
	n := float64(total)
	p := float64(successes) / n
	z2 := Z95 * Z95

	denom := 1 + z2/n
	center := (p + z2/(2*n)) / denom
	margin := Z95 * math.Sqrt((p*(1-p)+z2/(4*n))/n) / denom

	return math.Max(0, center-margin), math.Min(1, center+margin)
}

// BetaPosterior updates a Beta(alphaPrior, betaPrior) prior with observed counts.
func BetaPosterior(successes, failures int, alphaPrior, betaPrior float64) (alpha, beta float64) {
	return alphaPrior + float64(successes), betaPrior + float64(failures)
}

// BetaMean is the posterior mean of Beta(alpha, beta)
func BetaMean(alpha, beta float64) float64 {
	if alpha+beta == 0 {
		return 0.5
	}
	return alpha / (alpha + beta)
}
