package expect

import (
	"math"

	"github.com/pcdslab/gicops/internal/scoring"
)

// GumbelFit is the alternate estimator selected by the gumbelfit option. It
// fits a Gumbel extreme-value distribution to the histogram by the method of
// moments and evaluates its upper tail at the top hyperscore.
type GumbelFit struct {
	MinCPSM int
}

// NewGumbelFit creates the alternate estimator.
func NewGumbelFit(minCPSM int) *GumbelFit {
	return &GumbelFit{MinCPSM: minCPSM}
}

const eulerMascheroni = 0.5772156649015329

// EValue computes e = N * P(X >= hyp) under the fitted Gumbel distribution.
func (g *GumbelFit) EValue(res *scoring.Results) float64 {
	if res.CPSMs < g.MinCPSM {
		return scoring.MaxHyperscore
	}

	var n, sum, sumsq float64
	for j, c := range res.Survival {
		if c == 0 {
			continue
		}
		x := float64(j)
		fc := float64(c)
		n += fc
		sum += x * fc
		sumsq += x * x * fc
	}
	if n < 2 {
		return scoring.MaxHyperscore
	}
	mean := sum / n
	variance := sumsq/n - mean*mean
	if variance <= 0 {
		return scoring.MaxHyperscore
	}

	betaScale := math.Sqrt(6*variance) / math.Pi
	mode := mean - eulerMascheroni*betaScale

	z := (float64(res.MaxHypScore) - mode) / betaScale
	survivor := 1 - math.Exp(-math.Exp(-z))
	return float64(res.CPSMs) * survivor
}
