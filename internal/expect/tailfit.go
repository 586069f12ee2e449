// Package expect models the tail of the per-spectrum hyperscore distribution
// to estimate the expected number of random PSMs scoring at least as well as
// the top hit.
package expect

import (
	"math"

	"github.com/pcdslab/gicops/internal/scoring"
)

// Estimator turns a spectrum's survival histogram into an e-value for its
// top hit. res.MaxHypScore must hold the scaled top hyperscore.
type Estimator interface {
	EValue(res *scoring.Results) float64
}

// TailFit is the default estimator: an ordinary-least-squares fit of the
// log-survival function over the 22-87% descent plateau, extrapolated to the
// top hyperscore bucket.
type TailFit struct {
	MinCPSM int
}

// NewTailFit creates the default estimator.
func NewTailFit(minCPSM int) *TailFit {
	return &TailFit{MinCPSM: minCPSM}
}

// EValue computes e = N * 10^(mu*hyp + beta). Spectra with fewer than
// MinCPSM candidates get the MaxHyperscore ceiling sentinel.
func (t *TailFit) EValue(res *scoring.Results) float64 {
	if res.CPSMs < t.MinCPSM {
		return scoring.MaxHyperscore
	}
	mu, beta := FitSurvival(res.Survival, res.CPSMs, res.MaxHypScore)
	lgs := mu*float64(res.MaxHypScore) + beta
	return float64(res.CPSMs) * math.Pow(10, lgs)
}

// FitSurvival fits the log10 survival function of the histogram below hyp
// and returns the regression slope and intercept.
func FitSurvival(survival []uint32, n int, hyp int) (mu, beta float64) {
	if hyp > len(survival) {
		hyp = len(survival)
	}

	// Locate the occupied window strictly below the top bucket.
	end := 0
	for j := hyp - 1; j >= 0; j-- {
		if survival[j] >= 1 {
			end = j
			break
		}
	}
	stt := end
	for j := 0; j <= end; j++ {
		if survival[j] >= 1 {
			stt = j
			break
		}
	}
	if stt == end {
		// Artificially widen a single-bucket window.
		end++
		if end >= len(survival) {
			end = len(survival) - 1
			stt = end - 1
		}
	}

	// Convert counts to the log10 survival function 1 - cdf.
	l := end - stt + 1
	sx := make([]float64, l)
	cum := uint64(0)
	for j := 0; j < l; j++ {
		cum += uint64(survival[stt+j])
		sx[j] = 1 - float64(cum)/float64(n)
	}
	for j := 0; j < l; j++ {
		if sx[j] > 1 {
			sx[j] = 0.999
		}
	}
	// Zeros and negatives take the rightmost value still >= 1e-4 so the
	// logarithm stays finite.
	rightmost := 1e-4
	for j := 0; j < l; j++ {
		if sx[j] >= 1e-4 {
			rightmost = sx[j]
		}
	}
	for j := 0; j < l; j++ {
		if sx[j] <= 0 {
			sx[j] = rightmost
		}
		sx[j] = math.Log10(sx[j])
	}

	// The 22-87% descent markers bound the regression window.
	hgt := sx[l-1] - sx[0]
	mark := 0
	for j := 0; j < l; j++ {
		if sx[j] <= sx[0]+0.22*hgt {
			mark = j - 1
			break
		}
	}
	mark2 := 0
	for j := l - 1; j >= 0; j-- {
		if sx[j] >= sx[0]+0.87*hgt {
			mark2 = j
			break
		}
	}
	if mark2 > l-1 {
		mark2 = l - 1
	}
	if mark >= mark2 {
		mark = mark2 - 1
	}
	if l == 3 {
		mark2 = l - 1
	}
	if l < 3 {
		mark = 0
		mark2 = l - 1
	}
	if mark < 0 {
		mark = 0
	}

	xs := make([]float64, 0, mark2-mark+1)
	ys := make([]float64, 0, mark2-mark+1)
	for j := mark; j <= mark2; j++ {
		xs = append(xs, float64(stt+j))
		ys = append(ys, sx[j])
	}
	return linearFit(xs, ys)
}

// linearFit returns the OLS slope and intercept of y on x. A single point
// yields slope 0 and intercept y[0].
func linearFit(xs, ys []float64) (mu, beta float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	if len(xs) == 1 {
		return 0, ys[0]
	}
	n := float64(len(xs))
	var sumX, sumY, sumXY, sumXX float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}
	den := n*sumXX - sumX*sumX
	if den == 0 {
		return 0, sumY / n
	}
	mu = (n*sumXY - sumX*sumY) / den
	beta = (sumY - mu*sumX) / n
	return mu, beta
}

// Markers fills the scaled-score markers of a finished spectrum: the lowest
// occupied bucket and the highest occupied bucket strictly below the top.
func Markers(res *scoring.Results) {
	res.MinHypScore = 0
	res.NextHypScore = 0
	for j := 0; j < len(res.Survival); j++ {
		if res.Survival[j] >= 1 {
			res.MinHypScore = j
			break
		}
	}
	for j := res.MaxHypScore - 1; j >= 0; j-- {
		if res.Survival[j] >= 1 {
			res.NextHypScore = j
			break
		}
	}
}
