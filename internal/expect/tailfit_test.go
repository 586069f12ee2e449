package expect

import (
	"math"
	"testing"

	"github.com/pcdslab/gicops/internal/scoring"
)

func resultsWithHistogram(buckets map[int]uint32, cpsms, maxHyp int) *scoring.Results {
	res := scoring.NewResults(4)
	for b, c := range buckets {
		res.Survival[b] = c
	}
	res.CPSMs = cpsms
	res.MaxHypScore = maxHyp
	return res
}

func TestTailFitBelowMinCPSM(t *testing.T) {
	est := NewTailFit(4)
	res := resultsWithHistogram(map[int]uint32{5: 1, 10: 1}, 2, 10)
	if got := est.EValue(res); got != scoring.MaxHyperscore {
		t.Fatalf("EValue = %v, want ceiling sentinel %v", got, float64(scoring.MaxHyperscore))
	}
}

// A histogram with nothing below the top bucket degenerates to the widened
// single-point fit: slope 0, intercept 0, e-value N.
func TestTailFitDegenerateWindow(t *testing.T) {
	est := NewTailFit(1)
	res := resultsWithHistogram(map[int]uint32{10: 1}, 1, 10)
	if got := est.EValue(res); got != 1 {
		t.Fatalf("EValue = %v, want N = 1", got)
	}
}

func TestTailFitFiniteOnPlateau(t *testing.T) {
	// Histogram [0,0,1,2,3,0,1,0,...,1 at hyp=10], N = 8.
	res := resultsWithHistogram(map[int]uint32{2: 1, 3: 2, 4: 3, 6: 1, 10: 1}, 8, 10)
	est := NewTailFit(4)

	got := est.EValue(res)
	if math.IsNaN(got) || math.IsInf(got, 0) {
		t.Fatalf("EValue = %v, want finite", got)
	}
	mu, beta := FitSurvival(res.Survival, res.CPSMs, res.MaxHypScore)
	want := 8 * math.Pow(10, mu*10+beta)
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("EValue = %v, want %v from the fitted parameters", got, want)
	}
	if mu > 0 {
		t.Fatalf("survival fit slope = %v, want non-positive", mu)
	}
}

func TestLinearFitSinglePoint(t *testing.T) {
	mu, beta := linearFit([]float64{3}, []float64{-1.5})
	if mu != 0 || beta != -1.5 {
		t.Fatalf("single-point fit = (%v, %v), want (0, -1.5)", mu, beta)
	}
}

func TestLinearFitRecoversLine(t *testing.T) {
	xs := []float64{1, 2, 3, 4, 5}
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = -0.25*x + 0.75
	}
	mu, beta := linearFit(xs, ys)
	if math.Abs(mu+0.25) > 1e-12 || math.Abs(beta-0.75) > 1e-12 {
		t.Fatalf("fit = (%v, %v), want (-0.25, 0.75)", mu, beta)
	}
}

func TestMarkers(t *testing.T) {
	res := resultsWithHistogram(map[int]uint32{3: 1, 7: 2, 12: 1}, 4, 12)
	Markers(res)
	if res.MinHypScore != 3 {
		t.Fatalf("MinHypScore = %d, want 3", res.MinHypScore)
	}
	if res.NextHypScore != 7 {
		t.Fatalf("NextHypScore = %d, want 7", res.NextHypScore)
	}
}

func TestGumbelFitSanity(t *testing.T) {
	est := NewGumbelFit(1)
	res := resultsWithHistogram(map[int]uint32{2: 3, 3: 5, 4: 4, 5: 2, 6: 1, 20: 1}, 16, 20)
	got := est.EValue(res)
	if math.IsNaN(got) || math.IsInf(got, 0) || got < 0 {
		t.Fatalf("gumbel EValue = %v, want finite non-negative", got)
	}
	if got > float64(res.CPSMs) {
		t.Fatalf("gumbel EValue = %v exceeds N = %d", got, res.CPSMs)
	}
}
