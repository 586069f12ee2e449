package scoring

// Results is the per-spectrum scoring state. It is owned by a single compute
// thread and reset between spectra.
type Results struct {
	TopK     *TopK
	Survival []uint32
	CPSMs    int

	// Scaled hyperscore markers filled during finalization: the best score,
	// the lowest and highest occupied buckets below it.
	MaxHypScore  int
	MinHypScore  int
	NextHypScore int
}

// NewResults allocates per-spectrum state with a top-K bound of k.
func NewResults(k int) *Results {
	return &Results{
		TopK:     NewTopK(k),
		Survival: make([]uint32, HistogramSize),
	}
}

// Reset clears the results for the next spectrum.
func (r *Results) Reset() {
	r.TopK.Reset()
	clear(r.Survival)
	r.CPSMs = 0
	r.MaxHypScore = 0
	r.MinHypScore = 0
	r.NextHypScore = 0
}

// HypBucket returns the survival-histogram bucket for a hyperscore.
func HypBucket(hyperscore float64) int {
	b := int(hyperscore*10 + 0.5)
	if b < 0 {
		b = 0
	}
	if b >= HistogramSize {
		b = HistogramSize - 1
	}
	return b
}
