// Package msquery reads experimental MS/MS spectra from MS2 files and packs
// them into columnar spectrum batches for the search pipeline.
package msquery

// Batch is up to qchunk spectra packed columnar. Peak data for spectrum q
// lives in Moz[Idx[q]:Idx[q+1]] and Intensity[Idx[q]:Idx[q+1]]; m/z values
// are pre-scaled to integer bins.
type Batch struct {
	NumSpecs  int
	BatchNum  int
	FileIndex int

	Precurse  []float64
	Charge    []int
	RTime     []float64
	Moz       []uint32
	Intensity []uint32
	Idx       []int
}

// NewBatch allocates a batch sized for qchunk spectra with room for avgPeaks
// peaks each. The peak columns grow on demand; the per-spectrum columns do
// not.
func NewBatch(qchunk, avgPeaks int) *Batch {
	return &Batch{
		Precurse:  make([]float64, 0, qchunk),
		Charge:    make([]int, 0, qchunk),
		RTime:     make([]float64, 0, qchunk),
		Moz:       make([]uint32, 0, qchunk*avgPeaks),
		Intensity: make([]uint32, 0, qchunk*avgPeaks),
		Idx:       make([]int, 1, qchunk+1),
	}
}

// Reset clears the batch for reuse without releasing its storage.
func (b *Batch) Reset() {
	b.NumSpecs = 0
	b.BatchNum = 0
	b.FileIndex = 0
	b.Precurse = b.Precurse[:0]
	b.Charge = b.Charge[:0]
	b.RTime = b.RTime[:0]
	b.Moz = b.Moz[:0]
	b.Intensity = b.Intensity[:0]
	b.Idx = b.Idx[:1]
	b.Idx[0] = 0
}

// Append adds one spectrum to the batch.
func (b *Batch) Append(precurse float64, charge int, rtime float64, moz, intensity []uint32) {
	b.Precurse = append(b.Precurse, precurse)
	b.Charge = append(b.Charge, charge)
	b.RTime = append(b.RTime, rtime)
	b.Moz = append(b.Moz, moz...)
	b.Intensity = append(b.Intensity, intensity...)
	b.Idx = append(b.Idx, len(b.Moz))
	b.NumSpecs++
}

// Peaks returns the scaled m/z and intensity columns of spectrum q.
func (b *Batch) Peaks(q int) (moz, intensity []uint32) {
	return b.Moz[b.Idx[q]:b.Idx[q+1]], b.Intensity[b.Idx[q]:b.Idx[q+1]]
}
