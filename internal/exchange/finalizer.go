package exchange

import (
	"context"

	"github.com/pcdslab/gicops/internal/expect"
	"github.com/pcdslab/gicops/internal/msquery"
	"github.com/pcdslab/gicops/internal/scoring"
)

// Finalizer stages per-spectrum partial results into one batch's ring slot.
// In multi-node mode a spectrum with at least one candidate always emits a
// partial; the global min_cpsm test happens after the cross-rank merge.
type Finalizer struct {
	slot       *IBuffer
	candidates []scoring.Cell
}

// NewFinalizer binds a finalizer to the slot acquired for the current batch.
// candidates is the run-wide top-hit array indexed by global spectrum id.
func NewFinalizer(slot *IBuffer, candidates []scoring.Cell) *Finalizer {
	return &Finalizer{slot: slot, candidates: candidates}
}

// Finalize implements scoring.Finalizer.
func (f *Finalizer) Finalize(_ context.Context, specID int, q int, _ *msquery.Batch, res *scoring.Results) error {
	var samples [XSamples]uint16

	if res.CPSMs >= 1 {
		top := res.TopK.GetMax()
		f.candidates[specID] = top
		res.MaxHypScore = scoring.HypBucket(top.Hyperscore)
		expect.Markers(res)

		for i := 0; i < XSamples; i++ {
			bucket := res.MinHypScore + i
			if bucket >= len(res.Survival) {
				break
			}
			samples[i] = clampUint16(res.Survival[bucket])
		}
		f.slot.SetSpectrum(q, PartialResult{
			Min:  int32(res.MinHypScore),
			Max2: int32(res.NextHypScore),
			Max:  int32(res.MaxHypScore),
			N:    int32(res.CPSMs),
			QID:  int32(specID),
		}, samples[:])
		return nil
	}

	// No candidates: stage an explicitly zeroed partial carrying only the id.
	f.slot.SetSpectrum(q, PartialResult{QID: int32(specID)}, samples[:])
	return nil
}

func clampUint16(v uint32) uint16 {
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}
