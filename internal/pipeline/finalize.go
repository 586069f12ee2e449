package pipeline

import (
	"context"

	"github.com/pcdslab/gicops/internal/expect"
	"github.com/pcdslab/gicops/internal/msquery"
	"github.com/pcdslab/gicops/internal/output"
	"github.com/pcdslab/gicops/internal/scoring"
	"github.com/pcdslab/gicops/pkg/metrics"
)

// sharedFinalizer is the shared-memory result path: spectra with enough
// candidates get an e-value from the estimator, and hits under the ceiling
// go straight to the output sink.
type sharedFinalizer struct {
	est       expect.Estimator
	sink      output.Sink
	minCPSM   int
	expectMax float64
	metrics   *metrics.Metrics
}

// Finalize implements scoring.Finalizer.
func (f *sharedFinalizer) Finalize(ctx context.Context, specID int, _ int, _ *msquery.Batch, res *scoring.Results) error {
	f.metrics.CandidatesTotal.Add(float64(res.CPSMs))

	if res.CPSMs < f.minCPSM {
		return nil
	}

	top := res.TopK.GetMax()
	res.MaxHypScore = scoring.HypBucket(top.Hyperscore)

	evalue := f.est.EValue(res)
	if evalue >= f.expectMax {
		return nil
	}

	if err := f.sink.Write(ctx, output.FromCell(specID, top, res.CPSMs, evalue)); err != nil {
		return err
	}
	f.metrics.PSMsReported.Inc()
	return nil
}
