package exchange

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/pcdslab/gicops/internal/expect"
	"github.com/pcdslab/gicops/internal/output"
	"github.com/pcdslab/gicops/internal/scoring"
)

// Barrier synchronizes all ranks through the shared filesystem: each rank
// drops a marker file and waits until every rank's marker exists.
func (e *Exchange) Barrier(ctx context.Context) error {
	marker := filepath.Join(e.workspace, fmt.Sprintf("rank_%d.done", e.rank))
	if err := os.WriteFile(marker, []byte("done\n"), 0644); err != nil {
		return fmt.Errorf("writing barrier marker: %w", err)
	}
	for {
		ready := true
		for r := 0; r < e.nodes; r++ {
			path := filepath.Join(e.workspace, fmt.Sprintf("rank_%d.done", r))
			if _, err := os.Stat(path); err != nil {
				ready = false
				break
			}
		}
		if ready {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("barrier wait: %w", ctx.Err())
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// CarryForward merges the staged per-rank distributions and emits globally
// correct e-values. For every spectrum the per-shard survival samples are
// summed into one histogram, each shard's samples placed from that shard's
// Min bucket, and the partial parameters combined as max of maxes and summed
// N (no merged minimum is computed); the tail fit then runs once against the
// union. The rank holding the globally best hit reports the PSM.
func (e *Exchange) CarryForward(ctx context.Context, candidates []scoring.Cell, minCPSM int, expectMax float64, sink output.Sink) error {
	batches := e.Batches()
	offsets := e.Offsets()

	merged := make([]uint32, scoring.HistogramSize)

	for _, b := range batches {
		packs := make([][]PartialResult, e.nodes)
		samples := make([][][]uint16, e.nodes)
		for r := 0; r < e.nodes; r++ {
			p, s, err := ReadStaging(e.workspace, b.BatchNum, r, b.NumSpecs)
			if err != nil {
				return fmt.Errorf("carry-forward batch %d rank %d: %w", b.BatchNum, r, err)
			}
			packs[r] = p
			samples[r] = s
		}

		for q := 0; q < b.NumSpecs; q++ {
			clear(merged)
			totalN := 0
			globalMax := int32(0)
			owner := -1
			for r := 0; r < e.nodes; r++ {
				p := packs[r][q]
				if p.N < 1 {
					continue
				}
				totalN += int(p.N)
				if owner == -1 || p.Max > globalMax {
					globalMax = p.Max
					owner = r
				}
				row := samples[r][q]
				for i, c := range row {
					bucket := int(p.Min) + i
					if bucket >= len(merged) {
						break
					}
					merged[bucket] += uint32(c)
				}
			}
			if owner != e.rank || totalN < minCPSM {
				continue
			}

			mu, beta := expect.FitSurvival(merged, totalN, int(globalMax))
			evalue := float64(totalN) * math.Pow(10, mu*float64(globalMax)+beta)
			if evalue >= expectMax {
				continue
			}

			gid := offsets[b.BatchNum] + q
			psm := output.FromCell(gid, candidates[gid], totalN, evalue)
			if err := sink.Write(ctx, psm); err != nil {
				return fmt.Errorf("writing merged psm: %w", err)
			}
			e.metrics.PSMsReported.Inc()
		}
	}
	return nil
}

// Offsets returns the deterministic global spectrum id base for each batch.
// All ranks extract the same batches in the same numbering, so the prefix
// sum over batch numbers is rank-consistent regardless of scoring order.
func (e *Exchange) Offsets() map[int]int {
	batches := e.Batches()
	offsets := make(map[int]int, len(batches))
	base := 0
	for _, b := range batches {
		offsets[b.BatchNum] = base
		base += b.NumSpecs
	}
	return offsets
}
