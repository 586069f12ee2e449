package scoring

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"

	"github.com/pcdslab/gicops/internal/index"
	"github.com/pcdslab/gicops/internal/msquery"
	pkgerrors "github.com/pcdslab/gicops/pkg/errors"
	"github.com/pcdslab/gicops/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// specsPerGrab is the dynamic-scheduling grain: each worker claims this many
// spectra at a time to keep per-thread state off shared cache lines.
const specsPerGrab = 4

// Finalizer consumes the per-spectrum scoring state once all index chunks
// have been swept. Implementations exist for shared-memory mode (tail-fit +
// output sink) and multi-node mode (partial results into the exchange
// staging buffer).
type Finalizer interface {
	Finalize(ctx context.Context, specID int, q int, batch *msquery.Batch, res *Results) error
}

// Backend is the scoring capability selected at startup. The CPU kernel is
// the default implementation; a GPU offload backend satisfies the same
// contract.
type Backend interface {
	Score(ctx context.Context, batch *msquery.Batch, specIDBase int, activeIO int, finalize Finalizer) error
}

// Config holds the kernel's scoring parameters.
type Config struct {
	Threads    int
	MaxZ       int
	Scale      int
	MaxMass    float64
	DF         uint32
	DM         float64
	MinSHP     int
	TopMatches int
	NoProgress bool
}

// Kernel is the CPU scoring backend. It is run once per ready batch and
// parallelises dynamically over the batch's spectra.
type Kernel struct {
	cfg     Config
	idx     []index.ChunkIndex
	cards   []*Scorecard
	results []*Results
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewKernel allocates per-thread scorecards sized for the largest peptide
// chunk in the index.
func NewKernel(cfg Config, idx []index.ChunkIndex, m *metrics.Metrics) (*Kernel, error) {
	if len(idx) == 0 {
		return nil, pkgerrors.New(pkgerrors.ErrInvalidMemory, 3, "empty index passed to kernel")
	}
	maxPeptides := 0
	for i := range idx {
		if n := idx[i].TotalCount(); n > maxPeptides {
			maxPeptides = n
		}
	}
	if maxPeptides == 0 {
		return nil, pkgerrors.New(pkgerrors.ErrInvalidMemory, 3, "index holds no peptides")
	}
	k := &Kernel{
		cfg:     cfg,
		idx:     idx,
		cards:   make([]*Scorecard, cfg.Threads),
		results: make([]*Results, cfg.Threads),
		metrics: m,
		logger:  slog.Default().With("component", "scoring-kernel"),
	}
	for i := 0; i < cfg.Threads; i++ {
		k.cards[i] = NewScorecard(maxPeptides)
		k.results[i] = NewResults(cfg.TopMatches)
	}
	return k, nil
}

// Width returns the parallel width for this batch: the configured maximum
// minus the active I/O workers, clamped to at least 75% of the maximum so
// compute keeps moving when I/O demand spikes.
func (k *Kernel) Width(activeIO int) int {
	minThreads := (k.cfg.Threads * 3) / 4
	if minThreads < 1 {
		minThreads = 1
	}
	width := k.cfg.Threads - activeIO
	if width < minThreads {
		width = minThreads
	}
	return width
}

// Score runs the kernel over one ready batch. specIDBase is the global id of
// the batch's first spectrum; finalize is invoked once per spectrum with the
// completed scoring state.
func (k *Kernel) Score(ctx context.Context, batch *msquery.Batch, specIDBase int, activeIO int, finalize Finalizer) error {
	width := k.Width(activeIO)

	if !k.cfg.NoProgress {
		k.logger.Debug("scoring batch",
			"batch", batch.BatchNum,
			"spectra", batch.NumSpecs,
			"threads", width,
		)
	}

	var next atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < width; w++ {
		card := k.cards[w]
		res := k.results[w]
		g.Go(func() error {
			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				start := int(next.Add(specsPerGrab)) - specsPerGrab
				if start >= batch.NumSpecs {
					return nil
				}
				end := start + specsPerGrab
				if end > batch.NumSpecs {
					end = batch.NumSpecs
				}
				for q := start; q < end; q++ {
					k.scoreSpectrum(batch, q, card, res)
					if err := finalize.Finalize(gctx, specIDBase+q, q, batch, res); err != nil {
						return err
					}
					res.Reset()
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	k.metrics.BatchesScored.Inc()
	k.metrics.SpectraScored.Add(float64(batch.NumSpecs))
	return nil
}

// scoreSpectrum sweeps one spectrum over every index chunk, accumulating ion
// matches in the thread's scorecard and extracting candidates into res.
func (k *Kernel) scoreSpectrum(batch *msquery.Batch, q int, card *Scorecard, res *Results) {
	pmass := batch.Precurse[q]
	moz, intensity := batch.Peaks(q)
	maxBin := uint32(k.cfg.MaxMass*float64(k.cfg.Scale)) - 1 - k.cfg.DF
	dF := k.cfg.DF

	for ixx := range k.idx {
		ci := &k.idx[ixx]
		speclen := ci.SpecLen(k.cfg.MaxZ)
		halfspeclen := speclen / 2

		minlimit, maxlimit, found := index.PrecursorRange(ci.Entries, pmass, k.cfg.DM)
		if !found || maxlimit < minlimit {
			continue
		}

		for chno := range ci.Chunks {
			bA := ci.Chunks[chno].BA
			iA := ci.Chunks[chno].IA

			for p, qion := range moz {
				if qion <= dF || qion >= maxBin {
					continue
				}
				intn := uint64(intensity[p])
				for bin := qion - dF; bin <= qion+dF; bin++ {
					start := bA[bin]
					end := bA[bin+1]
					if end-start < 1 {
						continue
					}

					slice := iA[start:end]
					lo := sort.Search(len(slice), func(i int) bool {
						return slice[i] >= uint32(minlimit*speclen)
					})
					hi := sort.Search(len(slice), func(i int) bool {
						return slice[i] > uint32((maxlimit+1)*speclen-1)
					})

					for _, raw := range slice[lo:hi] {
						ppid := int(raw) / speclen
						if int(raw)%speclen < halfspeclen {
							card.BYC[ppid].BC++
							card.IBYC[ppid].IBC += intn
						} else {
							card.BYC[ppid].YC++
							card.IBYC[ppid].IYC += intn
						}
					}
				}
			}

			k.extractCandidates(card, res, ixx, minlimit, maxlimit, speclen, pmass, batch, q)
			card.ClearRange(minlimit, maxlimit)
		}
	}
}

// extractCandidates scans the touched scorecard window for peptides passing
// the shared-peaks filter and pushes positive hyperscores into the top-K heap
// and the survival histogram.
func (k *Kernel) extractCandidates(card *Scorecard, res *Results, ixx, minlimit, maxlimit, speclen int, pmass float64, batch *msquery.Batch, q int) {
	for it := minlimit; it <= maxlimit; it++ {
		bcc := int(card.BYC[it].BC)
		ycc := int(card.BYC[it].YC)
		shpk := bcc + ycc

		if shpk < k.cfg.MinSHP {
			continue
		}

		hyperscore := 0.001 + Fact(bcc)*Fact(ycc)*
			float64(card.IBYC[it].IBC)*float64(card.IBYC[it].IYC)
		hyperscore = math.Log10(hyperscore) - 6

		// Only positive hyperscores become candidates; a peptide with no
		// matched b-ions or no matched y-ions always scores below zero.
		if hyperscore > 0 {
			res.TopK.Insert(Cell{
				Hyperscore: hyperscore,
				IdxOffset:  ixx,
				PSID:       it,
				SharedIons: shpk,
				TotalIons:  speclen,
				PMass:      pmass,
				RTime:      batch.RTime[q],
				PChg:       batch.Charge[q],
				FileIndex:  batch.FileIndex,
			})
			res.CPSMs++
			res.Survival[HypBucket(hyperscore)]++
		}
	}
}
