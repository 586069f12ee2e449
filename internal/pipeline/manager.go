package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pcdslab/gicops/internal/exchange"
	"github.com/pcdslab/gicops/internal/expect"
	"github.com/pcdslab/gicops/internal/msquery"
	"github.com/pcdslab/gicops/internal/output"
	"github.com/pcdslab/gicops/internal/scoring"
	"github.com/pcdslab/gicops/internal/telemetry"
	"github.com/pcdslab/gicops/pkg/config"
	pkgerrors "github.com/pcdslab/gicops/pkg/errors"
	"github.com/pcdslab/gicops/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// pollInterval bounds the consumer's latency to observe the end signal while
// blocked on an empty ready queue.
const pollInterval = 100 * time.Millisecond

// queryFile is the contract the pipeline consumes from the spectra parser
// collaborator.
type queryFile interface {
	Path() string
	FileIndex() int
	Count() int
	NextChunk() int
	ExtractChunk(b *msquery.Batch, remaining *int) error
	Deinit() error
}

// Manager owns the whole search: the buffer pool, the scheduler, the query
// file queues, the scoring backend, and the result path. Its lifecycle
// brackets one complete run.
type Manager struct {
	cfg     *config.Config
	backend scoring.Backend
	est     expect.Estimator
	sink    output.Sink
	exch    *exchange.Exchange
	cache   *msquery.MetaCache
	events  *telemetry.Collector
	metrics *metrics.Metrics
	logger  *slog.Logger

	pool  *Pool
	sched *Scheduler

	qfMu  sync.Mutex
	fileQ []queryFile

	parkMu sync.Mutex
	parkQ  []parked

	// batchOffsets maps a batch number to the global id of its first
	// spectrum. It is precomputed from the per-file pre-scan so ids are
	// deterministic regardless of scoring order.
	batchOffsets []int
	nBatches     int
	dssize       int

	// candidates holds each spectrum's local top hit in multi-node mode,
	// indexed by global spectrum id, for the post-merge report.
	candidates []scoring.Cell
}

// Options bundles the collaborators injected into a Manager.
type Options struct {
	Config  *config.Config
	Backend scoring.Backend
	Sink    output.Sink
	Exch    *exchange.Exchange
	Cache   *msquery.MetaCache
	Events  *telemetry.Collector
	Metrics *metrics.Metrics
}

// NewManager wires a search run. Exch must be non-nil iff the run spans
// multiple nodes.
func NewManager(opts Options) (*Manager, error) {
	if opts.Backend == nil || opts.Sink == nil {
		return nil, pkgerrors.New(pkgerrors.ErrBadAlloc, 4, "manager requires a backend and a sink")
	}
	var est expect.Estimator
	if opts.Config.Search.GumbelFit {
		est = expect.NewGumbelFit(opts.Config.Search.MinCPSM)
	} else {
		est = expect.NewTailFit(opts.Config.Search.MinCPSM)
	}
	if opts.Cache == nil {
		opts.Cache = msquery.NewMetaCache(nil, opts.Config.Redis,
			opts.Config.Search, opts.Config.Pipeline.QChunk, opts.Metrics)
	}
	return &Manager{
		cfg:     opts.Config,
		backend: opts.Backend,
		est:     est,
		sink:    opts.Sink,
		exch:    opts.Exch,
		cache:   opts.Cache,
		events:  opts.Events,
		metrics: opts.Metrics,
		logger:  slog.Default().With("component", "search-manager"),
	}, nil
}

// Run performs the whole search and blocks until every batch is scored and
// the output is sealed.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.initQueryFiles(ctx); err != nil {
		return err
	}
	pcfg := m.cfg.Pipeline
	m.pool = NewPool(pcfg.PoolSize, pcfg.PoolLow, pcfg.PoolHigh, pcfg.QChunk)
	m.sched = NewScheduler(pcfg.PrepThreads, func() { go m.ioWorker() })

	if m.exch != nil {
		m.candidates = make([]scoring.Cell, m.dssize)
	}

	m.logger.Info("search starting",
		"files", len(m.fileQ),
		"spectra", m.dssize,
		"batches", m.nBatches,
		"threads", pcfg.Threads,
		"prep_threads", pcfg.PrepThreads,
	)

	m.sched.Start()
	err := m.queryLoop(ctx)
	m.teardown(ctx, &err)
	return err
}

// queryLoop is the consumer: it blocks for a ready batch, measures the stall
// penalty, runs the scheduler, and hands the batch to the scoring backend.
func (m *Manager) queryLoop(ctx context.Context) error {
	scored := 0
	for {
		stallStart := time.Now()
		batch, err := m.waitForIO(ctx)
		if err != nil {
			if errors.Is(err, pkgerrors.ErrEndSignal) {
				m.logger.Info("all inputs drained", "batches_scored", scored)
				return nil
			}
			return err
		}
		penalty := time.Since(stallStart).Seconds()
		m.metrics.ConsumerStall.Add(penalty)

		m.sched.RunManager(penalty, m.pool.ReadyQStatus())
		m.metrics.ActiveIOThreads.Set(float64(m.sched.ActiveIOThreads()))

		start := time.Now()
		specIDBase := m.batchOffsets[batch.BatchNum]

		var slot *exchange.IBuffer
		var fin scoring.Finalizer
		if m.exch != nil {
			slot = m.exch.AcquireSlot(batch.BatchNum, batch.NumSpecs)
			fin = exchange.NewFinalizer(slot, m.candidates)
		} else {
			fin = &sharedFinalizer{
				est:       m.est,
				sink:      m.sink,
				minCPSM:   m.cfg.Search.MinCPSM,
				expectMax: m.cfg.Search.ExpectMax,
				metrics:   m.metrics,
			}
		}

		if err := m.backend.Score(ctx, batch, specIDBase, m.sched.ActiveIOThreads(), fin); err != nil {
			m.pool.Replenish(batch)
			return err
		}
		if m.exch != nil {
			m.exch.FinishBatch(slot)
		}

		elapsed := time.Since(start)
		m.metrics.KernelLatency.Observe(elapsed.Seconds())
		m.events.TrackBatchScored(batch.BatchNum, batch.NumSpecs, penalty, elapsed)
		scored++

		if !m.cfg.Pipeline.NoProgress {
			m.logger.Info("batch scored",
				"batch", batch.BatchNum,
				"spectra", batch.NumSpecs,
				"penalty_s", penalty,
				"query_s", elapsed.Seconds(),
			)
		}

		m.pool.Replenish(batch)
		m.metrics.ReadyQueueDepth.Set(float64(m.pool.ReadyQDepth()))
	}
}

// waitForIO blocks until a filled batch is available, polling so the end
// signal is observed within pollInterval.
func (m *Manager) waitForIO(ctx context.Context) (*msquery.Batch, error) {
	for m.pool.IsEmptyReadyQ() {
		if m.sched.CheckSignal() {
			return nil, pkgerrors.ErrEndSignal
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		time.Sleep(pollInterval)
	}
	b := m.pool.GetWorkPtr()
	if b == nil {
		return nil, pkgerrors.New(pkgerrors.ErrInvalidPointer, 3, "ready queue yielded nil batch")
	}
	return b, nil
}

// initQueryFiles lists the dataset, pre-scans every file in parallel, chains
// the batch-number offsets across files, and precomputes the global spectrum
// id base of every batch.
func (m *Manager) initQueryFiles(ctx context.Context) error {
	paths, err := listQueryFiles(m.cfg.Paths.Dataset)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return pkgerrors.Newf(pkgerrors.ErrInvalidInput, 2, "no query files in %s", m.cfg.Paths.Dataset)
	}

	queries := make([]*msquery.MSQuery, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Pipeline.PrepThreads)
	for fid, path := range paths {
		g.Go(func() error {
			q := msquery.New(path, fid, m.cfg.Search, m.cfg.Pipeline.QChunk)
			if err := m.cache.InitQuery(gctx, q); err != nil {
				return err
			}
			queries[fid] = q
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("initializing query files: %w", err)
	}

	// Chain batch numbers so every batch in the dataset has a globally
	// unique monotone id, then derive each batch's spectrum id base.
	qchunk := m.cfg.Pipeline.QChunk
	chunkBase := 0
	m.batchOffsets = m.batchOffsets[:0]
	for _, q := range queries {
		q.CurrChunk = chunkBase
		chunkBase += q.NQChunks
		rem := q.QACount
		for rem > 0 {
			m.batchOffsets = append(m.batchOffsets, m.dssize)
			n := qchunk
			if rem < n {
				n = rem
			}
			m.dssize += n
			rem -= n
		}
		m.fileQ = append(m.fileQ, q)
	}
	m.nBatches = chunkBase
	return nil
}

// teardown drains the pool, seals the exchange, and in multi-node mode runs
// the barrier and the cross-rank merge before closing the sink.
func (m *Manager) teardown(ctx context.Context, runErr *error) {
	m.pool.Drain()

	if m.exch != nil {
		m.exch.Close()
		if *runErr == nil {
			if err := m.exch.Barrier(ctx); err != nil {
				*runErr = err
			} else if err := m.exch.CarryForward(ctx, m.candidates,
				m.cfg.Search.MinCPSM, m.cfg.Search.ExpectMax, m.sink); err != nil {
				*runErr = err
			}
		}
	}

	if err := m.sink.Close(); err != nil && *runErr == nil {
		*runErr = fmt.Errorf("closing output sink: %w", err)
	}
	m.events.TrackRunDone(m.dssize, m.nBatches, *runErr)
}

// listQueryFiles returns the .ms2 files of the dataset directory in name
// order. A single-file dataset path is accepted as-is.
func listQueryFiles(dataset string) ([]string, error) {
	fi, err := os.Stat(dataset)
	if err != nil {
		return nil, pkgerrors.Newf(pkgerrors.ErrInvalidInput, 2, "dataset %s: %v", dataset, err)
	}
	if !fi.IsDir() {
		return []string{dataset}, nil
	}
	entries, err := os.ReadDir(dataset)
	if err != nil {
		return nil, fmt.Errorf("reading dataset directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".ms2") {
			paths = append(paths, filepath.Join(dataset, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}
