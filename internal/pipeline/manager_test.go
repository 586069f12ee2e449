package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/pcdslab/gicops/internal/exchange"
	"github.com/pcdslab/gicops/internal/index"
	"github.com/pcdslab/gicops/internal/output"
	"github.com/pcdslab/gicops/internal/scoring"
	"github.com/pcdslab/gicops/pkg/config"
	"github.com/pcdslab/gicops/pkg/metrics"
)

// captureSink records every PSM handed to it.
type captureSink struct {
	mu     sync.Mutex
	psms   []output.PSM
	closed bool
}

func (s *captureSink) Write(_ context.Context, p output.PSM) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.psms = append(s.psms, p)
	return nil
}

func (s *captureSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) all() []output.PSM {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]output.PSM(nil), s.psms...)
	return out
}

// managerTestIndex mirrors the scoring-kernel fixture: one peptide length (5),
// maxz 1, peptide 1 (mass 1000) carrying three b- and three y-ions.
func managerTestIndex(maxBins int) []index.ChunkIndex {
	const speclen = 8
	recs := map[int][]uint32{
		1000: {1*speclen + 0},
		1200: {1*speclen + 1},
		1400: {1*speclen + 2},
		2000: {1*speclen + 4},
		2200: {1*speclen + 5},
		2400: {1*speclen + 6},
	}
	ba := make([]uint32, maxBins+2)
	var ia []uint32
	for bin := 0; bin <= maxBins; bin++ {
		ia = append(ia, recs[bin]...)
		ba[bin+1] = uint32(len(ia))
	}
	return []index.ChunkIndex{{
		PepLen: 5,
		Entries: []index.PepEntry{
			{Mass: 500.0, SeqID: 0},
			{Mass: 1000.0, SeqID: 1},
			{Mass: 1500.0, SeqID: 2},
		},
		Chunks:        []index.IonChunk{{BA: ba, IA: ia}},
		ChunkSize:     3,
		LastChunkSize: 3,
	}}
}

const testSpectrum = `S	%d	%d	500.5
I	RTime	12.5
Z	2	1000.0
10.00 100
12.00 100
14.00 100
20.00 100
22.00 100
24.00 100
`

func writeDataset(t *testing.T, dir string, files, spectraPerFile int) {
	t.Helper()
	for f := 0; f < files; f++ {
		var body string
		body = "H\tCreationDate\ttest\n"
		for s := 0; s < spectraPerFile; s++ {
			body += fmt.Sprintf(testSpectrum, s+1, s+1)
		}
		path := filepath.Join(dir, fmt.Sprintf("run_%02d.ms2", f))
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func managerTestConfig(dataset, workspace string) *config.Config {
	cfg := &config.Config{
		Paths: config.PathsConfig{
			Dataset:   dataset,
			Workspace: workspace,
		},
		Search: config.SearchConfig{
			MinLen: 5, MaxLen: 5, MaxZ: 1,
			Res: 0.01, DM: 5.0, DF: 0,
			MinMass: 500, MaxMass: 1100,
			MinSHP: 4, MinCPSM: 1, TopMatches: 2,
			ExpectMax: 20.0,
		},
		Pipeline: config.PipelineConfig{
			Threads: 2, PrepThreads: 2, QChunk: 2,
			PoolSize: 4, PoolLow: 1, PoolHigh: 3,
			NoProgress: true,
		},
		Cluster: config.ClusterConfig{Nodes: 1, MyID: 0, Policy: "cyclic"},
		Logging: config.LoggingConfig{Level: "error", Format: "text"},
	}
	return cfg
}

func newTestManager(t *testing.T, cfg *config.Config, sink output.Sink, exch *exchange.Exchange) *Manager {
	t.Helper()
	m := metrics.Nop()
	idx := managerTestIndex(cfg.Search.Scale() * int(cfg.Search.MaxMass))
	backend, err := scoring.NewKernel(scoring.Config{
		Threads:    cfg.Pipeline.Threads,
		MaxZ:       cfg.Search.MaxZ,
		Scale:      cfg.Search.Scale(),
		MaxMass:    cfg.Search.MaxMass,
		DF:         cfg.Search.DFScaled(),
		DM:         cfg.Search.DM,
		MinSHP:     cfg.Search.MinSHP,
		TopMatches: cfg.Search.TopMatches,
		NoProgress: true,
	}, idx, m)
	if err != nil {
		t.Fatalf("NewKernel: %v", err)
	}
	mgr, err := NewManager(Options{
		Config:  cfg,
		Backend: backend,
		Sink:    sink,
		Exch:    exch,
		Metrics: m,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr
}

func TestManagerSharedMemoryRun(t *testing.T) {
	dataset := t.TempDir()
	workspace := t.TempDir()
	writeDataset(t, dataset, 2, 3)

	cfg := managerTestConfig(dataset, workspace)
	sink := &captureSink{}
	mgr := newTestManager(t, cfg, sink, nil)

	if err := mgr.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	psms := sink.all()
	if len(psms) != 6 {
		t.Fatalf("got %d PSMs, want one per spectrum (6)", len(psms))
	}
	ids := make([]int, len(psms))
	for i, p := range psms {
		ids[i] = p.SpecID
		if p.PSID != 1 {
			t.Fatalf("PSM %d hit peptide %d, want 1", i, p.PSID)
		}
		if p.CPSMs != 1 {
			t.Fatalf("PSM %d cpsms = %d, want 1", i, p.CPSMs)
		}
		// A single candidate leaves nothing below the top bucket, so the
		// degenerate fit yields e = N = 1.
		if p.EValue != 1 {
			t.Fatalf("PSM %d e-value = %v, want 1", i, p.EValue)
		}
	}
	sort.Ints(ids)
	for i, id := range ids {
		if id != i {
			t.Fatalf("spectrum ids = %v, want 0..5 exactly once", ids)
		}
	}
	if !sink.closed {
		t.Fatal("sink not closed by teardown")
	}
}

// TestManagerExchangeRun drives the multi-node path with a single rank: the
// kernel stages partials through the IBuffer ring, the writer persists them,
// and CarryForward re-fits and reports from the staged files.
func TestManagerExchangeRun(t *testing.T) {
	dataset := t.TempDir()
	workspace := t.TempDir()
	writeDataset(t, dataset, 1, 5)

	cfg := managerTestConfig(dataset, workspace)
	m := metrics.Nop()
	exch, err := exchange.New(workspace, 0, 1, cfg.Pipeline.QChunk, m)
	if err != nil {
		t.Fatal(err)
	}
	sink := &captureSink{}
	mgr := newTestManager(t, cfg, sink, exch)

	if err := mgr.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	psms := sink.all()
	if len(psms) != 5 {
		t.Fatalf("got %d merged PSMs, want 5", len(psms))
	}
	for _, p := range psms {
		if p.PSID != 1 || p.CPSMs != 1 {
			t.Fatalf("merged PSM = %+v, want peptide 1 with 1 candidate", p)
		}
	}

	// The staging files must exist for every batch (qchunk 2 over 5
	// spectra: batches 0, 1, 2).
	for batch := 0; batch < 3; batch++ {
		if _, err := os.Stat(exchange.StagingPath(workspace, batch, 0)); err != nil {
			t.Fatalf("staging file for batch %d missing: %v", batch, err)
		}
	}
}
