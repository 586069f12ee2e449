package exchange

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pcdslab/gicops/internal/output"
	"github.com/pcdslab/gicops/internal/scoring"
	"github.com/pcdslab/gicops/pkg/metrics"
)

type captureSink struct {
	mu   sync.Mutex
	psms []output.PSM
}

func (s *captureSink) Write(_ context.Context, p output.PSM) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.psms = append(s.psms, p)
	return nil
}

func (s *captureSink) Close() error { return nil }

func TestStagingRoundTrip(t *testing.T) {
	dir := t.TempDir()
	e, err := New(dir, 0, 1, 4, metrics.Nop())
	if err != nil {
		t.Fatal(err)
	}

	slot := e.AcquireSlot(7, 2)
	samples0 := make([]uint16, XSamples)
	samples0[0] = 3
	samples0[5] = 1
	slot.SetSpectrum(0, PartialResult{Min: 10, Max2: 15, Max: 20, N: 4, QID: 0}, samples0)
	samples1 := make([]uint16, XSamples)
	samples1[2] = 2
	slot.SetSpectrum(1, PartialResult{Min: 8, Max2: 11, Max: 14, N: 2, QID: 1}, samples1)
	e.FinishBatch(slot)
	e.Close()

	packs, samples, err := ReadStaging(dir, 7, 0, 2)
	if err != nil {
		t.Fatalf("ReadStaging: %v", err)
	}
	if packs[0] != (PartialResult{Min: 10, Max2: 15, Max: 20, N: 4, QID: 0}) {
		t.Fatalf("pack 0 = %+v", packs[0])
	}
	if packs[1].N != 2 || packs[1].QID != 1 {
		t.Fatalf("pack 1 = %+v", packs[1])
	}
	if samples[0][0] != 3 || samples[0][5] != 1 || samples[1][2] != 2 {
		t.Fatal("sample rows did not round trip")
	}
}

func TestIBufferOwnershipToggles(t *testing.T) {
	dir := t.TempDir()
	e, err := New(dir, 0, 1, 2, metrics.Nop())
	if err != nil {
		t.Fatal(err)
	}

	slot := e.AcquireSlot(0, 1)
	if slot.done.Load() {
		t.Fatal("acquired slot still marked done")
	}
	slot.SetSpectrum(0, PartialResult{N: 1, Max: 5, QID: 0}, make([]uint16, XSamples))
	e.FinishBatch(slot)

	// The writer must hand the slot back by flipping done.
	deadline := time.Now().Add(2 * time.Second)
	for !slot.done.Load() {
		if time.Now().After(deadline) {
			t.Fatal("writer never released the slot")
		}
		time.Sleep(5 * time.Millisecond)
	}
	e.Close()
}

func TestBarrierWaitsForAllRanks(t *testing.T) {
	dir := t.TempDir()
	m := metrics.Nop()
	e0, err := New(dir, 0, 2, 2, m)
	if err != nil {
		t.Fatal(err)
	}
	e1, err := New(dir, 1, 2, 2, m)
	if err != nil {
		t.Fatal(err)
	}
	e0.Close()
	e1.Close()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() { defer wg.Done(); errs[0] = e0.Barrier(context.Background()) }()
	go func() { defer wg.Done(); errs[1] = e1.Barrier(context.Background()) }()
	wg.Wait()
	if errs[0] != nil || errs[1] != nil {
		t.Fatalf("barrier errors: %v, %v", errs[0], errs[1])
	}
}

// TestCarryForwardMergesShards stages one spectrum on two ranks and checks
// the merged e-value is computed over the union and reported only by the
// rank holding the globally best hit.
func TestCarryForwardMergesShards(t *testing.T) {
	dir := t.TempDir()
	m := metrics.Nop()
	e0, err := New(dir, 0, 2, 4, m)
	if err != nil {
		t.Fatal(err)
	}
	e1, err := New(dir, 1, 2, 4, m)
	if err != nil {
		t.Fatal(err)
	}

	stage := func(e *Exchange, candidates []scoring.Cell, res *scoring.Results) {
		e.AddBatch(BatchInfo{BatchNum: 0, NumSpecs: 1})
		slot := e.AcquireSlot(0, 1)
		fin := NewFinalizer(slot, candidates)
		if err := fin.Finalize(context.Background(), 0, 0, nil, res); err != nil {
			t.Fatal(err)
		}
		e.FinishBatch(slot)
		e.Close()
	}

	// Rank 0: three candidates, best scaled score 20.
	res0 := scoring.NewResults(4)
	res0.CPSMs = 3
	res0.Survival[10] = 2
	res0.Survival[20] = 1
	res0.TopK.Insert(scoring.Cell{Hyperscore: 2.0, PSID: 11})
	cand0 := make([]scoring.Cell, 1)
	stage(e0, cand0, res0)

	// Rank 1: two candidates, best scaled score 30 - the global winner.
	res1 := scoring.NewResults(4)
	res1.CPSMs = 2
	res1.Survival[12] = 1
	res1.Survival[30] = 1
	res1.TopK.Insert(scoring.Cell{Hyperscore: 3.0, PSID: 42})
	cand1 := make([]scoring.Cell, 1)
	stage(e1, cand1, res1)

	sink0 := &captureSink{}
	if err := e0.CarryForward(context.Background(), cand0, 4, 1e6, sink0); err != nil {
		t.Fatalf("rank 0 CarryForward: %v", err)
	}
	if len(sink0.psms) != 0 {
		t.Fatalf("rank 0 reported %d PSMs, want 0 (not the owner)", len(sink0.psms))
	}

	sink1 := &captureSink{}
	if err := e1.CarryForward(context.Background(), cand1, 4, 1e6, sink1); err != nil {
		t.Fatalf("rank 1 CarryForward: %v", err)
	}
	if len(sink1.psms) != 1 {
		t.Fatalf("rank 1 reported %d PSMs, want 1", len(sink1.psms))
	}
	psm := sink1.psms[0]
	if psm.PSID != 42 || psm.Hyperscore != 3.0 {
		t.Fatalf("merged PSM = %+v, want rank 1's top hit", psm)
	}
	if psm.CPSMs != 5 {
		t.Fatalf("merged candidate count = %d, want 3+2", psm.CPSMs)
	}
	if psm.EValue <= 0 || psm.EValue >= 1e6 {
		t.Fatalf("merged e-value = %v, want finite below the ceiling", psm.EValue)
	}
}
