package msquery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pcdslab/gicops/pkg/config"
	"github.com/pcdslab/gicops/pkg/metrics"
)

const sampleMS2 = `H	CreationDate	2024-01-01
H	Extractor	test
S	1	1	450.25
I	RTime	3.50
Z	2	899.50
100.5 200
50.25 80
300.75 150
S	2	2	2600.00
Z	3	7797.00
210.0 90
S	3	3	620.10
I	RTime	8.25
Z	2	1238.20
115.30 60
420.00 310
`

func writeSample(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.ms2")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testSearchConfig() config.SearchConfig {
	return config.SearchConfig{
		Res:     0.01, // scale 100
		MinMass: 500,
		MaxMass: 5000,
	}
}

func TestInitCountsAcceptedSpectra(t *testing.T) {
	q := New(writeSample(t, sampleMS2), 0, testSearchConfig(), 10)
	if err := q.Init(nil); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer q.Deinit()

	// Spectrum 2's Z-line mass (7797) fails the acceptance window.
	if q.QACount != 2 {
		t.Fatalf("QACount = %d, want 2", q.QACount)
	}
	if q.NQChunks != 1 {
		t.Fatalf("NQChunks = %d, want 1", q.NQChunks)
	}
}

func TestExtractChunk(t *testing.T) {
	q := New(writeSample(t, sampleMS2), 3, testSearchConfig(), 10)
	if err := q.Init(nil); err != nil {
		t.Fatal(err)
	}
	defer q.Deinit()

	b := NewBatch(10, 8)
	remaining := q.Count()
	if err := q.ExtractChunk(b, &remaining); err != nil {
		t.Fatalf("ExtractChunk: %v", err)
	}

	if b.NumSpecs != 2 || remaining != 0 {
		t.Fatalf("extracted %d spectra with %d remaining, want 2 and 0", b.NumSpecs, remaining)
	}
	if b.FileIndex != 3 {
		t.Fatalf("FileIndex = %d, want 3", b.FileIndex)
	}

	// First spectrum: Z-line overrides the precursor, peaks sorted and
	// scaled by 100.
	if b.Precurse[0] != 899.50 || b.Charge[0] != 2 || b.RTime[0] != 3.50 {
		t.Fatalf("spectrum 0 header = (%v, %d, %v)", b.Precurse[0], b.Charge[0], b.RTime[0])
	}
	moz, intensity := b.Peaks(0)
	wantMoz := []uint32{5025, 10050, 30075}
	wantInt := []uint32{80, 200, 150}
	for i := range wantMoz {
		if moz[i] != wantMoz[i] || intensity[i] != wantInt[i] {
			t.Fatalf("spectrum 0 peaks = %v / %v, want %v / %v", moz, intensity, wantMoz, wantInt)
		}
	}

	// Second accepted spectrum is the third in the file.
	if b.Precurse[1] != 1238.20 {
		t.Fatalf("spectrum 1 precursor = %v, want 1238.20", b.Precurse[1])
	}
}

func TestExtractChunkHonoursQChunk(t *testing.T) {
	q := New(writeSample(t, sampleMS2), 0, testSearchConfig(), 1)
	if err := q.Init(nil); err != nil {
		t.Fatal(err)
	}
	defer q.Deinit()

	remaining := q.Count()
	b := NewBatch(1, 8)
	if err := q.ExtractChunk(b, &remaining); err != nil {
		t.Fatal(err)
	}
	if b.NumSpecs != 1 || remaining != 1 {
		t.Fatalf("first chunk = %d specs, %d remaining; want 1 and 1", b.NumSpecs, remaining)
	}

	b.Reset()
	if err := q.ExtractChunk(b, &remaining); err != nil {
		t.Fatal(err)
	}
	if b.NumSpecs != 1 || remaining != 0 {
		t.Fatalf("second chunk = %d specs, %d remaining; want 1 and 0", b.NumSpecs, remaining)
	}
}

func TestInitWithCachedMeta(t *testing.T) {
	q := New(writeSample(t, sampleMS2), 0, testSearchConfig(), 10)
	if err := q.Init(&FileMeta{QACount: 2, NQChunks: 1}); err != nil {
		t.Fatal(err)
	}
	defer q.Deinit()
	if q.QACount != 2 || q.NQChunks != 1 {
		t.Fatalf("cached init = (%d, %d), want (2, 1)", q.QACount, q.NQChunks)
	}
}

func TestMetaCacheWithoutClient(t *testing.T) {
	cache := NewMetaCache(nil, config.RedisConfig{}, testSearchConfig(), 10, metrics.Nop())
	q := New(writeSample(t, sampleMS2), 0, testSearchConfig(), 10)
	if err := cache.InitQuery(t.Context(), q); err != nil {
		t.Fatalf("InitQuery: %v", err)
	}
	defer q.Deinit()
	if q.QACount != 2 {
		t.Fatalf("QACount = %d, want 2", q.QACount)
	}
}

func TestBatchReset(t *testing.T) {
	b := NewBatch(4, 4)
	b.Append(1000, 2, 1.5, []uint32{1, 2}, []uint32{10, 20})
	b.BatchNum = 7
	b.Reset()

	if b.NumSpecs != 0 || b.BatchNum != 0 || len(b.Moz) != 0 {
		t.Fatalf("batch not cleared: %+v", b)
	}
	if len(b.Idx) != 1 || b.Idx[0] != 0 {
		t.Fatalf("offset index not reset: %v", b.Idx)
	}
}
