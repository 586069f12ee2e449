package index

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func testChunkIndex() *ChunkIndex {
	return &ChunkIndex{
		PepLen:        7,
		ChunkSize:     2,
		LastChunkSize: 1,
		Entries: []PepEntry{
			{Mass: 512.25, SeqID: 0},
			{Mass: 734.50, SeqID: 1},
			{Mass: 1201.75, SeqID: 2},
		},
		Chunks: []IonChunk{
			{BA: []uint32{0, 0, 2, 2, 5, 5}, IA: []uint32{3, 17, 1, 9, 22}},
			{BA: []uint32{0, 1, 1, 4, 4, 4}, IA: []uint32{7, 2, 5, 11}},
		},
	}
}

func TestSegmentRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ci := testChunkIndex()

	name, err := WriteSegment(dir, ci)
	if err != nil {
		t.Fatalf("WriteSegment: %v", err)
	}
	if name != "pep_7.gidx" {
		t.Fatalf("segment name = %q, want pep_7.gidx", name)
	}

	got, err := ReadSegment(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("ReadSegment: %v", err)
	}
	if !reflect.DeepEqual(got, ci) {
		t.Fatalf("round trip mismatch:\ngot  %+v\nwant %+v", got, ci)
	}
}

func TestReadSegmentDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	ci := testChunkIndex()
	name, err := WriteSegment(dir, ci)
	if err != nil {
		t.Fatalf("WriteSegment: %v", err)
	}
	path := filepath.Join(dir, name)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// Flip one payload byte past the header.
	data[headerSize+5] ^= 0xFF
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := ReadSegment(path); err == nil {
		t.Fatal("expected checksum error on corrupted segment")
	}
}

func TestLoadMissingLength(t *testing.T) {
	dir := t.TempDir()
	ci := testChunkIndex()
	if _, err := WriteSegment(dir, ci); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir, 7, 8); err == nil {
		t.Fatal("expected error when a peptide length is missing")
	}
	idx, err := Load(dir, 7, 7)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(idx) != 1 || idx[0].PepLen != 7 {
		t.Fatalf("Load returned %d chunks, want 1 of peplen 7", len(idx))
	}
}
