package output

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pcdslab/gicops/internal/scoring"
)

func TestTSVSinkWritesRecords(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewTSVSink(dir, 0)
	if err != nil {
		t.Fatalf("NewTSVSink: %v", err)
	}

	cell := scoring.Cell{
		Hyperscore: 1.2345,
		IdxOffset:  2,
		PSID:       17,
		SharedIons: 6,
		TotalIons:  16,
		PMass:      1234.5678,
		RTime:      42.5,
		PChg:       2,
		FileIndex:  1,
	}
	if err := sink.Write(context.Background(), FromCell(9, cell, 11, 0.05)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "results_0.tsv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("file holds %d lines, want header + 1 record", len(lines))
	}
	if !strings.HasPrefix(lines[0], "spec_id\t") {
		t.Fatalf("missing header: %q", lines[0])
	}
	fields := strings.Split(lines[1], "\t")
	if len(fields) != 12 {
		t.Fatalf("record has %d fields, want 12: %q", len(fields), lines[1])
	}
	if fields[0] != "9" || fields[3] != "17" || fields[7] != "11" {
		t.Fatalf("record fields wrong: %q", lines[1])
	}
}

func TestTSVSinkConcurrentWrites(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewTSVSink(dir, 3)
	if err != nil {
		t.Fatal(err)
	}

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_ = sink.Write(context.Background(), PSM{SpecID: id})
		}(i)
	}
	wg.Wait()
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "results_3.tsv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != n+1 {
		t.Fatalf("file holds %d lines, want %d", len(lines), n+1)
	}
}

func TestMultiSinkFansOut(t *testing.T) {
	dir := t.TempDir()
	a, err := NewTSVSink(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewTSVSink(dir, 1)
	if err != nil {
		t.Fatal(err)
	}
	multi := NewMultiSink(a, b)
	if err := multi.Write(context.Background(), PSM{SpecID: 1}); err != nil {
		t.Fatal(err)
	}
	if err := multi.Close(); err != nil {
		t.Fatal(err)
	}
	for rank := 0; rank < 2; rank++ {
		data, err := os.ReadFile(filepath.Join(dir, "results_"+string(rune('0'+rank))+".tsv"))
		if err != nil {
			t.Fatal(err)
		}
		if len(strings.Split(strings.TrimSpace(string(data)), "\n")) != 2 {
			t.Fatalf("rank %d file missing the record", rank)
		}
	}
}
