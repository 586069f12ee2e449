// Package output formats and persists the PSMs that pass the e-value
// ceiling. The TSV sink is the default; a Postgres sink can be layered on
// top for downstream analytics.
package output

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pcdslab/gicops/internal/scoring"
)

// PSM is one reported peptide-spectrum match.
type PSM struct {
	SpecID     int
	PMass      float64
	IdxOffset  int
	PSID       int
	Hyperscore float64
	SharedIons int
	TotalIons  int
	CPSMs      int
	EValue     float64
	RTime      float64
	Charge     int
	FileIndex  int
}

// FromCell builds a PSM from a top-hit heap cell.
func FromCell(specID int, c scoring.Cell, cpsms int, evalue float64) PSM {
	return PSM{
		SpecID:     specID,
		PMass:      c.PMass,
		IdxOffset:  c.IdxOffset,
		PSID:       c.PSID,
		Hyperscore: c.Hyperscore,
		SharedIons: c.SharedIons,
		TotalIons:  c.TotalIons,
		CPSMs:      cpsms,
		EValue:     evalue,
		RTime:      c.RTime,
		Charge:     c.PChg,
		FileIndex:  c.FileIndex,
	}
}

// Sink consumes reported PSMs. Implementations must be safe for concurrent
// Write calls.
type Sink interface {
	Write(ctx context.Context, psm PSM) error
	Close() error
}

// TSVSink writes PSMs to a tab-separated file behind a mutex.
type TSVSink struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

// NewTSVSink creates {workspace}/results_{rank}.tsv and writes the column
// header.
func NewTSVSink(workspace string, rank int) (*TSVSink, error) {
	if err := os.MkdirAll(workspace, 0755); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	path := filepath.Join(workspace, fmt.Sprintf("results_%d.tsv", rank))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating results file: %w", err)
	}
	w := bufio.NewWriter(f)
	if _, err := fmt.Fprintln(w, "spec_id\tpmass\tidx_offset\tpsid\thyperscore\tshared_ions\ttotal_ions\tcpsms\tevalue\trtime\tcharge\tfile_index"); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing results header: %w", err)
	}
	return &TSVSink{f: f, w: w}, nil
}

// Write appends one PSM row.
func (s *TSVSink) Write(_ context.Context, p PSM) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.w, "%d\t%.4f\t%d\t%d\t%.4f\t%d\t%d\t%d\t%.6g\t%.2f\t%d\t%d\n",
		p.SpecID, p.PMass, p.IdxOffset, p.PSID, p.Hyperscore,
		p.SharedIons, p.TotalIons, p.CPSMs, p.EValue, p.RTime, p.Charge, p.FileIndex)
	return err
}

// Close flushes and closes the file.
func (s *TSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}

// MultiSink fans writes out to several sinks.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink composes sinks into one.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Write(ctx context.Context, p PSM) error {
	for _, s := range m.sinks {
		if err := s.Write(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiSink) Close() error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
