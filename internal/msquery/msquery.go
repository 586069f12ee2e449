package msquery

import (
	"bufio"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pcdslab/gicops/pkg/config"
)

// MSQuery is the handle to one MS2 file on disk. It is mutated only by the
// I/O worker currently holding it and carries the cursor state needed to
// resume extraction after a scheduler preempt.
type MSQuery struct {
	path      string
	fileIndex int

	// QACount is the number of accepted spectra in the file; NQChunks the
	// number of batches it will produce. CurrChunk is the globally monotone
	// number the next extracted batch receives.
	QACount   int
	NQChunks  int
	CurrChunk int

	qchunk  int
	scale   int
	minMass float64
	maxMass float64

	f      *os.File
	sc     *bufio.Scanner
	pend   *spectrum
	logger *slog.Logger
}

type spectrum struct {
	precurse  float64
	charge    int
	rtime     float64
	moz       []uint32
	intensity []uint32
}

// New creates an MSQuery for path. Init must be called before extraction.
func New(path string, fileIndex int, search config.SearchConfig, qchunk int) *MSQuery {
	return &MSQuery{
		path:      path,
		fileIndex: fileIndex,
		qchunk:    qchunk,
		scale:     search.Scale(),
		minMass:   search.MinMass,
		maxMass:   search.MaxMass,
		logger:    slog.Default().With("component", "msquery", "file", path),
	}
}

// Path returns the file path.
func (q *MSQuery) Path() string { return q.path }

// FileIndex returns the position of this file in the configured dataset.
func (q *MSQuery) FileIndex() int { return q.fileIndex }

// Count returns the number of accepted spectra found by the pre-scan.
func (q *MSQuery) Count() int { return q.QACount }

// NextChunk returns the current batch number and advances the cursor.
func (q *MSQuery) NextChunk() int {
	c := q.CurrChunk
	q.CurrChunk++
	return c
}

// Init scans the file to count its accepted spectra and derive its chunk
// count, then re-opens it for extraction. meta, when non-nil, short-circuits
// the counting scan with cached counts.
func (q *MSQuery) Init(meta *FileMeta) error {
	if meta != nil {
		q.QACount = meta.QACount
		q.NQChunks = meta.NQChunks
	} else {
		count, err := q.countSpectra()
		if err != nil {
			return err
		}
		q.QACount = count
		q.NQChunks = (count + q.qchunk - 1) / q.qchunk
	}
	f, err := os.Open(q.path)
	if err != nil {
		return fmt.Errorf("opening query file %s: %w", q.path, err)
	}
	q.f = f
	q.sc = newPeakScanner(f)
	return nil
}

// ExtractChunk fills batch with up to qchunk spectra and decrements
// *remaining by the number extracted. The caller owns the batch.
func (q *MSQuery) ExtractChunk(batch *Batch, remaining *int) error {
	if q.sc == nil {
		return fmt.Errorf("query file %s not initialized", q.path)
	}
	for batch.NumSpecs < q.qchunk {
		spec, err := q.nextSpectrum()
		if err != nil {
			return err
		}
		if spec == nil {
			break
		}
		batch.Append(spec.precurse, spec.charge, spec.rtime, spec.moz, spec.intensity)
		*remaining--
	}
	batch.FileIndex = q.fileIndex
	return nil
}

// Deinit closes the underlying file.
func (q *MSQuery) Deinit() error {
	q.sc = nil
	q.pend = nil
	if q.f != nil {
		err := q.f.Close()
		q.f = nil
		return err
	}
	return nil
}

// countSpectra runs the acceptance filter over the whole file and counts the
// spectra that survive it.
func (q *MSQuery) countSpectra() (int, error) {
	f, err := os.Open(q.path)
	if err != nil {
		return 0, fmt.Errorf("opening query file %s: %w", q.path, err)
	}
	defer f.Close()

	saved := struct {
		f  *os.File
		sc *bufio.Scanner
		p  *spectrum
	}{q.f, q.sc, q.pend}
	q.f, q.sc, q.pend = f, newPeakScanner(f), nil

	count := 0
	for {
		spec, err := q.nextSpectrum()
		if err != nil {
			q.f, q.sc, q.pend = saved.f, saved.sc, saved.p
			return 0, err
		}
		if spec == nil {
			break
		}
		count++
	}
	q.f, q.sc, q.pend = saved.f, saved.sc, saved.p
	return count, nil
}

func newPeakScanner(f *os.File) *bufio.Scanner {
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return sc
}

// nextSpectrum parses the next spectrum that passes the precursor-mass
// acceptance window. It returns (nil, nil) at end of file.
//
// MS2 text format: `H` header lines, then per spectrum an `S scan scan
// precursorMz` line, optional `I` annotations (RTime among them), one or more
// `Z charge mass` lines, and peak rows `mz intensity`.
func (q *MSQuery) nextSpectrum() (*spectrum, error) {
	cur := q.pend
	q.pend = nil
	for q.sc.Scan() {
		line := strings.TrimSpace(q.sc.Text())
		if line == "" || strings.HasPrefix(line, "H") {
			continue
		}
		switch line[0] {
		case 'S':
			next, err := parseSLine(line)
			if err != nil {
				return nil, fmt.Errorf("parsing %s: %w", q.path, err)
			}
			if cur != nil && q.accept(cur) {
				q.pend = next
				q.finish(cur)
				return cur, nil
			}
			cur = next
		case 'Z':
			if cur == nil {
				continue
			}
			fields := strings.Fields(line)
			if len(fields) >= 3 {
				if z, err := strconv.Atoi(fields[1]); err == nil {
					cur.charge = z
				}
				if m, err := strconv.ParseFloat(fields[2], 64); err == nil {
					cur.precurse = m
				}
			}
		case 'I':
			if cur == nil {
				continue
			}
			fields := strings.Fields(line)
			if len(fields) >= 3 && fields[1] == "RTime" {
				if rt, err := strconv.ParseFloat(fields[2], 64); err == nil {
					cur.rtime = rt
				}
			}
		default:
			if cur == nil {
				continue
			}
			fields := strings.Fields(line)
			if len(fields) < 2 {
				continue
			}
			mz, err1 := strconv.ParseFloat(fields[0], 64)
			intn, err2 := strconv.ParseFloat(fields[1], 64)
			if err1 != nil || err2 != nil {
				continue
			}
			cur.moz = append(cur.moz, uint32(math.Round(mz*float64(q.scale))))
			cur.intensity = append(cur.intensity, uint32(math.Round(intn)))
		}
	}
	if err := q.sc.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", q.path, err)
	}
	if cur != nil && q.accept(cur) {
		q.finish(cur)
		return cur, nil
	}
	return nil, nil
}

func (q *MSQuery) accept(s *spectrum) bool {
	return len(s.moz) > 0 && s.precurse >= q.minMass && s.precurse <= q.maxMass
}

// finish sorts the peak columns by m/z; the fragment sweep requires
// ascending bins.
func (q *MSQuery) finish(s *spectrum) {
	sort.Sort(&peakSorter{s.moz, s.intensity})
}

func parseSLine(line string) (*spectrum, error) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return nil, fmt.Errorf("malformed S line %q", line)
	}
	mz, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return nil, fmt.Errorf("malformed precursor m/z in %q", line)
	}
	return &spectrum{precurse: mz, charge: 1}, nil
}

type peakSorter struct {
	moz       []uint32
	intensity []uint32
}

func (p *peakSorter) Len() int           { return len(p.moz) }
func (p *peakSorter) Less(i, j int) bool { return p.moz[i] < p.moz[j] }
func (p *peakSorter) Swap(i, j int) {
	p.moz[i], p.moz[j] = p.moz[j], p.moz[i]
	p.intensity[i], p.intensity[j] = p.intensity[j], p.intensity[i]
}
