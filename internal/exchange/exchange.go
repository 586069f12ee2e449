package exchange

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pcdslab/gicops/pkg/metrics"
)

// BatchInfo registers one extracted batch with the exchange layer.
type BatchInfo struct {
	BatchNum  int
	NumSpecs  int
	FileIndex int
}

// Exchange owns the staging ring and the writer goroutine for one rank.
type Exchange struct {
	workspace string
	rank      int
	nodes     int

	ring   [nIBuffs]*IBuffer
	ciBuff int

	post chan struct{}
	done chan struct{}

	mu      sync.Mutex
	batches map[int]BatchInfo

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates the exchange layer and starts its writer goroutine.
func New(workspace string, rank, nodes, qchunk int, m *metrics.Metrics) (*Exchange, error) {
	if err := os.MkdirAll(workspace, 0755); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	e := &Exchange{
		workspace: workspace,
		rank:      rank,
		nodes:     nodes,
		post:      make(chan struct{}, nIBuffs+1),
		done:      make(chan struct{}),
		batches:   make(map[int]BatchInfo),
		metrics:   m,
		logger:    slog.Default().With("component", "exchange", "rank", rank),
	}
	for i := range e.ring {
		e.ring[i] = newIBuffer(qchunk)
	}
	e.ciBuff = -1
	go e.writerLoop()
	return e, nil
}

// AddBatch records an extracted batch. I/O workers call it as batches are
// published so the post-loop merge knows every batch's spectrum count.
func (e *Exchange) AddBatch(info BatchInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batches[info.BatchNum] = info
}

// Batches returns the registered batches sorted by batch number.
func (e *Exchange) Batches() []BatchInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]BatchInfo, 0, len(e.batches))
	for _, b := range e.batches {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchNum < out[j].BatchNum })
	return out
}

// AcquireSlot claims the next ring slot for a batch, blocking until the
// writer has drained it.
func (e *Exchange) AcquireSlot(batchNum, numSpecs int) *IBuffer {
	e.ciBuff++
	slot := e.ring[e.ciBuff%nIBuffs]
	slot.waitDone()
	slot.done.Store(false)
	slot.BatchNum = batchNum
	slot.NumSpecs = numSpecs
	slot.CurrPtr = 0
	return slot
}

// FinishBatch seals the slot and posts it to the writer.
func (e *Exchange) FinishBatch(slot *IBuffer) {
	slot.CurrPtr = slot.NumSpecs * XSamples * sampleSize
	e.post <- struct{}{}
}

// Close posts the terminal sentinel (a slot left in the done state) and
// waits for the writer goroutine to exit.
func (e *Exchange) Close() {
	e.ciBuff++
	slot := e.ring[e.ciBuff%nIBuffs]
	slot.waitDone()
	e.post <- struct{}{}
	<-e.done
}

// writerLoop persists staged slots in ring order, which matches the order in
// which compute finished batches. Files on disk are therefore not sorted by
// batch number; downstream readers key on the file name instead.
func (e *Exchange) writerLoop() {
	defer close(e.done)
	clbuff := -1
	for range e.post {
		clbuff++
		slot := e.ring[clbuff%nIBuffs]
		if slot.done.Load() {
			return
		}
		if err := e.persist(slot); err != nil {
			e.metrics.StagingWritesTotal.WithLabelValues("error").Inc()
			e.logger.Error("staging write failed", "batch", slot.BatchNum, "error", err)
		} else {
			e.metrics.StagingWritesTotal.WithLabelValues("ok").Inc()
		}
		slot.done.Store(true)
	}
}

// persist writes one staging file: the partial-result pack array followed by
// CurrPtr bytes of survival samples, little-endian throughout.
func (e *Exchange) persist(slot *IBuffer) error {
	path := StagingPath(e.workspace, slot.BatchNum, e.rank)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating staging file: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriterSize(f, 1<<20)

	var pbuf [partialSize]byte
	for q := 0; q < slot.NumSpecs; q++ {
		slot.Packs[q].encode(pbuf[:])
		if _, err := w.Write(pbuf[:]); err != nil {
			return fmt.Errorf("writing partial results: %w", err)
		}
	}
	sampleBytes := make([]byte, slot.CurrPtr)
	for i := 0; i < slot.CurrPtr/sampleSize; i++ {
		binary.LittleEndian.PutUint16(sampleBytes[i*sampleSize:], slot.Ibuff[i])
	}
	if _, err := w.Write(sampleBytes); err != nil {
		return fmt.Errorf("writing survival samples: %w", err)
	}
	return w.Flush()
}

// StagingPath returns the staging file path for a batch and rank.
func StagingPath(workspace string, batchNum, rank int) string {
	return filepath.Join(workspace, fmt.Sprintf("%d_%d.dat", batchNum, rank))
}

// ReadStaging reads one staging file back into partial results and
// per-spectrum sample rows.
func ReadStaging(workspace string, batchNum, rank, numSpecs int) ([]PartialResult, [][]uint16, error) {
	path := StagingPath(workspace, batchNum, rank)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading staging file: %w", err)
	}
	want := numSpecs*partialSize + numSpecs*XSamples*sampleSize
	if len(data) < want {
		return nil, nil, fmt.Errorf("staging file %s truncated: %d < %d bytes", path, len(data), want)
	}
	packs := make([]PartialResult, numSpecs)
	for q := 0; q < numSpecs; q++ {
		packs[q] = decodePartial(data[q*partialSize:])
	}
	samples := make([][]uint16, numSpecs)
	base := numSpecs * partialSize
	for q := 0; q < numSpecs; q++ {
		row := make([]uint16, XSamples)
		off := base + q*XSamples*sampleSize
		for i := 0; i < XSamples; i++ {
			row[i] = binary.LittleEndian.Uint16(data[off+i*sampleSize:])
		}
		samples[q] = row
	}
	return packs, samples, nil
}
