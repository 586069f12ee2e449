// Package pipeline implements the three-stage concurrent search pipeline:
// I/O workers stream spectrum batches off disk into a bounded buffer pool,
// a scheduler trades CPU threads between I/O and compute based on measured
// stall penalty, and the consumer loop drives the scoring kernel over every
// ready batch.
package pipeline

import (
	"sync"

	"github.com/pcdslab/gicops/internal/msquery"
)

// ReadyLevel classifies the ready-queue depth against the pool watermarks.
type ReadyLevel int

const (
	LevelBelowLow ReadyLevel = iota
	LevelBetween
	LevelAboveHigh
)

// Pool is the bounded double-queue buffer pool. A batch is always in exactly
// one of the wait queue (empty, writer side), the ready queue (filled,
// reader side), or in flight at compute. Queue membership is itself the
// ownership lock; each queue is guarded by its own mutex and the two are
// never held simultaneously.
type Pool struct {
	waitMu sync.Mutex
	wait   []*msquery.Batch

	readyMu sync.Mutex
	ready   []*msquery.Batch

	low  int
	high int
}

// NewPool preallocates capacity batches into the wait queue.
func NewPool(capacity, low, high, qchunk int) *Pool {
	p := &Pool{
		wait:  make([]*msquery.Batch, 0, capacity),
		ready: make([]*msquery.Batch, 0, capacity),
		low:   low,
		high:  high,
	}
	for i := 0; i < capacity; i++ {
		p.wait = append(p.wait, msquery.NewBatch(qchunk, 64))
	}
	return p
}

// GetIOPtr dequeues an empty batch for an I/O worker, or nil if the wait
// queue is empty.
func (p *Pool) GetIOPtr() *msquery.Batch {
	p.waitMu.Lock()
	defer p.waitMu.Unlock()
	if len(p.wait) == 0 {
		return nil
	}
	b := p.wait[0]
	p.wait = p.wait[1:]
	return b
}

// IODone publishes a filled batch to the ready queue.
func (p *Pool) IODone(b *msquery.Batch) {
	p.readyMu.Lock()
	defer p.readyMu.Unlock()
	p.ready = append(p.ready, b)
}

// GetWorkPtr dequeues a filled batch for the consumer, or nil if the ready
// queue is empty.
func (p *Pool) GetWorkPtr() *msquery.Batch {
	p.readyMu.Lock()
	defer p.readyMu.Unlock()
	if len(p.ready) == 0 {
		return nil
	}
	b := p.ready[0]
	p.ready = p.ready[1:]
	return b
}

// Replenish returns a consumed batch to the wait queue.
func (p *Pool) Replenish(b *msquery.Batch) {
	p.waitMu.Lock()
	defer p.waitMu.Unlock()
	p.wait = append(p.wait, b)
}

// IsEmptyReadyQ reports whether the ready queue is empty.
func (p *Pool) IsEmptyReadyQ() bool {
	p.readyMu.Lock()
	defer p.readyMu.Unlock()
	return len(p.ready) == 0
}

// IsEmptyWaitQ reports whether the wait queue is empty.
func (p *Pool) IsEmptyWaitQ() bool {
	p.waitMu.Lock()
	defer p.waitMu.Unlock()
	return len(p.wait) == 0
}

// ReadyQDepth returns the current ready-queue depth.
func (p *Pool) ReadyQDepth() int {
	p.readyMu.Lock()
	defer p.readyMu.Unlock()
	return len(p.ready)
}

// ReadyQStatus classifies the ready-queue depth against the low and high
// watermarks for the scheduler.
func (p *Pool) ReadyQStatus() ReadyLevel {
	depth := p.ReadyQDepth()
	switch {
	case depth < p.low:
		return LevelBelowLow
	case depth > p.high:
		return LevelAboveHigh
	default:
		return LevelBetween
	}
}

// Drain consumes both queues until empty during shutdown.
func (p *Pool) Drain() {
	for p.GetWorkPtr() != nil {
	}
	for p.GetIOPtr() != nil {
	}
}
