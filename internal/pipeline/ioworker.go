package pipeline

import (
	"time"

	"github.com/pcdslab/gicops/internal/exchange"
)

// parked holds the I/O state of a preempted worker: the file it was reading
// and the extraction cursor, queued for another worker to resume.
type parked struct {
	query     queryFile
	remaining int
}

// ioWorker is the entry function of one I/O worker goroutine. It pulls query
// files, extracts fixed-size batches into wait buffers, and publishes them
// ready. On scheduler preempt (or wait-queue exhaustion) it parks its file
// and yields the thread back to compute.
func (m *Manager) ioWorker() {
	defer m.sched.TakeControl()

	var query queryFile
	remaining := 0
	eSignal := false

	for {
		if query == nil {
			m.parkMu.Lock()
			if len(m.parkQ) > 0 {
				p := m.parkQ[0]
				m.parkQ = m.parkQ[1:]
				query = p.query
				remaining = p.remaining
			}
			m.parkMu.Unlock()
		}
		if query == nil {
			m.qfMu.Lock()
			if len(m.fileQ) > 0 {
				query = m.fileQ[0]
				m.fileQ = m.fileQ[1:]
				remaining = query.Count()
			} else {
				eSignal = true
			}
			m.qfMu.Unlock()
		}
		if eSignal {
			m.sched.IOComplete()
			return
		}
		if remaining < 1 {
			// A file whose pre-scan accepted nothing owns no batch numbers.
			query.Deinit()
			query = nil
			continue
		}

		if m.sched.CheckPreempt() || m.pool.IsEmptyWaitQ() {
			m.parkMu.Lock()
			m.parkQ = append(m.parkQ, parked{query: query, remaining: remaining})
			m.parkMu.Unlock()
			return
		}

		buf := m.pool.GetIOPtr()
		if buf == nil {
			// Lost the race for the last wait buffer; park and yield.
			m.parkMu.Lock()
			m.parkQ = append(m.parkQ, parked{query: query, remaining: remaining})
			m.parkMu.Unlock()
			return
		}
		buf.Reset()

		start := time.Now()
		if err := query.ExtractChunk(buf, &remaining); err != nil {
			// A broken file is fatal for that file only: surface it and move
			// to the next one.
			m.logger.Error("batch extraction failed", "file", query.Path(), "error", err)
			m.pool.Replenish(buf)
			query.Deinit()
			query = nil
			continue
		}
		buf.BatchNum = query.NextChunk()
		m.metrics.ExtractLatency.Observe(time.Since(start).Seconds())

		if m.exch != nil {
			m.exch.AddBatch(exchange.BatchInfo{
				BatchNum:  buf.BatchNum,
				NumSpecs:  buf.NumSpecs,
				FileIndex: buf.FileIndex,
			})
		}

		m.pool.IODone(buf)
		m.metrics.BatchesExtracted.Inc()
		m.metrics.ReadyQueueDepth.Set(float64(m.pool.ReadyQDepth()))

		if !m.cfg.Pipeline.NoProgress {
			m.logger.Info("extracted spectra",
				"file", query.Path(),
				"batch", buf.BatchNum,
				"spectra", buf.NumSpecs,
				"remaining", remaining,
			)
		}

		if remaining < 1 {
			if err := query.Deinit(); err != nil {
				m.logger.Warn("closing query file", "file", query.Path(), "error", err)
			}
			query = nil
		}
	}
}
