// Package telemetry publishes run progress events to Kafka in batches.
// Telemetry is strictly optional: a nil Collector drops every event.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pcdslab/gicops/pkg/kafka"
)

// Collector accumulates events in memory and flushes them to Kafka either
// when the batch reaches a configurable size or after a time interval.
type Collector struct {
	producer      *kafka.Producer
	rank          int
	mu            sync.Mutex
	buffer        []kafka.Event
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	done          chan struct{}
}

// New creates a Collector that flushes when the buffer reaches batchSize
// events or after flushInterval, whichever comes first.
func New(producer *kafka.Producer, rank int, batchSize int, flushInterval time.Duration) *Collector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &Collector{
		producer:      producer,
		rank:          rank,
		buffer:        make([]kafka.Event, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "telemetry"),
		done:          make(chan struct{}),
	}
}

// Start launches the background flush loop, which runs until ctx is
// cancelled.
func (c *Collector) Start(ctx context.Context) {
	if c == nil {
		return
	}
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.flush(ctx)
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				c.flush(flushCtx)
				cancel()
				return
			}
		}
	}()
}

// TrackBatchScored records one scored batch.
func (c *Collector) TrackBatchScored(batchNum, numSpecs int, penalty float64, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.track(fmt.Sprintf("batch-%d", batchNum), map[string]any{
		"type":      "batch_scored",
		"rank":      c.rank,
		"batch":     batchNum,
		"spectra":   numSpecs,
		"penalty_s": penalty,
		"query_s":   elapsed.Seconds(),
	})
}

// TrackRunDone records the run summary.
func (c *Collector) TrackRunDone(spectra, batches int, runErr error) {
	if c == nil {
		return
	}
	status := "ok"
	if runErr != nil {
		status = runErr.Error()
	}
	c.track("run-done", map[string]any{
		"type":    "run_done",
		"rank":    c.rank,
		"spectra": spectra,
		"batches": batches,
		"status":  status,
	})
}

// Close waits for the background flush loop to finish.
func (c *Collector) Close() {
	if c == nil {
		return
	}
	<-c.done
}

func (c *Collector) track(key string, value any) {
	c.mu.Lock()
	c.buffer = append(c.buffer, kafka.Event{Key: key, Value: value})
	shouldFlush := len(c.buffer) >= c.batchSize
	c.mu.Unlock()

	if shouldFlush {
		go c.flush(context.Background())
	}
}

func (c *Collector) flush(ctx context.Context) {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = make([]kafka.Event, 0, c.batchSize)
	c.mu.Unlock()

	if err := c.producer.PublishBatch(ctx, batch); err != nil {
		// Telemetry is best-effort; dropped events never fail the run.
		c.logger.Warn("telemetry flush failed", "batch_size", len(batch), "error", err)
	}
}
