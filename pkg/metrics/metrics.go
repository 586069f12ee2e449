// Package metrics defines the Prometheus metric collectors used across the
// engine and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the search pipeline.
type Metrics struct {
	BatchesExtracted   prometheus.Counter
	BatchesScored      prometheus.Counter
	SpectraScored      prometheus.Counter
	PSMsReported       prometheus.Counter
	CandidatesTotal    prometheus.Counter
	ReadyQueueDepth    prometheus.Gauge
	ActiveIOThreads    prometheus.Gauge
	ConsumerStall      prometheus.Counter
	KernelLatency      prometheus.Histogram
	ExtractLatency     prometheus.Histogram
	StagingWritesTotal *prometheus.CounterVec
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		BatchesExtracted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "spectra_batches_extracted_total",
				Help: "Total spectrum batches extracted from query files.",
			},
		),
		BatchesScored: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "spectra_batches_scored_total",
				Help: "Total spectrum batches consumed by the scoring kernel.",
			},
		),
		SpectraScored: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "spectra_scored_total",
				Help: "Total experimental spectra scored.",
			},
		),
		PSMsReported: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "psms_reported_total",
				Help: "Total PSMs written to the output sink.",
			},
		),
		CandidatesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "candidate_psms_total",
				Help: "Total candidate PSMs that passed the shared-peaks filter.",
			},
		),
		ReadyQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ready_queue_depth",
				Help: "Number of filled batches waiting for the scoring kernel.",
			},
		),
		ActiveIOThreads: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_io_threads",
				Help: "Number of worker threads currently assigned to I/O.",
			},
		),
		ConsumerStall: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "consumer_stall_seconds_total",
				Help: "Total wall-clock seconds the consumer spent blocked on an empty ready queue.",
			},
		),
		KernelLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kernel_batch_seconds",
				Help:    "Scoring kernel latency per batch in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		ExtractLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "extract_batch_seconds",
				Help:    "Query-file batch extraction latency in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
		),
		StagingWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "staging_writes_total",
				Help: "Total staging-buffer persists by status.",
			},
			[]string{"status"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "query_metadata_cache_hits_total",
				Help: "Total query-file metadata cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "query_metadata_cache_misses_total",
				Help: "Total query-file metadata cache misses.",
			},
		),
	}

	prometheus.MustRegister(
		m.BatchesExtracted,
		m.BatchesScored,
		m.SpectraScored,
		m.PSMsReported,
		m.CandidatesTotal,
		m.ReadyQueueDepth,
		m.ActiveIOThreads,
		m.ConsumerStall,
		m.KernelLatency,
		m.ExtractLatency,
		m.StagingWritesTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)

	return m
}

// Nop creates an unregistered Metrics for tests and for runs with metrics
// disabled.
func Nop() *Metrics {
	return &Metrics{
		BatchesExtracted:   prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_batches_extracted"}),
		BatchesScored:      prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_batches_scored"}),
		SpectraScored:      prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_spectra_scored"}),
		PSMsReported:       prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_psms_reported"}),
		CandidatesTotal:    prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_candidates"}),
		ReadyQueueDepth:    prometheus.NewGauge(prometheus.GaugeOpts{Name: "nop_ready_queue_depth"}),
		ActiveIOThreads:    prometheus.NewGauge(prometheus.GaugeOpts{Name: "nop_active_io_threads"}),
		ConsumerStall:      prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_consumer_stall"}),
		KernelLatency:      prometheus.NewHistogram(prometheus.HistogramOpts{Name: "nop_kernel_latency"}),
		ExtractLatency:     prometheus.NewHistogram(prometheus.HistogramOpts{Name: "nop_extract_latency"}),
		StagingWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "nop_staging_writes"}, []string{"status"}),
		CacheHitsTotal:     prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_cache_hits"}),
		CacheMissesTotal:   prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_cache_misses"}),
	}
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
