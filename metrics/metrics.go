// Package metrics exposes Prometheus collectors for the bit store and its
// HTTP surface.
//
// Collectors are registered on the Registerer passed to New, so tests can use
// a private prometheus.NewRegistry() and run in parallel.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace      = "bitflip"
	storeSubsystem = "store"
	httpSubsystem  = "http"
)

// Operation labels
const (
	OpFlip     = "flip"
	OpFlipBits = "flip_bits"
	OpSnapshot = "snapshot"
)

// Result labels
const (
	ResultOK          = "ok"
	ResultOutOfBounds = "out_of_bounds"
	ResultInvalid     = "invalid"
)

// Metrics holds all collectors. All methods are safe for concurrent use.
type Metrics struct {
	reg prometheus.Registerer

	// OperationsTotal counts store operations.
	// Labels: op (flip, flip_bits, snapshot), result (ok, out_of_bounds, invalid)
	OperationsTotal *prometheus.CounterVec

	// BitsFlippedTotal counts individual bit toggles applied.
	BitsFlippedTotal prometheus.Counter

	// BatchSize observes the number of indices per accepted flip_bits call.
	BatchSize prometheus.Histogram

	// OperationDuration observes store call latency, encoding excluded.
	// Labels: op
	OperationDuration *prometheus.HistogramVec

	// RateLimitedTotal counts requests rejected by the rate limiter.
	RateLimitedTotal prometheus.Counter
}

// New creates the collectors and registers them on reg.
// It panics on duplicate registration, like promauto.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reg: reg,
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: storeSubsystem,
				Name:      "operations_total",
				Help:      "Total bit store operations by operation and result",
			},
			[]string{"op", "result"},
		),
		BitsFlippedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: storeSubsystem,
				Name:      "bits_flipped_total",
				Help:      "Total individual bit toggles applied",
			},
		),
		BatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: storeSubsystem,
				Name:      "batch_size",
				Help:      "Indices per accepted batch flip",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
			},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: storeSubsystem,
				Name:      "operation_duration_seconds",
				Help:      "Bit store operation latency in seconds",
				Buckets:   []float64{0.00001, 0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"op"},
		),
		RateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: httpSubsystem,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the rate limiter",
			},
		),
	}

	reg.MustRegister(
		m.OperationsTotal,
		m.BitsFlippedTotal,
		m.BatchSize,
		m.OperationDuration,
		m.RateLimitedTotal,
	)
	return m
}

// RegisterSetBits exposes the number of set bits, computed at scrape time.
func (m *Metrics) RegisterSetBits(count func() float64) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: storeSubsystem,
			Name:      "set_bits",
			Help:      "Number of bits currently set",
		},
		count,
	))
}

// RecordFlip records a single-bit flip.
func (m *Metrics) RecordFlip(result string, took time.Duration) {
	m.OperationsTotal.WithLabelValues(OpFlip, result).Inc()
	m.OperationDuration.WithLabelValues(OpFlip).Observe(took.Seconds())
	if result == ResultOK {
		m.BitsFlippedTotal.Inc()
	}
}

// RecordBatch records a batch flip of n indices.
func (m *Metrics) RecordBatch(result string, n int, took time.Duration) {
	m.OperationsTotal.WithLabelValues(OpFlipBits, result).Inc()
	if result != ResultOK {
		return
	}
	m.OperationDuration.WithLabelValues(OpFlipBits).Observe(took.Seconds())
	m.BatchSize.Observe(float64(n))
	m.BitsFlippedTotal.Add(float64(n))
}

// RecordSnapshot records a snapshot read.
func (m *Metrics) RecordSnapshot(result string, took time.Duration) {
	m.OperationsTotal.WithLabelValues(OpSnapshot, result).Inc()
	if result == ResultOK {
		m.OperationDuration.WithLabelValues(OpSnapshot).Observe(took.Seconds())
	}
}

// RecordRateLimited records one rejected request.
func (m *Metrics) RecordRateLimited() {
	m.RateLimitedTotal.Inc()
}
