package gym

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Step results recorded by Metrics.
const (
	resultOngoing   = "ongoing"
	resultProved    = "proved"
	resultRejected  = "rejected"
	resultTruncated = "truncated"
	resultCached    = "cached"
)

// Reset modes recorded by Metrics.
const (
	resetFresh     = "fresh"
	resetBacktrack = "backtrack"
)

// Metrics instruments environments. A nil *Metrics records nothing, and one
// Metrics may be shared by environments driven from different goroutines.
type Metrics struct {
	steps        *prometheus.CounterVec
	resets       *prometheus.CounterVec
	stepDuration prometheus.Histogram
	archiveSize  prometheus.Gauge
}

// NewMetrics registers the environment metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leangym_steps_total",
			Help: "Steps taken, by result",
		}, []string{"result"}),
		resets: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leangym_resets_total",
			Help: "Resets, by mode",
		}, []string{"mode"}),
		stepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "leangym_step_duration_seconds",
			Help:    "Time spent waiting for the prover per step",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		}),
		archiveSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "leangym_archive_states",
			Help: "States held by the most recently updated archive",
		}),
	}
}

func (m *Metrics) observeStep(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(result).Inc()
	if result != resultCached {
		m.stepDuration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) observeReset(mode string) {
	if m == nil {
		return
	}
	m.resets.WithLabelValues(mode).Inc()
}

func (m *Metrics) setArchiveSize(n int) {
	if m == nil {
		return
	}
	m.archiveSize.Set(float64(n))
}
