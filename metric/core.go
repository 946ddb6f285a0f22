// Package metric provides Prometheus-based metrics collection and an HTTP
// endpoint for pipeline observability.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all pipeline-level metrics (not phase-internal ones;
// worker pools register their own against the same registry)
type Metrics struct {
	// Input scale
	SupervoxelsTotal  prometheus.Gauge
	ContactEdgesTotal prometheus.Gauge

	// Phase progress
	PhaseDuration *prometheus.HistogramVec
	PhaseStatus   *prometheus.GaugeVec

	// Agglomeration
	ObjectsTotal    prometheus.Gauge
	OversizeObjects prometheus.Gauge

	// Classification
	ClassifierCalls        *prometheus.CounterVec
	ClassifierSoftFailures *prometheus.CounterVec

	// Glia splitting
	SplitRounds       prometheus.Counter
	ObjectsSplit      prometheus.Counter
	UnresolvedObjects prometheus.Gauge

	// Connectivity
	ConnectivityEdges   prometheus.Gauge
	SynapsesAccumulated prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all pipeline metrics
func NewMetrics() *Metrics {
	return &Metrics{
		SupervoxelsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "syconn",
			Subsystem: "input",
			Name:      "supervoxels_total",
			Help:      "Number of registered supervoxels",
		}),
		ContactEdgesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "syconn",
			Subsystem: "input",
			Name:      "contact_edges_total",
			Help:      "Number of merged contact edges",
		}),

		PhaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "syconn",
				Subsystem: "pipeline",
				Name:      "phase_duration_seconds",
				Help:      "Wall time per pipeline phase",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 1200, 3600},
			},
			[]string{"phase"},
		),
		PhaseStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "syconn",
				Subsystem: "pipeline",
				Name:      "phase_status",
				Help:      "Phase status (0=pending, 1=running, 2=done, 3=failed)",
			},
			[]string{"phase"},
		),

		ObjectsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "syconn",
			Subsystem: "agglomeration",
			Name:      "objects_total",
			Help:      "Number of agglomerated objects in the current partition",
		}),
		OversizeObjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "syconn",
			Subsystem: "agglomeration",
			Name:      "oversize_objects",
			Help:      "Objects flagged above max_object_size",
		}),

		ClassifierCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "syconn",
				Subsystem: "classification",
				Name:      "calls_total",
				Help:      "Classifier collaborator invocations",
			},
			[]string{"source"},
		),
		ClassifierSoftFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "syconn",
				Subsystem: "classification",
				Name:      "soft_failures_total",
				Help:      "Classifier invocations recovered as neutral labels",
			},
			[]string{"source"},
		),

		SplitRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syconn",
			Subsystem: "glia",
			Name:      "split_rounds_total",
			Help:      "Glia splitting rounds executed",
		}),
		ObjectsSplit: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syconn",
			Subsystem: "glia",
			Name:      "objects_split_total",
			Help:      "Objects replaced by sub-objects during splitting",
		}),
		UnresolvedObjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "syconn",
			Subsystem: "glia",
			Name:      "unresolved_objects",
			Help:      "Objects still unstable when the split cap was reached",
		}),

		ConnectivityEdges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "syconn",
			Subsystem: "connectivity",
			Name:      "edges_total",
			Help:      "Directed connectivity edges emitted",
		}),
		SynapsesAccumulated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syconn",
			Subsystem: "connectivity",
			Name:      "synapses_accumulated_total",
			Help:      "Synapses accumulated into connectivity edges",
		}),
	}
}

// ObservePhase records a phase duration
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	m.PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// SetPhaseStatus records a phase status transition
func (m *Metrics) SetPhaseStatus(phase string, status float64) {
	m.PhaseStatus.WithLabelValues(phase).Set(status)
}

// collectors returns all core metrics for registration
func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.SupervoxelsTotal,
		m.ContactEdgesTotal,
		m.PhaseDuration,
		m.PhaseStatus,
		m.ObjectsTotal,
		m.OversizeObjects,
		m.ClassifierCalls,
		m.ClassifierSoftFailures,
		m.SplitRounds,
		m.ObjectsSplit,
		m.UnresolvedObjects,
		m.ConnectivityEdges,
		m.SynapsesAccumulated,
	}
}
