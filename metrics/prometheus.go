package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes metric names when no
// namespace is given.
const DefaultNamespace = "stencil"

// PrometheusCollector implements Collector with
// Prometheus counters and histograms.
//
// Metrics are registered on first use, so an unused
// collector leaves the registry untouched.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	stateTransitions *prometheus.CounterVec
	transferCells    *prometheus.CounterVec
	transferSeconds  *prometheus.HistogramVec
	cellsConvolved   prometheus.Counter
	runs             *prometheus.CounterVec
	runSeconds       prometheus.Histogram
}

var _ Collector = (*PrometheusCollector)(nil)

// NewPrometheus creates a collector that registers with
// reg, or prometheus.DefaultRegisterer if reg is nil.
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "worker",
			Name:      "state_transitions_total",
			Help:      "Worker lifecycle transitions by source and target state.",
		}, []string{"from", "to"})

		p.transferCells = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "transfer",
			Name:      "cells_total",
			Help:      "Cells moved by collective operation.",
		}, []string{"op"})

		p.transferSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "transfer",
			Name:      "duration_seconds",
			Help:      "Duration of collective operations in seconds.",
			Buckets:   prometheus.ExponentialBuckets(1e-4, 4, 10),
		}, []string{"op"})

		p.cellsConvolved = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "kernel",
			Name:      "cells_convolved_total",
			Help:      "Output cells produced by the convolution kernel.",
		})

		p.runs = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "worker",
			Name:      "runs_total",
			Help:      "Finished worker runs by result (success|failure).",
		}, []string{"result"})

		p.runSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "worker",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of worker runs in seconds.",
			Buckets:   prometheus.ExponentialBuckets(1e-3, 4, 10),
		})

		p.reg.MustRegister(p.stateTransitions)
		p.reg.MustRegister(p.transferCells)
		p.reg.MustRegister(p.transferSeconds)
		p.reg.MustRegister(p.cellsConvolved)
		p.reg.MustRegister(p.runs)
		p.reg.MustRegister(p.runSeconds)
	})
}

// RecordStateTransition increments the transition counter.
func (p *PrometheusCollector) RecordStateTransition(from, to string) {
	p.ensureRegistered()
	p.stateTransitions.WithLabelValues(from, to).Inc()
}

// RecordTransfer adds the moved cells and observes the
// duration of a collective.
func (p *PrometheusCollector) RecordTransfer(op string, cells int, seconds float64) {
	p.ensureRegistered()
	p.transferCells.WithLabelValues(op).Add(float64(cells))
	p.transferSeconds.WithLabelValues(op).Observe(seconds)
}

// RecordCellsConvolved adds to the produced cell count.
func (p *PrometheusCollector) RecordCellsConvolved(cells int) {
	p.ensureRegistered()
	p.cellsConvolved.Add(float64(cells))
}

// RecordRun counts a run by outcome and observes its
// duration.
func (p *PrometheusCollector) RecordRun(success bool, seconds float64) {
	p.ensureRegistered()
	result := "failure"
	if success {
		result = "success"
	}
	p.runs.WithLabelValues(result).Inc()
	p.runSeconds.Observe(seconds)
}
