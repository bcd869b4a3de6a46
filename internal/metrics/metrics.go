// Package metrics holds the Prometheus collectors of the draw engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests and embedded engines never
// collide on the global one.
type Metrics struct {
	Registry *prometheus.Registry

	Executions        *prometheus.CounterVec
	ExecutionFailures *prometheus.CounterVec
	Replacements      *prometheus.CounterVec
	NoBackup          prometheus.Counter
	LockConflicts     prometheus.Counter
	PoolSize          prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "expertdraw_executions_total",
			Help: "Successful draw executions by method.",
		}, []string{"method"}),
		ExecutionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "expertdraw_execution_failures_total",
			Help: "Failed draw executions by reason.",
		}, []string{"reason"}),
		Replacements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "expertdraw_replacements_total",
			Help: "Backup promotions by mode (manual or auto).",
		}, []string{"mode"}),
		NoBackup: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "expertdraw_no_backup_total",
			Help: "Unavailable primaries left unfilled because no backup remained.",
		}),
		LockConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "expertdraw_lock_conflicts_total",
			Help: "Mutations rejected because a draw stayed busy or changed underneath.",
		}),
		PoolSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "expertdraw_selection_pool_size",
			Help:    "Eligible pool size after exclusions.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
	m.Registry.MustRegister(
		m.Executions, m.ExecutionFailures, m.Replacements, m.NoBackup, m.LockConflicts, m.PoolSize,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// The recorders below accept a nil receiver so an engine without metrics
// needs no guards.

func (m *Metrics) ExecutionSucceeded(method string, pool int) {
	if m == nil {
		return
	}
	m.Executions.WithLabelValues(method).Inc()
	m.PoolSize.Observe(float64(pool))
}

func (m *Metrics) ExecutionFailed(reason string) {
	if m == nil {
		return
	}
	m.ExecutionFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) Replaced(mode string) {
	if m == nil {
		return
	}
	m.Replacements.WithLabelValues(mode).Inc()
}

func (m *Metrics) NoBackupAvailable() {
	if m == nil {
		return
	}
	m.NoBackup.Inc()
}

func (m *Metrics) LockConflict() {
	if m == nil {
		return
	}
	m.LockConflicts.Inc()
}
