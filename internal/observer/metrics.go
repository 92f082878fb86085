package observer

import (
	"net/http"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aristath/sweeprun/internal/resource"
	"github.com/aristath/sweeprun/internal/scheduler"
)

// Metrics exports task and pool activity as Prometheus metrics on its own
// registry.
type Metrics struct {
	Base
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	running     prometheus.Gauge
	duration    *prometheus.HistogramVec
	allocated   *prometheus.GaugeVec
	capacity    *prometheus.GaugeVec
}

// NewMetrics creates the metrics observer and registers its collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sweeprun",
			Name:      "task_transitions_total",
			Help:      "Task state transitions by resulting state.",
		}, []string{"state"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sweeprun",
			Name:      "tasks_running",
			Help:      "Tasks whose process is currently running.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sweeprun",
			Name:      "task_duration_seconds",
			Help:      "Wall time of finished task processes by program.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
		}, []string{"program", "state"}),
		allocated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sweeprun",
			Name:      "resource_allocated",
			Help:      "Currently reserved quantity of each pool resource.",
		}, []string{"resource"}),
		capacity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sweeprun",
			Name:      "resource_capacity",
			Help:      "Total capacity of each pool resource.",
		}, []string{"resource"}),
	}
	m.registry.MustRegister(m.transitions, m.running, m.duration, m.allocated, m.capacity)
	return m
}

// Registry returns the registry holding the observer's collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WatchPool mirrors the pool's allocation into the resource gauges.
func (m *Metrics) WatchPool(pool *resource.Pool) {
	for name, c := range pool.Capacities() {
		m.capacity.WithLabelValues(name).Set(c)
		m.allocated.WithLabelValues(name).Set(0)
	}
	pool.OnChange(func(name string, allocated, capacity float64) {
		m.allocated.WithLabelValues(name).Set(allocated)
	})
}

func (m *Metrics) OnStart(task *scheduler.Task) error {
	m.transitions.WithLabelValues(scheduler.TaskRunning.String()).Inc()
	m.running.Inc()
	return nil
}

func (m *Metrics) OnSkip(task *scheduler.Task) error {
	m.transitions.WithLabelValues(scheduler.TaskSkipped.String()).Inc()
	return nil
}

func (m *Metrics) OnSuccess(task *scheduler.Task) error {
	m.finished(task)
	return nil
}

func (m *Metrics) OnFailure(task *scheduler.Task) error {
	m.finished(task)
	return nil
}

func (m *Metrics) OnCancel(task *scheduler.Task) error {
	if task.StartedAt.IsZero() {
		m.transitions.WithLabelValues(task.State.String()).Inc()
		return nil
	}
	m.finished(task)
	return nil
}

func (m *Metrics) finished(task *scheduler.Task) {
	m.transitions.WithLabelValues(task.State.String()).Inc()
	m.running.Dec()
	m.duration.WithLabelValues(filepath.Base(task.Command.Program), task.State.String()).Observe(task.Duration.Seconds())
}
