// Package metrics exposes job server activity as Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"jobdemo/internal/jobs"
	"jobdemo/internal/platform/periodic"
)

const namespace = "jobdemo"

// Metrics holds the collectors. Register them once per registry.
type Metrics struct {
	registry *prometheus.Registry

	enqueued      *prometheus.CounterVec
	finished      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	running       prometheus.Gauge
	recurringFire *prometheus.CounterVec
	periodicRuns  *prometheus.CounterVec
}

// New creates collectors on a fresh registry that also carries the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Jobs accepted into the queue.",
		}, []string{"handler"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal status.",
		}, []string{"handler", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of a job including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"handler"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_running",
			Help:      "Jobs currently executing.",
		}),
		recurringFire: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recurring_fires_total",
			Help:      "Executions enqueued by recurring registrations.",
		}, []string{"name"}),
		periodicRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintenance_runs_total",
			Help:      "Runs of internal periodic tasks.",
		}, []string{"task", "result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.enqueued, m.finished, m.duration, m.running, m.recurringFire, m.periodicRuns,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveQueue registers gauges that read queue depth and capacity on scrape.
func (m *Metrics) ObserveQueue(length, capacity func() int) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Jobs waiting for a worker.",
		}, func() float64 { return float64(length()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_capacity",
			Help:      "Maximum number of queued jobs.",
		}, func() float64 { return float64(capacity()) }),
	)
}

// JobHooks returns hooks that feed the job collectors.
func (m *Metrics) JobHooks() jobs.Hooks {
	return jobs.Hooks{
		OnEnqueue: func(job jobs.Job) {
			m.enqueued.WithLabelValues(job.Handler).Inc()
		},
		OnStart: func(jobs.Job) {
			m.running.Inc()
		},
		OnFinish: func(job jobs.Job, d time.Duration, _ error) {
			m.running.Dec()
			m.finished.WithLabelValues(job.Handler, string(job.Status)).Inc()
			m.duration.WithLabelValues(job.Handler).Observe(d.Seconds())
		},
		OnRecurringFire: func(rj jobs.RecurringJob) {
			m.recurringFire.WithLabelValues(rj.Name).Inc()
		},
	}
}

// PeriodicHooks returns hooks that count maintenance task runs.
func (m *Metrics) PeriodicHooks() periodic.Hooks {
	return periodic.Hooks{
		OnFinish: func(name string, _ time.Duration, err error) {
			result := "ok"
			if err != nil {
				result = "error"
			}
			m.periodicRuns.WithLabelValues(name, result).Inc()
		},
	}
}
