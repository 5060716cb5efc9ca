// Package metrics owns the Prometheus collectors of both binaries. Each binary
// builds one Metrics value and hands it to the components it runs; a nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "actionrunner"

type Metrics struct {
	registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	executions        *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	artifacts         prometheus.Counter

	notifications *prometheus.CounterVec

	feedUpdates *prometheus.CounterVec
	feedEntries prometheus.Gauge
	feedViewers prometheus.Gauge
}

// New registers every collector on a private registry together with the
// process and Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"method", "path"}),

		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executions",
			Name:      "total",
			Help:      "Snippet executions by outcome.",
		}, []string{"outcome"}),
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executions",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of snippet executions.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"outcome"}),
		artifacts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "artifacts_total",
			Help:      "Files and directories moved to the public store.",
		}),

		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "updates_total",
			Help:      "Monitor updates by delivery outcome (sent, failed, dropped).",
		}, []string{"outcome"}),

		feedUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "updates_total",
			Help:      "Feed updates by result (applied, stale, rejected).",
		}, []string{"result"}),
		feedEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "entries",
			Help:      "Executions currently held by the feed buffer.",
		}),
		feedViewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "viewers",
			Help:      "Connected dashboard viewers.",
		}),
	}

	m.registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.executions,
		m.executionDuration,
		m.artifacts,
		m.notifications,
		m.feedUpdates,
		m.feedEntries,
		m.feedViewers,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RequestStarted() {
	if m == nil {
		return
	}
	m.httpInFlight.Inc()
}

// RequestFinished records one completed HTTP request. path should be a route
// pattern, not the raw URL, to keep label cardinality bounded.
func (m *Metrics) RequestFinished(method, path, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpInFlight.Dec()
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// ExecutionFinished records a snippet run. outcome is success, failure or error.
func (m *Metrics) ExecutionFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	if d <= 0 {
		d = time.Millisecond
	}
	m.executions.WithLabelValues(outcome).Inc()
	m.executionDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) ArtifactsPublished(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.artifacts.Add(float64(n))
}

func (m *Metrics) Notification(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) FeedUpdate(result string, entries int) {
	if m == nil {
		return
	}
	m.feedUpdates.WithLabelValues(result).Inc()
	m.feedEntries.Set(float64(entries))
}

func (m *Metrics) ViewerConnected() {
	if m == nil {
		return
	}
	m.feedViewers.Inc()
}

func (m *Metrics) ViewerDisconnected() {
	if m == nil {
		return
	}
	m.feedViewers.Dec()
}

// WatchIdleContainers exports the warm container count reported by idle.
func (m *Metrics) WatchIdleContainers(idle func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "executor",
		Name:      "idle_containers",
		Help:      "Warm containers waiting for a snippet.",
	}, func() float64 { return float64(idle()) }))
}
