package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/becomeliminal/memento/tasks"
)

// Metrics holds the server's Prometheus collectors on a private registry, so
// several servers (and tests) can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	events        *prometheus.CounterVec
	onlineUsers   prometheus.Gauge
	taskFailures  *prometheus.CounterVec
	droppedFrames prometheus.Counter
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memento_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memento_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memento_events_total",
				Help: "Real-time events handled, by event name and outcome",
			},
			[]string{"event", "outcome"},
		),
		onlineUsers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "memento_online_users",
				Help: "Number of identities with a live connection",
			},
		),
		taskFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memento_task_failures_total",
				Help: "Best-effort background tasks that failed",
			},
			[]string{"task"},
		),
		droppedFrames: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "memento_ws_dropped_frames_total",
				Help: "Outbound frames dropped because a connection's queue was full",
			},
		),
	}

	m.registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.events,
		m.onlineUsers,
		m.taskFailures,
		m.droppedFrames,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// EventHandled implements dispatcher.Observer.
func (m *Metrics) EventHandled(event, outcome string) {
	m.events.WithLabelValues(event, outcome).Inc()
}

// SetOnline is wired to presence.Directory.OnChange.
func (m *Metrics) SetOnline(count int) {
	m.onlineUsers.Set(float64(count))
}

// TaskFailed is wired to the task runner's error handler.
func (m *Metrics) TaskFailed(f tasks.Failure) {
	m.taskFailures.WithLabelValues(f.Name).Inc()
}

// RecordHTTPRequest records one completed request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (m *Metrics) frameDropped() {
	m.droppedFrames.Inc()
}
