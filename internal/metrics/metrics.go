// Package metrics exposes Prometheus collectors for the supervisor service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	supervisorState            *prometheus.GaugeVec
	streamClients              prometheus.Gauge
	pageChangesTotal           *prometheus.CounterVec
	scheduledRunsTotal         *prometheus.CounterVec
	hubEventsDropped           prometheus.Gauge

	stateMu sync.Mutex
	once    sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		supervisorState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crawl_supervisor_state",
				Help: "Current supervisor state; the active state reports 1.",
			},
			[]string{"state"},
		)

		streamClients = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawl_status_stream_clients",
				Help: "Number of connected status stream clients.",
			},
		)

		pageChangesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_page_changes_total",
				Help: "Pages observed by the change detector, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		scheduledRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_scheduled_runs_total",
				Help: "Scheduled crawl attempts, labeled by result.",
			},
			[]string{"result"},
		)

		hubEventsDropped = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawl_progress_events_dropped",
				Help: "Progress events dropped because the hub buffer was full.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SetSupervisorState marks state as the current one and clears the others.
func SetSupervisorState(state string) {
	stateMu.Lock()
	defer stateMu.Unlock()
	supervisorState.Reset()
	supervisorState.WithLabelValues(state).Set(1)
}

// SetStreamClients records the number of connected stream clients.
func SetStreamClients(n int) {
	streamClients.Set(float64(n))
}

// ObservePageChange counts one change-detector outcome (changed, unchanged, new).
func ObservePageChange(outcome string) {
	pageChangesTotal.WithLabelValues(outcome).Inc()
}

// ObserveScheduledRun counts one scheduled attempt (started, skipped, failed).
func ObserveScheduledRun(result string) {
	scheduledRunsTotal.WithLabelValues(result).Inc()
}

// SetEventsDropped records the hub's cumulative drop count.
func SetEventsDropped(n int64) {
	hubEventsDropped.Set(float64(n))
}
