package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/crawl-supervisor/internal/progress"
)

// PrometheusSink exports crawl progress via Prometheus: runs started,
// finished and in flight, plus per-site page, asset and error counters.
type PrometheusSink struct {
	runsStarted  prometheus.Counter
	runsFinished *prometheus.CounterVec
	runsRunning  prometheus.Gauge
	runDuration  *prometheus.HistogramVec

	pagesFetched   *prometheus.CounterVec
	pagesCompleted *prometheus.CounterVec
	pageDuration   *prometheus.HistogramVec
	assets         *prometheus.CounterVec
	assetBytes     *prometheus.CounterVec
	workerErrors   *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawl_runs_started_total",
			Help: "Total worker runs that have started.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_runs_finished_total",
			Help: "Total worker runs finished partitioned by outcome.",
		}, []string{"outcome"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawl_runs_running",
			Help: "Worker runs currently in flight.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawl_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{10, 30, 60, 300, 600, 1800, 3600, 7200, 14400},
		}, []string{"outcome"}),
		pagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_pages_fetched_total",
			Help: "Pages the worker started fetching, per site.",
		}, []string{"site"}),
		pagesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_pages_completed_total",
			Help: "Pages the worker finished, per site.",
		}, []string{"site"}),
		pageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawl_page_duration_seconds",
			Help:    "Worker-reported processing time per page.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"site"}),
		assets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_assets_total",
			Help: "Assets processed partitioned by site and cache status.",
		}, []string{"site", "status"}),
		assetBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_asset_bytes_total",
			Help: "Asset bytes reported by the worker, per site.",
		}, []string{"site"}),
		workerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_worker_errors_total",
			Help: "Error lines emitted by the worker, per site.",
		}, []string{"site"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsFinished,
		s.runsRunning,
		s.runDuration,
		s.pagesFetched,
		s.pagesCompleted,
		s.pageDuration,
		s.assets,
		s.assetBytes,
		s.workerErrors,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. It is safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "all"
	}
	switch evt.Kind {
	case progress.KindRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt) {
			s.runsRunning.Inc()
		}
	case progress.KindRunExit:
		s.runsFinished.WithLabelValues(evt.Status).Inc()
		if started, ok := s.tracker.complete(evt.RunID); ok {
			s.runsRunning.Dec()
			if d := evt.TS.Sub(started); d > 0 {
				s.runDuration.WithLabelValues(evt.Status).Observe(d.Seconds())
			}
		}
	case progress.KindPageFetch:
		s.pagesFetched.WithLabelValues(site).Inc()
	case progress.KindPageComplete:
		s.pagesCompleted.WithLabelValues(site).Inc()
		if evt.Dur > 0 {
			s.pageDuration.WithLabelValues(site).Observe(evt.Dur.Seconds())
		}
	case progress.KindAssetProcessed:
		s.assets.WithLabelValues(site, evt.Status).Inc()
		if evt.Bytes > 0 {
			s.assetBytes.WithLabelValues(site).Add(float64(evt.Bytes))
		}
	case progress.KindError:
		s.workerErrors.WithLabelValues(site).Inc()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]progress.Event
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]progress.Event)}
}

func (t *runTracker) start(evt progress.Event) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[evt.RunID]; ok {
		return false
	}
	t.running[evt.RunID] = evt
	return true
}

func (t *runTracker) complete(id [16]byte) (startedAt time.Time, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	evt, ok := t.running[id]
	if !ok {
		return time.Time{}, false
	}
	delete(t.running, id)
	return evt.TS, true
}
