package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/policy-crawler/internal/progress"
)

// PrometheusSink exports crawl progress via Prometheus collectors: run
// lifecycle, per-source page outcomes, discovered and enriched records, and
// reported errors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    prometheus.Histogram

	pages           *prometheus.CounterVec
	recordsFound    *prometheus.CounterVec
	sourcesDone     *prometheus.CounterVec
	recordsEnriched prometheus.Counter
	attachments     prometheus.Counter
	errors          *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "policy_crawler_runs_started_total",
			Help: "Total crawl runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "policy_crawler_runs_completed_total",
			Help: "Total crawl runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "policy_crawler_runs_running",
			Help: "Current number of running crawl runs.",
		}),
		runRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "policy_crawler_run_runtime_seconds",
			Help:    "Wall time per completed crawl run.",
			Buckets: []float64{10, 30, 60, 300, 900, 1800, 3600, 7200, 14400},
		}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "policy_crawler_listing_pages_total",
			Help: "Listing pages processed partitioned by source and outcome (records, duplicate, empty).",
		}, []string{"source", "outcome"}),
		recordsFound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "policy_crawler_records_found_total",
			Help: "Records newly accepted by per-source dedup.",
		}, []string{"source"}),
		sourcesDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "policy_crawler_sources_done_total",
			Help: "Data sources finished partitioned by stop reason.",
		}, []string{"source", "reason"}),
		recordsEnriched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "policy_crawler_records_enriched_total",
			Help: "Records enriched from their detail page and handed to sinks.",
		}),
		attachments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "policy_crawler_attachments_found_total",
			Help: "Attachment links discovered on detail pages.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "policy_crawler_errors_total",
			Help: "Errors reported through the progress stream partitioned by source.",
		}, []string{"source"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.pages,
		s.recordsFound,
		s.sourcesDone,
		s.recordsEnriched,
		s.attachments,
		s.errors,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone:
		result := "success"
		if evt.Reason != "" {
			result = evt.Reason
		}
		s.runsCompleted.WithLabelValues(result).Inc()
		if evt.Dur > 0 {
			s.runRuntime.Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.RunID) {
			s.runsRunning.Dec()
		}
	case progress.StagePageDone:
		s.pages.WithLabelValues(evt.Source, pageOutcome(evt)).Inc()
	case progress.StageRecordFound:
		s.recordsFound.WithLabelValues(evt.Source).Inc()
	case progress.StageSourceDone:
		s.sourcesDone.WithLabelValues(evt.Source, evt.Reason).Inc()
	case progress.StageRecordEnriched:
		s.recordsEnriched.Inc()
		if evt.Attachments > 0 {
			s.attachments.Add(float64(evt.Attachments))
		}
	case progress.StageError:
		source := evt.Source
		if source == "" {
			source = "run"
		}
		s.errors.WithLabelValues(source).Inc()
	}
}

func pageOutcome(evt progress.Event) string {
	switch {
	case evt.NewRecords > 0:
		return "records"
	case evt.Records > 0:
		return "duplicate"
	default:
		return "empty"
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
