package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/readlater-importer/internal/progress"
)

// PrometheusSink exports batch and item counters derived from progress events.
type PrometheusSink struct {
	batchesStarted   prometheus.Counter
	batchesCompleted *prometheus.CounterVec
	batchesRunning   prometheus.Gauge
	batchRuntime     *prometheus.HistogramVec

	items        *prometheus.CounterVec
	itemAttempts prometheus.Histogram
	itemDuration *prometheus.HistogramVec

	tracker *batchTracker
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		batchesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "import_batches_started_total",
			Help: "Import batches that started scraping.",
		}),
		batchesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "import_batches_finished_total",
			Help: "Import batches that finished, partitioned by outcome.",
		}, []string{"outcome"}),
		batchesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "import_batches_running",
			Help: "Import batches currently in flight.",
		}),
		batchRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "import_batch_runtime_seconds",
			Help:    "Wall time per finished batch.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"outcome"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "import_items_total",
			Help: "Finished URLs partitioned by result and failure reason.",
		}, []string{"result", "reason"}),
		itemAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "import_item_attempts",
			Help:    "Provider calls needed per finished URL.",
			Buckets: []float64{1, 2, 3, 4, 6, 10},
		}),
		itemDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "import_item_duration_seconds",
			Help:    "Time to finish one URL including retries.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"result"}),
		tracker: newBatchTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.batchesStarted,
		s.batchesCompleted,
		s.batchesRunning,
		s.batchRuntime,
		s.items,
		s.itemAttempts,
		s.itemDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageBatchStart:
			s.batchesStarted.Inc()
			if s.tracker.start(evt.BatchID) {
				s.batchesRunning.Inc()
			}
		case progress.StageItemDone:
			s.observeItem(evt)
		case progress.StageBatchDone:
			s.finish(evt, "completed")
		case progress.StageBatchCanceled:
			s.finish(evt, "canceled")
		}
	}
	return nil
}

func (s *PrometheusSink) observeItem(evt progress.Event) {
	reason := evt.Reason
	if reason == "" {
		reason = "none"
	}
	s.items.WithLabelValues(evt.Result, reason).Inc()
	if evt.Attempts > 0 {
		s.itemAttempts.Observe(float64(evt.Attempts))
	}
	if evt.Dur > 0 {
		s.itemDuration.WithLabelValues(evt.Result).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) finish(evt progress.Event, outcome string) {
	s.batchesCompleted.WithLabelValues(outcome).Inc()
	if evt.Dur > 0 {
		s.batchRuntime.WithLabelValues(outcome).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.BatchID) {
		s.batchesRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type batchTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newBatchTracker() *batchTracker {
	return &batchTracker{running: make(map[[16]byte]struct{})}
}

func (t *batchTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *batchTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
