// Package dispatcher runs a batch of import jobs on a bounded worker pool and
// exposes their outcomes as a pull-based progress stream.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/readlater-importer/internal/clock/system"
	"github.com/JakeFAU/readlater-importer/internal/importer"
	"github.com/JakeFAU/readlater-importer/internal/metrics"
	"github.com/JakeFAU/readlater-importer/internal/progress"
	"github.com/JakeFAU/readlater-importer/internal/queue/memory"
)

// DefaultConcurrency is the ceiling used when none is configured.
const DefaultConcurrency = 5

// Fetcher turns a job into a total outcome. scrape.Adapter satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, job importer.ImportJob) importer.Outcome
}

// Config controls one dispatched batch.
type Config struct {
	// Concurrency caps simultaneous Fetch calls. Zero means DefaultConcurrency.
	Concurrency int
	// BatchID tags observability events.
	BatchID uuid.UUID
	Emitter progress.Emitter
	Clock   importer.Clock
	Logger  *zap.Logger
}

// Start schedules one job per URL and returns the stream of their events.
// urls must already be normalized and deduplicated. Work begins immediately
// and stops when ctx ends or the stream is closed.
func Start(ctx context.Context, fetcher Fetcher, urls []string, cfg Config) *Stream {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Emitter == nil {
		cfg.Emitter = progress.Discard
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	batchCtx, cancel := context.WithCancelCause(ctx)
	s := newStream(batchCtx, cancel, len(urls))
	d := &dispatch{
		fetcher: fetcher,
		queue:   memory.Preloaded(urls),
		stream:  s,
		batchID: progress.UUIDToBytes(cfg.BatchID),
		emitter: cfg.Emitter,
		clock:   cfg.Clock,
		logger:  cfg.Logger.Named("dispatcher").With(zap.String("batch_id", cfg.BatchID.String())),
		started: cfg.Clock.Now(),
	}

	workers := cfg.Concurrency
	if workers > len(urls) {
		workers = len(urls)
	}
	d.logger.Info("batch started", zap.Int("total", len(urls)), zap.Int("workers", workers))
	d.emit(progress.Event{Stage: progress.StageBatchStart, Total: len(urls)})

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.work(batchCtx)
		}()
	}
	go func() {
		wg.Wait()
		d.finish(batchCtx)
		close(s.done)
	}()
	return s
}

type dispatch struct {
	fetcher Fetcher
	queue   *memory.Queue
	stream  *Stream
	batchID [16]byte
	emitter progress.Emitter
	clock   importer.Clock
	logger  *zap.Logger
	started time.Time
}

func (d *dispatch) work(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := d.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		metrics.IncActiveWorkers()
		outcome := d.fetcher.Fetch(ctx, job)
		metrics.DecActiveWorkers()
		if ctx.Err() != nil {
			d.logger.Debug("discarding outcome after cancellation", zap.String("url", job.URL))
			return
		}
		d.record(outcome)
	}
}

// record publishes the outcome. The counter increment and the hand-off happen
// under one lock so events leave in counter order.
func (d *dispatch) record(outcome importer.Outcome) {
	s := d.stream
	s.mu.Lock()
	s.completed++
	evt := importer.NewProgressEvent(outcome, s.completed, s.total)
	if evt.Status == importer.StatusSuccess {
		s.succeeded++
	} else {
		s.failed++
	}
	s.events <- evt
	counts := progress.Event{
		Stage:     progress.StageItemDone,
		URL:       evt.URL,
		Site:      metrics.SanitizeSite(evt.URL),
		Result:    string(evt.Status),
		Reason:    string(evt.Reason),
		Attempts:  evt.Attempts,
		Total:     s.total,
		Completed: s.completed,
		Succeeded: s.succeeded,
		Failed:    s.failed,
		Dur:       outcome.Elapsed,
		Note:      evt.Message,
	}
	s.mu.Unlock()
	d.emit(counts)
}

func (d *dispatch) finish(ctx context.Context) {
	s := d.stream
	s.mu.Lock()
	completed, succeeded, failed := s.completed, s.succeeded, s.failed
	s.mu.Unlock()

	evt := progress.Event{
		Stage:     progress.StageBatchDone,
		Total:     s.total,
		Completed: completed,
		Succeeded: succeeded,
		Failed:    failed,
		Dur:       d.clock.Now().Sub(d.started),
	}
	if completed < s.total {
		evt.Stage = progress.StageBatchCanceled
		if cause := context.Cause(ctx); cause != nil {
			evt.Note = cause.Error()
		}
		d.logger.Warn("batch canceled", zap.Int("completed", completed), zap.Int("total", s.total))
	} else {
		d.logger.Info("batch finished", zap.Int("succeeded", succeeded), zap.Int("failed", failed))
	}
	if evt.Dur < 0 {
		evt.Dur = 0
	}
	d.emit(evt)
}

func (d *dispatch) emit(evt progress.Event) {
	evt.BatchID = d.batchID
	evt.TS = d.clock.Now().UTC()
	d.emitter.Emit(evt)
}
