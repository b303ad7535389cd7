// Package pipeline validates a submitted URL set and starts a dispatched batch
// whose events fold into the final summary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/readlater-importer/internal/aggregate"
	"github.com/JakeFAU/readlater-importer/internal/dispatcher"
	"github.com/JakeFAU/readlater-importer/internal/importer"
	"github.com/JakeFAU/readlater-importer/internal/normalize"
	"github.com/JakeFAU/readlater-importer/internal/progress"
)

// ErrBatchIncomplete is returned by Summary before the stream reports io.EOF.
var ErrBatchIncomplete = errors.New("batch summary unavailable until every event is consumed")

// Default limits.
const (
	DefaultMaxConcurrency = 20
	DefaultMaxBatchSize   = 500
)

// Config holds the pipeline limits.
type Config struct {
	// DefaultConcurrency applies when a request leaves concurrency at zero.
	DefaultConcurrency int
	MaxConcurrency     int
	MaxBatchSize       int
}

// IDGenerator issues batch IDs.
type IDGenerator interface {
	NewBatchID() (uuid.UUID, error)
}

// Options are the per-request settings.
type Options struct {
	Concurrency int
}

// Pipeline starts batches.
type Pipeline struct {
	fetcher dispatcher.Fetcher
	cfg     Config
	emitter progress.Emitter
	ids     IDGenerator
	clock   importer.Clock
	logger  *zap.Logger
}

// New builds a Pipeline. emitter, clock and logger may be nil.
func New(
	fetcher dispatcher.Fetcher,
	cfg Config,
	ids IDGenerator,
	emitter progress.Emitter,
	clock importer.Clock,
	logger *zap.Logger,
) *Pipeline {
	if cfg.DefaultConcurrency <= 0 {
		cfg.DefaultConcurrency = dispatcher.DefaultConcurrency
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.MaxConcurrency < cfg.DefaultConcurrency {
		cfg.MaxConcurrency = cfg.DefaultConcurrency
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		fetcher: fetcher,
		cfg:     cfg,
		emitter: emitter,
		ids:     ids,
		clock:   clock,
		logger:  logger.Named("pipeline"),
	}
}

// Start validates the input and begins scraping. Configuration problems are
// returned before any job runs; per-URL problems surface through the batch.
func (p *Pipeline) Start(ctx context.Context, urls []string, opts Options) (*Batch, error) {
	if countNonBlank(urls) == 0 {
		return nil, importer.ErrEmptyBatch
	}
	concurrency := opts.Concurrency
	switch {
	case concurrency == 0:
		concurrency = p.cfg.DefaultConcurrency
	case concurrency < 0 || concurrency > p.cfg.MaxConcurrency:
		return nil, fmt.Errorf("%w: %d is outside 1..%d", importer.ErrInvalidConcurrency, concurrency, p.cfg.MaxConcurrency)
	}

	norm := normalize.Normalize(urls)
	if size := len(norm.URLs) + len(norm.Rejected); size > p.cfg.MaxBatchSize {
		return nil, fmt.Errorf("%w: %d URLs, limit is %d", importer.ErrBatchTooLarge, size, p.cfg.MaxBatchSize)
	}

	id, err := p.ids.NewBatchID()
	if err != nil {
		return nil, fmt.Errorf("start batch: %w", err)
	}
	p.logger.Info("starting import batch",
		zap.String("batch_id", id.String()),
		zap.Int("urls", len(norm.URLs)),
		zap.Int("rejected", len(norm.Rejected)),
		zap.Int("concurrency", concurrency),
	)

	b := &Batch{ID: id, Rejected: norm.Rejected}
	b.agg.AddRejected(norm.Rejected...)
	b.stream = dispatcher.Start(ctx, p.fetcher, norm.URLs, dispatcher.Config{
		Concurrency: concurrency,
		BatchID:     id,
		Emitter:     p.emitter,
		Clock:       p.clock,
		Logger:      p.logger,
	})
	return b, nil
}

func countNonBlank(urls []string) int {
	n := 0
	for _, u := range urls {
		if strings.TrimSpace(u) != "" {
			n++
		}
	}
	return n
}

// Batch is a running import. Next and Summary must be called from a single
// goroutine; Close may be called from anywhere.
type Batch struct {
	ID uuid.UUID
	// Rejected lists inputs that failed normalization and were never scheduled.
	Rejected []normalize.Rejection

	stream    *dispatcher.Stream
	agg       aggregate.Aggregator
	exhausted bool
}

// Total is the number of events the stream yields.
func (b *Batch) Total() int {
	return b.stream.Total()
}

// Next returns the next progress event, io.EOF when the batch is finished.
func (b *Batch) Next(ctx context.Context) (importer.ProgressEvent, error) {
	evt, err := b.stream.Next(ctx)
	switch {
	case err == nil:
		b.agg.Add(evt)
		return evt, nil
	case errors.Is(err, io.EOF):
		b.exhausted = true
		return importer.ProgressEvent{}, io.EOF
	default:
		return importer.ProgressEvent{}, fmt.Errorf("batch %s: %w", b.ID, err)
	}
}

// Close abandons the batch and cancels in-flight work.
func (b *Batch) Close() {
	b.stream.Close()
}

// Wait blocks until all workers have exited.
func (b *Batch) Wait() {
	b.stream.Wait()
}

// Summary returns the folded result once Next has reported io.EOF.
func (b *Batch) Summary() (importer.BatchSummary, error) {
	if !b.exhausted {
		return importer.BatchSummary{}, ErrBatchIncomplete
	}
	return b.agg.Summary(), nil
}
