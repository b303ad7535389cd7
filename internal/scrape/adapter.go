// Package scrape wraps a content provider with timeouts, politeness waits and
// retry/backoff, translating every result into an importer.Outcome.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/readlater-importer/internal/importer"
	"github.com/JakeFAU/readlater-importer/internal/metrics"
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 30 * time.Second

const tracerName = "github.com/JakeFAU/readlater-importer/internal/scrape"

// Limiter delays calls to keep per-host request rates polite.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Config controls the adapter.
type Config struct {
	// ProviderName labels metrics and spans.
	ProviderName string
	// Timeout bounds each provider call.
	Timeout time.Duration
	Retry   RetryConfig
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithSleeper replaces the backoff sleep, mainly for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(a *Adapter) {
		a.sleep = sleep
	}
}

// WithJitter replaces the random jitter source.
func WithJitter(jitter func(limit time.Duration) time.Duration) Option {
	return func(a *Adapter) {
		a.policy.jitter = jitter
	}
}

// WithTracer sets the tracer used for per-URL spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(a *Adapter) {
		a.tracer = tracer
	}
}

// Adapter performs one URL scrape with retries. Fetch never returns an error.
type Adapter struct {
	provider importer.Provider
	limiter  Limiter
	policy   *ExponentialRetryPolicy
	timeout  time.Duration
	name     string
	sleep    func(ctx context.Context, d time.Duration) error
	tracer   trace.Tracer
	logger   *zap.Logger
}

// New builds an Adapter around provider. limiter may be nil.
func New(provider importer.Provider, limiter Limiter, cfg Config, logger *zap.Logger, opts ...Option) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "default"
	}
	a := &Adapter{
		provider: provider,
		limiter:  limiter,
		policy:   NewExponentialRetryPolicy(cfg.Retry),
		timeout:  cfg.Timeout,
		name:     cfg.ProviderName,
		sleep:    sleepContext,
		tracer:   otel.Tracer(tracerName),
		logger:   logger.Named("scrape"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Policy exposes the retry policy in use.
func (a *Adapter) Policy() *ExponentialRetryPolicy {
	return a.policy
}

// Fetch scrapes job.URL, retrying retryable failures, and returns a total outcome.
func (a *Adapter) Fetch(ctx context.Context, job importer.ImportJob) importer.Outcome {
	if job.Attempt <= 0 {
		job.Attempt = 1
	}
	start := time.Now()
	ctx, span := a.tracer.Start(ctx, "scrape.fetch", trace.WithAttributes(
		attribute.String("url", job.URL),
		attribute.String("provider", a.name),
	))
	defer span.End()

	outcome := a.run(ctx, job)
	outcome.Elapsed = time.Since(start)

	result := "success"
	if outcome.Failure != nil {
		result = string(outcome.Failure.Kind)
		span.SetStatus(codes.Error, outcome.Failure.Message)
	}
	span.SetAttributes(attribute.Int("attempts", outcome.Attempts), attribute.String("result", result))
	metrics.ObserveScrape(result, outcome.Elapsed)
	return outcome
}

func (a *Adapter) run(ctx context.Context, job importer.ImportJob) importer.Outcome {
	calls := 0
	for {
		if ctx.Err() != nil {
			return failed(job, calls, cancelled(ctx.Err()))
		}
		calls++
		page, err := a.attempt(ctx, job)
		if err == nil {
			draft := importer.DraftFromPage(job.URL, page)
			metrics.ObserveScrapeAttempt(a.name, "success")
			return importer.Outcome{URL: job.URL, Draft: &draft, Attempts: calls}
		}

		failure, retryAfter := a.classify(ctx, err)
		metrics.ObserveScrapeAttempt(a.name, string(failure.Kind))
		if !a.policy.ShouldRetry(failure, calls) {
			return failed(job, calls, failure)
		}

		delay := a.policy.Delay(calls-1, retryAfter)
		a.logger.Debug("retrying scrape",
			zap.String("url", job.URL),
			zap.Int("attempt", job.Attempt),
			zap.String("kind", string(failure.Kind)),
			zap.Duration("delay", delay),
		)
		if err := a.sleep(ctx, delay); err != nil {
			return failed(job, calls, cancelled(err))
		}
		job = job.Next()
	}
}

type callResult struct {
	page importer.Page
	err  error
}

// attempt makes one provider call bounded by the per-call timeout. The call
// runs on its own goroutine so a provider that ignores ctx cannot hold the slot.
func (a *Adapter) attempt(ctx context.Context, job importer.ImportJob) (importer.Page, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx, job.URL); err != nil {
			return importer.Page{}, err
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- callResult{err: &importer.ProviderError{
					Kind:    importer.KindProviderError,
					Message: fmt.Sprintf("provider panic: %v", rec),
				}}
			}
		}()
		page, err := a.provider.Scrape(callCtx, job.URL)
		done <- callResult{page: page, err: err}
	}()

	select {
	case res := <-done:
		return res.page, res.err
	case <-callCtx.Done():
		return importer.Page{}, fmt.Errorf("provider call: %w", callCtx.Err())
	}
}

func (a *Adapter) classify(ctx context.Context, err error) (importer.Failure, time.Duration) {
	if ctx.Err() != nil {
		return cancelled(ctx.Err()), 0
	}
	var perr *importer.ProviderError
	if errors.As(err, &perr) {
		failure := importer.Failure{Kind: perr.Kind, Message: perr.Error(), Retryable: perr.Retryable}
		switch perr.Kind {
		case importer.KindRateLimited, importer.KindTimeout:
			failure.Retryable = true
		case importer.KindUnsupportedContent, importer.KindInvalidURL, importer.KindCancelled:
			failure.Retryable = false
		case "":
			failure.Kind = importer.KindProviderError
		}
		return failure, perr.RetryAfter
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return importer.Failure{
			Kind:      importer.KindTimeout,
			Message:   fmt.Sprintf("no response within %s", a.timeout),
			Retryable: true,
		}, 0
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return importer.Failure{Kind: importer.KindTimeout, Message: err.Error(), Retryable: true}, 0
	}
	return importer.Failure{Kind: importer.KindProviderError, Message: err.Error(), Retryable: true}, 0
}

func cancelled(err error) importer.Failure {
	msg := "import cancelled"
	if err != nil {
		msg = fmt.Sprintf("import cancelled: %v", err)
	}
	return importer.Failure{Kind: importer.KindCancelled, Message: msg}
}

func failed(job importer.ImportJob, calls int, failure importer.Failure) importer.Outcome {
	return importer.Outcome{URL: job.URL, Failure: &failure, Attempts: calls}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff sleep: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
