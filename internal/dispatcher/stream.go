package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/JakeFAU/readlater-importer/internal/importer"
)

var (
	// ErrClosed is returned by Next after Close.
	ErrClosed = errors.New("progress stream closed")
	// ErrCanceled is returned by Next once the batch was canceled before finishing.
	ErrCanceled = errors.New("import batch canceled")
	// errAbandoned is the cancellation cause recorded by Close.
	errAbandoned = errors.New("progress stream abandoned")
)

// Stream yields one ProgressEvent per scheduled URL in completion order and
// then io.EOF. It is single-pass; Next must not be called concurrently.
type Stream struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	events chan importer.ProgressEvent
	done   chan struct{}
	total  int

	// guarded by mu; written by workers.
	mu        sync.Mutex
	completed int
	succeeded int
	failed    int

	delivered int
	closeOnce sync.Once
	closed    atomic.Bool
}

func newStream(ctx context.Context, cancel context.CancelCauseFunc, total int) *Stream {
	return &Stream{
		ctx:    ctx,
		cancel: cancel,
		// Sized so workers never block on a slow consumer.
		events: make(chan importer.ProgressEvent, total),
		done:   make(chan struct{}),
		total:  total,
	}
}

// Total is the fixed number of events the stream yields.
func (s *Stream) Total() int {
	return s.total
}

// Next blocks for the next event. It returns io.EOF after Total events,
// ErrClosed after Close and ErrCanceled when the batch was canceled. If ctx
// ends first the stream is closed and the ctx error returned.
func (s *Stream) Next(ctx context.Context) (importer.ProgressEvent, error) {
	if s.closed.Load() {
		return importer.ProgressEvent{}, ErrClosed
	}
	if s.delivered >= s.total {
		s.cancel(nil)
		return importer.ProgressEvent{}, io.EOF
	}
	if err := s.canceled(); err != nil {
		return importer.ProgressEvent{}, err
	}
	select {
	case evt := <-s.events:
		return s.deliver(evt), nil
	default:
	}
	select {
	case evt := <-s.events:
		return s.deliver(evt), nil
	case <-ctx.Done():
		s.Close()
		return importer.ProgressEvent{}, fmt.Errorf("wait for progress: %w", ctx.Err())
	case <-s.ctx.Done():
		if s.closed.Load() {
			return importer.ProgressEvent{}, ErrClosed
		}
		return importer.ProgressEvent{}, s.canceled()
	}
}

func (s *Stream) deliver(evt importer.ProgressEvent) importer.ProgressEvent {
	s.delivered++
	if s.delivered == s.total {
		s.cancel(nil)
	}
	return evt
}

func (s *Stream) canceled() error {
	if s.ctx.Err() == nil {
		return nil
	}
	if cause := context.Cause(s.ctx); cause != nil && !errors.Is(cause, s.ctx.Err()) {
		return fmt.Errorf("%w: %v", ErrCanceled, cause)
	}
	return ErrCanceled
}

// Close abandons the stream and cancels in-flight work. It is idempotent and
// does not wait for workers; use Wait for that.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel(errAbandoned)
	})
}

// Wait blocks until every worker has exited.
func (s *Stream) Wait() {
	<-s.done
}

// Done is closed once every worker has exited.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}
