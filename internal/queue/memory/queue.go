// Package memory provides the bounded in-memory job queue drained by import workers.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/readlater-importer/internal/importer"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan importer.ImportJob
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan importer.ImportJob, capacity),
	}
}

// Preloaded returns a closed queue holding one first-attempt job per URL.
func Preloaded(urls []string) *Queue {
	q := NewQueue(len(urls))
	for _, u := range urls {
		q.ch <- importer.NewJob(u)
	}
	q.Close()
	return q
}

// Enqueue pushes a job into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, job importer.ImportJob) error {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- job:
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (importer.ImportJob, error) {
	select {
	case <-ctx.Done():
		return importer.ImportJob{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job, ok := <-q.ch:
		if !ok {
			return importer.ImportJob{}, ErrClosed
		}
		return job, nil
	}
}

// Len reports the number of jobs waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel; queued jobs remain available to Dequeue.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
