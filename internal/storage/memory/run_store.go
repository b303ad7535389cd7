package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/readlater-importer/internal/store"
)

// RunStore is an in-memory store.RunRepository for development and tests.
type RunStore struct {
	mu    sync.RWMutex
	runs  map[uuid.UUID]store.ImportRun
	items map[uuid.UUID][]store.ItemResult
	seen  map[uuid.UUID]map[string]struct{}
}

// NewRunStore constructs an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:  make(map[uuid.UUID]store.ImportRun),
		items: make(map[uuid.UUID][]store.ItemResult),
		seen:  make(map[uuid.UUID]map[string]struct{}),
	}
}

// StartRun records a running batch unless it already exists.
func (s *RunStore) StartRun(_ context.Context, id uuid.UUID, startedAt time.Time, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; ok {
		return nil
	}
	s.runs[id] = store.ImportRun{
		ID:        id,
		StartedAt: startedAt.UTC(),
		Status:    store.RunRunning,
		Total:     total,
	}
	return nil
}

// RecordItems appends item rows, skipping URLs already stored for the batch.
func (s *RunStore) RecordItems(_ context.Context, items []store.ItemResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		seen := s.seen[item.BatchID]
		if seen == nil {
			seen = make(map[string]struct{})
			s.seen[item.BatchID] = seen
		}
		if _, dup := seen[item.URL]; dup {
			continue
		}
		seen[item.URL] = struct{}{}
		s.items[item.BatchID] = append(s.items[item.BatchID], item)
	}
	return nil
}

// CompleteRun marks a run finished.
func (s *RunStore) CompleteRun(
	_ context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	succeeded, failed int,
	note *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return store.ErrNotFound
	}
	finished := finishedAt.UTC()
	run.FinishedAt = &finished
	run.Status = status
	run.Succeeded = succeeded
	run.Failed = failed
	run.Note = note
	s.runs[id] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, id uuid.UUID) (store.ImportRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return store.ImportRun{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.ImportRun, error) {
	s.mu.RLock()
	runs := make([]store.ImportRun, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, run)
	}
	s.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return page(runs, limit, offset), nil
}

// ListItems returns recorded items of a run in completion order.
func (s *RunStore) ListItems(_ context.Context, id uuid.UUID, limit, offset int) ([]store.ItemResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.runs[id]; !ok {
		return nil, store.ErrNotFound
	}
	items := append([]store.ItemResult(nil), s.items[id]...)
	return page(items, limit, offset), nil
}

func page[T any](rows []T, limit, offset int) []T {
	if offset >= len(rows) {
		return []T{}
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
