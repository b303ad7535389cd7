package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("import run not found")

// RunStatus mirrors the import_runs status column.
type RunStatus string

// Run statuses persisted in import_runs.status.
const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCanceled  RunStatus = "canceled"
)

// ParseRunStatus validates a status filter.
func ParseRunStatus(raw string) (RunStatus, bool) {
	switch s := RunStatus(raw); s {
	case RunRunning, RunCompleted, RunCanceled:
		return s, true
	default:
		return "", false
	}
}

// ImportRun models one batch in import_runs.
type ImportRun struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	Total      int
	Succeeded  int
	Failed     int
	// Note optionally stores why a run was canceled.
	Note *string
}

// ItemResult models one finished URL in import_items.
type ItemResult struct {
	BatchID     uuid.UUID
	URL         string
	Site        string
	Status      string
	Reason      string
	Message     string
	Attempts    int
	Duration    time.Duration
	CompletedAt time.Time
}

// RunRepository persists batch runs and their per-URL results.
type RunRepository interface {
	// StartRun records a running batch. Repeated calls for the same id are no-ops.
	StartRun(ctx context.Context, id uuid.UUID, startedAt time.Time, total int) error
	// RecordItems stores finished URLs; a URL already recorded for the batch is ignored.
	RecordItems(ctx context.Context, items []ItemResult) error
	// CompleteRun sets the terminal status and counters.
	CompleteRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, status RunStatus, succeeded, failed int, note *string) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, id uuid.UUID) (ImportRun, error)
	// ListRuns returns runs newest first, optionally filtered by status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]ImportRun, error)
	// ListItems returns the recorded items of one run in completion order.
	ListItems(ctx context.Context, id uuid.UUID, limit, offset int) ([]ItemResult, error)
}
