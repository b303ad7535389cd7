// Package postgres persists import runs and their item results in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/readlater-importer/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	RunsTable       string
	ItemsTable      string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store uses.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// RunStore implements store.RunRepository.
type RunStore struct {
	pool  pool
	runs  string
	items string
}

// NewRunStore connects to Postgres using cfg.
func NewRunStore(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewRunStoreWithPool(p, cfg.RunsTable, cfg.ItemsTable)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewRunStoreWithPool builds a store over an existing pool (primarily for testing).
func NewRunStoreWithPool(p pool, runsTable, itemsTable string) (*RunStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if runsTable == "" {
		runsTable = "import_runs"
	}
	if itemsTable == "" {
		itemsTable = "import_items"
	}
	for _, table := range []string{runsTable, itemsTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &RunStore{pool: p, runs: runsTable, items: itemsTable}, nil
}

// Close releases the underlying pool.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks database connectivity.
func (s *RunStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Migrate creates the run and item tables when they do not exist.
func (s *RunStore) Migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id          UUID PRIMARY KEY,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	status      TEXT NOT NULL,
	total       INTEGER NOT NULL DEFAULT 0,
	succeeded   INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	note        TEXT
)`, s.runs),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	batch_id     UUID NOT NULL REFERENCES %s (id) ON DELETE CASCADE,
	url          TEXT NOT NULL,
	site         TEXT NOT NULL,
	status       TEXT NOT NULL,
	reason       TEXT NOT NULL DEFAULT '',
	message      TEXT NOT NULL DEFAULT '',
	attempts     INTEGER NOT NULL DEFAULT 0,
	duration_ms  BIGINT NOT NULL DEFAULT 0,
	completed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (batch_id, url)
)`, s.items, s.runs),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// StartRun inserts a running batch; an existing row is left untouched.
func (s *RunStore) StartRun(ctx context.Context, id uuid.UUID, startedAt time.Time, total int) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, started_at, status, total)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO NOTHING`, s.runs)
	if _, err := s.pool.Exec(ctx, query, id, startedAt.UTC(), string(store.RunRunning), total); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// RecordItems inserts item rows in one transaction.
func (s *RunStore) RecordItems(ctx context.Context, items []store.ItemResult) error {
	if len(items) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (batch_id, url, site, status, reason, message, attempts, duration_ms, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (batch_id, url) DO NOTHING`, s.items)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin record items: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	for _, item := range items {
		if _, err := tx.Exec(ctx, query,
			item.BatchID,
			item.URL,
			item.Site,
			item.Status,
			item.Reason,
			item.Message,
			item.Attempts,
			item.Duration.Milliseconds(),
			item.CompletedAt.UTC(),
		); err != nil {
			return fmt.Errorf("insert item %s: %w", item.URL, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit record items: %w", err)
	}
	return nil
}

// CompleteRun sets the terminal status and counters of a run.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	succeeded, failed int,
	note *string,
) error {
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $1, status = $2, succeeded = $3, failed = $4, note = $5
WHERE id = $6`, s.runs)
	tag, err := s.pool.Exec(ctx, query, finishedAt.UTC(), string(status), succeeded, failed, note, id)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const runColumns = "id, started_at, finished_at, status, total, succeeded, failed, note"

// GetRun loads one run.
func (s *RunStore) GetRun(ctx context.Context, id uuid.UUID) (store.ImportRun, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, runColumns, s.runs)
	run, err := scanRun(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ImportRun{}, store.ErrNotFound
		}
		return store.ImportRun{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first, optionally filtered by status.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.ImportRun, error) {
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE ($1::text IS NULL OR status = $1)
ORDER BY started_at DESC
LIMIT $2 OFFSET $3`, runColumns, s.runs)
	rows, err := s.pool.Query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []store.ImportRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// ListItems returns the items of one run in completion order.
func (s *RunStore) ListItems(ctx context.Context, id uuid.UUID, limit, offset int) ([]store.ItemResult, error) {
	query := fmt.Sprintf(`
SELECT batch_id, url, site, status, reason, message, attempts, duration_ms, completed_at
FROM %s
WHERE batch_id = $1
ORDER BY completed_at ASC, url ASC
LIMIT $2 OFFSET $3`, s.items)
	rows, err := s.pool.Query(ctx, query, id, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	items := []store.ItemResult{}
	for rows.Next() {
		var (
			item       store.ItemResult
			durationMS int64
		)
		if err := rows.Scan(
			&item.BatchID,
			&item.URL,
			&item.Site,
			&item.Status,
			&item.Reason,
			&item.Message,
			&item.Attempts,
			&durationMS,
			&item.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan item row: %w", err)
		}
		item.Duration = time.Duration(durationMS) * time.Millisecond
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

func scanRun(row pgx.Row) (store.ImportRun, error) {
	var (
		run    store.ImportRun
		status string
	)
	if err := row.Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.Total,
		&run.Succeeded,
		&run.Failed,
		&run.Note,
	); err != nil {
		return store.ImportRun{}, err
	}
	run.Status = store.RunStatus(status)
	return run, nil
}
