package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/readlater-importer/internal/progress"
	"github.com/JakeFAU/readlater-importer/internal/store"
)

// StoreSink records runs and item results in a store.RunRepository. Item rows
// are written in one call per flushed group, keeping start and completion in
// event order around them.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for repo.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies the group to the repository and returns the first error.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	var pending []store.ItemResult
	flushItems := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := s.repo.RecordItems(ctx, pending); err != nil {
			return fmt.Errorf("record items: %w", err)
		}
		pending = nil
		return nil
	}

	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageBatchStart:
			if err := flushItems(); err != nil {
				return err
			}
			if err := s.repo.StartRun(ctx, evt.BatchUUID(), evt.TS, evt.Total); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageItemDone:
			pending = append(pending, store.ItemResult{
				BatchID:     evt.BatchUUID(),
				URL:         evt.URL,
				Site:        evt.Site,
				Status:      evt.Result,
				Reason:      evt.Reason,
				Message:     evt.Note,
				Attempts:    evt.Attempts,
				Duration:    evt.Dur,
				CompletedAt: evt.TS,
			})
		case progress.StageBatchDone, progress.StageBatchCanceled:
			if err := flushItems(); err != nil {
				return err
			}
			if err := s.complete(ctx, evt); err != nil {
				return err
			}
		}
	}
	return flushItems()
}

func (s *StoreSink) complete(ctx context.Context, evt progress.Event) error {
	status := store.RunCompleted
	var note *string
	if evt.Stage == progress.StageBatchCanceled {
		status = store.RunCanceled
		if evt.Note != "" {
			n := evt.Note
			note = &n
		}
	}
	if err := s.repo.CompleteRun(ctx, evt.BatchUUID(), evt.TS, status, evt.Succeeded, evt.Failed, note); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
