// Package service ties the import pipeline to its downstream boundaries: drafts
// go to the publisher and every finished batch leaves a JSON report behind.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/readlater-importer/internal/clock/system"
	"github.com/JakeFAU/readlater-importer/internal/importer"
	"github.com/JakeFAU/readlater-importer/internal/metrics"
	"github.com/JakeFAU/readlater-importer/internal/pipeline"
)

// DefaultReportPrefix is the object prefix reports are written under.
const DefaultReportPrefix = "reports"

// Starter starts pipeline batches. *pipeline.Pipeline satisfies it.
type Starter interface {
	Start(ctx context.Context, urls []string, opts pipeline.Options) (*pipeline.Batch, error)
}

// Config controls the importer.
type Config struct {
	ReportPrefix string
}

// Importer runs batches end to end.
type Importer struct {
	starter   Starter
	publisher importer.DraftPublisher
	reports   importer.BlobStore
	clock     importer.Clock
	prefix    string
	logger    *zap.Logger
}

// New builds an Importer. publisher and reports may be nil to skip those steps.
func New(
	starter Starter,
	publisher importer.DraftPublisher,
	reports importer.BlobStore,
	clock importer.Clock,
	cfg Config,
	logger *zap.Logger,
) *Importer {
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := strings.Trim(cfg.ReportPrefix, "/")
	if prefix == "" {
		prefix = DefaultReportPrefix
	}
	return &Importer{
		starter:   starter,
		publisher: publisher,
		reports:   reports,
		clock:     clock,
		prefix:    prefix,
		logger:    logger.Named("importer"),
	}
}

// Result is what a completed Run hands back.
type Result struct {
	BatchID uuid.UUID
	Summary importer.BatchSummary
	// ReportURI is empty when no report store is configured or the write failed.
	ReportURI       string
	Published       int
	PublishFailures int
}

// Report is the JSON document stored for every completed batch.
type Report struct {
	BatchID    string                `json:"batch_id"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Message    string                `json:"message"`
	Summary    importer.BatchSummary `json:"summary"`
}

// Run imports urls. onEvent, when set, sees every progress event in order.
// Configuration errors return before any work starts; if ctx ends early the
// batch is abandoned and no summary is produced.
func (i *Importer) Run(
	ctx context.Context,
	urls []string,
	opts pipeline.Options,
	onEvent func(importer.ProgressEvent),
) (Result, error) {
	started := i.clock.Now()
	batch, err := i.starter.Start(ctx, urls, opts)
	if err != nil {
		return Result{}, err
	}
	logger := i.logger.With(zap.String("batch_id", batch.ID.String()))
	res := Result{BatchID: batch.ID}

	for {
		evt, err := batch.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			batch.Close()
			batch.Wait()
			logger.Warn("import abandoned", zap.Error(err))
			return Result{BatchID: batch.ID}, err
		}
		if evt.Draft != nil {
			i.publish(ctx, logger, batch.ID.String(), *evt.Draft, &res)
		}
		if onEvent != nil {
			onEvent(evt)
		}
	}

	summary, err := batch.Summary()
	if err != nil {
		return Result{BatchID: batch.ID}, fmt.Errorf("summarize batch %s: %w", batch.ID, err)
	}
	res.Summary = summary
	res.ReportURI = i.writeReport(ctx, logger, Report{
		BatchID:    batch.ID.String(),
		StartedAt:  started.UTC(),
		FinishedAt: i.clock.Now().UTC(),
		Message:    summary.Message(),
		Summary:    summary,
	})

	logger.Info("import finished",
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("publish_failures", res.PublishFailures),
	)
	return res, nil
}

func (i *Importer) publish(ctx context.Context, logger *zap.Logger, batchID string, draft importer.ItemDraft, res *Result) {
	if i.publisher == nil {
		return
	}
	id, err := i.publisher.Publish(ctx, batchID, draft)
	if err != nil {
		res.PublishFailures++
		metrics.ObserveDraftPublished("error")
		logger.Error("publish draft failed", zap.String("url", draft.URL), zap.Error(err))
		return
	}
	res.Published++
	metrics.ObserveDraftPublished("success")
	logger.Debug("draft published", zap.String("url", draft.URL), zap.String("message_id", id))
}

func (i *Importer) writeReport(ctx context.Context, logger *zap.Logger, report Report) string {
	if i.reports == nil {
		return ""
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		logger.Error("encode report failed", zap.Error(err))
		return ""
	}
	uri, err := i.reports.PutObject(ctx, ReportPath(i.prefix, report.BatchID), "application/json", bytes.NewReader(data))
	if err != nil {
		logger.Error("write report failed", zap.Error(err))
		return ""
	}
	return uri
}

// ReportPath is the object path of a batch report.
func ReportPath(prefix, batchID string) string {
	return path.Join(prefix, batchID+".json")
}
