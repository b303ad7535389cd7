package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/readlater-importer/internal/progress"
)

// LogSink writes one structured log line per event. Item events log at debug
// level so large batches stay quiet unless asked for.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("progress")}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		level := zapcore.InfoLevel
		fields := []zap.Field{
			zap.String("batch_id", evt.BatchUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.Int("completed", evt.Completed),
			zap.Int("total", evt.Total),
		}
		switch evt.Stage {
		case progress.StageItemDone:
			level = zapcore.DebugLevel
			fields = append(fields,
				zap.String("url", evt.URL),
				zap.String("result", evt.Result),
				zap.Int("attempts", evt.Attempts),
				zap.Duration("dur", evt.Dur),
			)
			if evt.Reason != "" {
				fields = append(fields, zap.String("reason", evt.Reason), zap.String("note", evt.Note))
			}
		case progress.StageBatchDone, progress.StageBatchCanceled:
			fields = append(fields,
				zap.Int("succeeded", evt.Succeeded),
				zap.Int("failed", evt.Failed),
				zap.Duration("dur", evt.Dur),
			)
			if evt.Note != "" {
				fields = append(fields, zap.String("note", evt.Note))
			}
			if evt.Stage == progress.StageBatchCanceled {
				level = zapcore.WarnLevel
			}
		}
		if ce := s.logger.Check(level, "progress event"); ce != nil {
			ce.Write(fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
