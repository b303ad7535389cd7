package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/readlater-importer/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	batchID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{BatchID: batchID, TS: now, Stage: progress.StageBatchStart, Total: 2},
		{
			BatchID: batchID, TS: now, Stage: progress.StageItemDone,
			URL: "https://a.com/", Result: progress.ResultSuccess, Attempts: 1,
			Dur: 200 * time.Millisecond, Total: 2, Completed: 1,
		},
		{
			BatchID: batchID, TS: now, Stage: progress.StageItemDone,
			URL: "https://b.com/", Result: progress.ResultError, Reason: "RateLimited", Attempts: 3,
			Dur: time.Second, Total: 2, Completed: 2,
		},
		{BatchID: batchID, TS: now, Stage: progress.StageBatchDone, Total: 2, Completed: 2, Dur: 2 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch[:1]))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.batchesRunning))

	require.NoError(t, sink.Consume(context.Background(), batch[1:]))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.batchesStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.batchesCompleted.WithLabelValues("completed")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.batchesRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.items.WithLabelValues("success", "none")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.items.WithLabelValues("error", "RateLimited")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.itemAttempts, "import_item_attempts"))
	require.Equal(t, 2, testutil.CollectAndCount(sink.itemDuration, "import_item_duration_seconds"))
}

func TestPrometheusSinkCanceledBatch(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	batchID := progress.UUIDToBytes(uuid.New())
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{BatchID: batchID, TS: time.Now(), Stage: progress.StageBatchStart, Total: 5},
		{BatchID: batchID, TS: time.Now(), Stage: progress.StageBatchStart, Total: 5},
		{BatchID: batchID, TS: time.Now(), Stage: progress.StageBatchCanceled, Total: 5},
		{BatchID: batchID, TS: time.Now(), Stage: progress.StageBatchCanceled, Total: 5},
	}))

	require.Equal(t, 2.0, testutil.ToFloat64(sink.batchesCompleted.WithLabelValues("canceled")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.batchesRunning))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
