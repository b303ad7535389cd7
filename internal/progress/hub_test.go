package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHubFlushesBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageBatchStart))
	hub.Emit(sampleEvent(StageBatchStart))
	require.Eventually(t, func() bool {
		batches := sink.Batches()
		return len(batches) == 1 && len(batches[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHubFlushesByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageBatchStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)

	hub.Emit(sampleEvent(StageBatchDone))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestHubEmitNeverBlocks(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		events:  make(chan Event),
		logger:  zap.NewNop(),
		dropLog: dropLimiter{interval: time.Hour},
	}
	start := time.Now()
	for i := 0; i < 3; i++ {
		hub.Emit(sampleEvent(StageBatchStart))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.EqualValues(t, 3, hub.Dropped())
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchWait: time.Minute}, sink)

	hub.Emit(Event{Stage: StageBatchStart})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
	require.True(t, sink.Closed())
}

func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	hub.Emit(sampleEvent(StageBatchStart))
	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))

	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)

	hub.Emit(sampleEvent(StageBatchDone))
	require.Len(t, sink.Batches(), 1)
}

func TestHubSinkErrorDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	good := newStubSink()
	bad := sinkFunc(func(context.Context, []Event) error { return errors.New("boom") })
	hub := NewHub(Config{MaxBatchEvents: 1}, bad, good)

	hub.Emit(sampleEvent(StageBatchStart))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, good.Batches(), 1)
}

func TestNilHubIsSafe(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(sampleEvent(StageBatchStart))
	require.NoError(t, hub.Close(context.Background()))
	require.Zero(t, hub.Dropped())
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	valid := sampleEvent(StageItemDone)
	require.NoError(t, valid.Validate())

	cases := map[string]func(*Event){
		"missing batch":    func(e *Event) { e.BatchID = [16]byte{} },
		"missing ts":       func(e *Event) { e.TS = time.Time{} },
		"unknown stage":    func(e *Event) { e.Stage = "NOPE" },
		"item without url": func(e *Event) { e.URL = "" },
		"bad result":       func(e *Event) { e.Result = "maybe" },
		"negative dur":     func(e *Event) { e.Dur = -time.Second },
		"overcounted":      func(e *Event) { e.Completed = e.Total + 1 },
	}
	for name, mutate := range cases {
		evt := sampleEvent(StageItemDone)
		mutate(&evt)
		require.Error(t, evt.Validate(), name)
	}
}

func TestUUIDRoundTrip(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	evt := Event{BatchID: UUIDToBytes(id)}
	require.Equal(t, id, evt.BatchUUID())
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	copy(out, s.batches)
	return out
}

func sampleEvent(stage Stage) Event {
	evt := Event{
		BatchID: UUIDToBytes(uuid.New()),
		TS:      time.Now(),
		Stage:   stage,
		Total:   3,
	}
	if stage == StageItemDone {
		evt.URL = "https://example.com/a"
		evt.Site = "example.com"
		evt.Result = ResultSuccess
		evt.Completed = 1
		evt.Succeeded = 1
	}
	return evt
}
