package dispatcher

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/readlater-importer/internal/importer"
	"github.com/JakeFAU/readlater-importer/internal/progress"
	"github.com/JakeFAU/readlater-importer/internal/scrape"
)

type fetchFunc func(ctx context.Context, job importer.ImportJob) importer.Outcome

func (f fetchFunc) Fetch(ctx context.Context, job importer.ImportJob) importer.Outcome {
	return f(ctx, job)
}

// gauge tracks concurrent Fetch calls and the peak.
type gauge struct {
	cur   atomic.Int32
	peak  atomic.Int32
	calls atomic.Int32
}

func (g *gauge) enter() {
	g.calls.Add(1)
	n := g.cur.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (g *gauge) leave() {
	g.cur.Add(-1)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) Stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Stage)
	}
	return out
}

func (r *recordingEmitter) Last() progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func success(job importer.ImportJob) importer.Outcome {
	draft := importer.DraftFromPage(job.URL, importer.Page{Title: job.URL})
	return importer.Outcome{URL: job.URL, Draft: &draft, Attempts: 1}
}

func failure(job importer.ImportJob, kind importer.ErrorKind) importer.Outcome {
	return importer.Outcome{URL: job.URL, Failure: &importer.Failure{Kind: kind, Message: string(kind)}, Attempts: 1}
}

func urlsN(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "https://example.com/" + string(rune('a'+i))
	}
	return out
}

func drain(t *testing.T, s *Stream) []importer.ProgressEvent {
	t.Helper()
	var events []importer.ProgressEvent
	for {
		evt, err := s.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return events
		}
		require.NoError(t, err)
		events = append(events, evt)
	}
}

func TestStartEmitsOneEventPerURLWithinCeiling(t *testing.T) {
	t.Parallel()

	g := &gauge{}
	fetcher := fetchFunc(func(_ context.Context, job importer.ImportJob) importer.Outcome {
		g.enter()
		defer g.leave()
		time.Sleep(5 * time.Millisecond)
		return success(job)
	})
	emitter := &recordingEmitter{}
	urls := urlsN(12)

	s := Start(context.Background(), fetcher, urls, Config{
		Concurrency: 3,
		BatchID:     uuid.New(),
		Emitter:     emitter,
		Logger:      zap.NewNop(),
	})
	require.Equal(t, 12, s.Total())

	events := drain(t, s)
	require.Len(t, events, 12)
	seen := map[string]bool{}
	for i, evt := range events {
		require.Equal(t, i+1, evt.Completed)
		require.Equal(t, 12, evt.Total)
		require.Equal(t, importer.StatusSuccess, evt.Status)
		require.NotNil(t, evt.Draft)
		seen[evt.URL] = true
	}
	require.Len(t, seen, 12)
	require.LessOrEqual(t, g.peak.Load(), int32(3))
	require.EqualValues(t, 12, g.calls.Load())

	_, err := s.Next(context.Background())
	require.ErrorIs(t, err, io.EOF)

	s.Wait()
	stages := emitter.Stages()
	require.Equal(t, progress.StageBatchStart, stages[0])
	require.Equal(t, progress.StageBatchDone, stages[len(stages)-1])
	require.Len(t, stages, 14)
	require.Equal(t, 12, emitter.Last().Succeeded)
}

func TestStartDefaultsConcurrency(t *testing.T) {
	t.Parallel()

	g := &gauge{}
	release := make(chan struct{})
	fetcher := fetchFunc(func(_ context.Context, job importer.ImportJob) importer.Outcome {
		g.enter()
		defer g.leave()
		<-release
		return success(job)
	})

	s := Start(context.Background(), fetcher, urlsN(8), Config{})
	require.Eventually(t, func() bool {
		return g.cur.Load() == DefaultConcurrency
	}, time.Second, 5*time.Millisecond)
	close(release)

	require.Len(t, drain(t, s), 8)
	require.EqualValues(t, DefaultConcurrency, g.peak.Load())
}

func TestStartMixedOutcomes(t *testing.T) {
	t.Parallel()

	urls := urlsN(3)
	fetcher := fetchFunc(func(_ context.Context, job importer.ImportJob) importer.Outcome {
		if job.URL == urls[1] {
			return failure(job, importer.KindUnsupportedContent)
		}
		return success(job)
	})
	emitter := &recordingEmitter{}

	s := Start(context.Background(), fetcher, urls, Config{Concurrency: 2, BatchID: uuid.New(), Emitter: emitter})
	events := drain(t, s)
	require.Len(t, events, 3)

	var failed []importer.ProgressEvent
	for _, evt := range events {
		if evt.Status == importer.StatusError {
			failed = append(failed, evt)
		}
	}
	require.Len(t, failed, 1)
	require.Equal(t, urls[1], failed[0].URL)
	require.Equal(t, importer.KindUnsupportedContent, failed[0].Reason)
	require.Nil(t, failed[0].Draft)

	s.Wait()
	last := emitter.Last()
	require.Equal(t, progress.StageBatchDone, last.Stage)
	require.Equal(t, 2, last.Succeeded)
	require.Equal(t, 1, last.Failed)
}

func TestStartCancellationStopsBatch(t *testing.T) {
	t.Parallel()

	urls := urlsN(5)
	var calls atomic.Int32
	fetcher := fetchFunc(func(ctx context.Context, job importer.ImportJob) importer.Outcome {
		calls.Add(1)
		if job.URL == urls[0] || job.URL == urls[1] {
			return success(job)
		}
		<-ctx.Done()
		return failure(job, importer.KindCancelled)
	})
	emitter := &recordingEmitter{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := Start(ctx, fetcher, urls, Config{Concurrency: 2, BatchID: uuid.New(), Emitter: emitter})

	for i := 0; i < 2; i++ {
		evt, err := s.Next(context.Background())
		require.NoError(t, err)
		require.Equal(t, i+1, evt.Completed)
	}
	cancel()

	_, err := s.Next(context.Background())
	require.ErrorIs(t, err, ErrCanceled)

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("workers did not stop after cancellation")
	}
	require.LessOrEqual(t, calls.Load(), int32(4))
	last := emitter.Last()
	require.Equal(t, progress.StageBatchCanceled, last.Stage)
	require.Equal(t, 2, last.Completed)
}

func TestCloseAbandonsStream(t *testing.T) {
	t.Parallel()

	fetcher := fetchFunc(func(ctx context.Context, job importer.ImportJob) importer.Outcome {
		<-ctx.Done()
		return failure(job, importer.KindCancelled)
	})
	s := Start(context.Background(), fetcher, urlsN(3), Config{Concurrency: 1})

	s.Close()
	s.Close()
	_, err := s.Next(context.Background())
	require.ErrorIs(t, err, ErrClosed)

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("workers did not stop after Close")
	}
}

func TestNextContextEndsAbandonsStream(t *testing.T) {
	t.Parallel()

	fetcher := fetchFunc(func(ctx context.Context, job importer.ImportJob) importer.Outcome {
		<-ctx.Done()
		return failure(job, importer.KindCancelled)
	})
	s := Start(context.Background(), fetcher, urlsN(2), Config{Concurrency: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = s.Next(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	s.Wait()
}

func TestStartEmptyBatch(t *testing.T) {
	t.Parallel()

	emitter := &recordingEmitter{}
	s := Start(context.Background(), fetchFunc(func(_ context.Context, job importer.ImportJob) importer.Outcome {
		t.Fatal("no fetch expected")
		return importer.Outcome{}
	}), nil, Config{BatchID: uuid.New(), Emitter: emitter})

	_, err := s.Next(context.Background())
	require.ErrorIs(t, err, io.EOF)
	s.Wait()
	require.Equal(t, []progress.Stage{progress.StageBatchStart, progress.StageBatchDone}, emitter.Stages())
}

type flakyProvider struct {
	calls atomic.Int32
}

func (p *flakyProvider) Scrape(context.Context, string) (importer.Page, error) {
	if p.calls.Add(1) == 1 {
		return importer.Page{}, importer.HTTPStatusError(429, time.Millisecond, "")
	}
	return importer.Page{Title: "second time lucky"}, nil
}

func TestRetryThenSuccessYieldsSingleEvent(t *testing.T) {
	t.Parallel()

	provider := &flakyProvider{}
	adapter := scrape.New(provider, nil, scrape.Config{}, zap.NewNop(),
		scrape.WithSleeper(func(context.Context, time.Duration) error { return nil }),
	)

	s := Start(context.Background(), adapter, []string{"https://example.com/flaky"}, Config{})
	events := drain(t, s)

	require.Len(t, events, 1)
	require.Equal(t, importer.StatusSuccess, events[0].Status)
	require.Equal(t, 2, events[0].Attempts)
	require.Equal(t, "second time lucky", events[0].Draft.Title)
	require.EqualValues(t, 2, provider.calls.Load())
}

type stallingProvider struct {
	calls atomic.Int32
}

// Scrape blocks on the first call until the per-call deadline fires.
func (p *stallingProvider) Scrape(ctx context.Context, _ string) (importer.Page, error) {
	if p.calls.Add(1) == 1 {
		<-ctx.Done()
		return importer.Page{}, ctx.Err()
	}
	return importer.Page{Title: "eventually"}, nil
}

func TestTimeoutThenSuccessYieldsSingleEvent(t *testing.T) {
	t.Parallel()

	provider := &stallingProvider{}
	adapter := scrape.New(provider, nil, scrape.Config{Timeout: 20 * time.Millisecond}, zap.NewNop(),
		scrape.WithSleeper(func(context.Context, time.Duration) error { return nil }),
	)

	s := Start(context.Background(), adapter, []string{"https://example.com/slow"}, Config{})
	events := drain(t, s)

	require.Len(t, events, 1)
	require.Equal(t, importer.StatusSuccess, events[0].Status)
	require.Empty(t, events[0].Reason)
	require.Equal(t, 2, events[0].Attempts)
	require.Equal(t, "eventually", events[0].Draft.Title)
	require.EqualValues(t, 2, provider.calls.Load())
}
