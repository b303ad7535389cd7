package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/readlater-importer/internal/dispatcher"
	"github.com/JakeFAU/readlater-importer/internal/importer"
	"github.com/JakeFAU/readlater-importer/internal/pipeline"
	"github.com/JakeFAU/readlater-importer/internal/service"
)

var testBatchID = uuid.MustParse("01890000-0000-7000-8000-0000000000aa")

type fakeRunner struct {
	events []importer.ProgressEvent
	result service.Result
	err    error

	gotURLs []string
	gotOpts pipeline.Options
}

func (f *fakeRunner) Run(
	_ context.Context,
	urls []string,
	opts pipeline.Options,
	onEvent func(importer.ProgressEvent),
) (service.Result, error) {
	f.gotURLs = urls
	f.gotOpts = opts
	for _, evt := range f.events {
		onEvent(evt)
	}
	return f.result, f.err
}

func newTestServer(runner Runner) *Server {
	return NewServer(runner, nil, Config{}, zap.NewNop())
}

func readLines(t *testing.T, body string) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		out = append(out, line)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeRunner{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_ReadyzReportsFailure(t *testing.T) {
	t.Parallel()

	srv := NewServer(&fakeRunner{}, nil, Config{
		Ready: func(context.Context) error { return errors.New("db down") },
	}, zap.NewNop())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_RunImportStreamsProgressAndSummary(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		events: []importer.ProgressEvent{
			{Completed: 1, Total: 2, URL: "https://a.com/", Status: importer.StatusSuccess, Attempts: 1},
			{
				Completed: 2, Total: 2, URL: "https://b.com/", Status: importer.StatusError,
				Reason: importer.KindTimeout, Message: "no response", Attempts: 3,
			},
		},
		result: service.Result{
			BatchID: testBatchID,
			Summary: importer.BatchSummary{
				Total: 2, Succeeded: 1, Failed: 1,
				Failures: []importer.FailureEntry{{URL: "https://b.com/", Reason: importer.KindTimeout}},
			},
			ReportURI: "mem://reports/x.json",
		},
	}
	srv := newTestServer(runner)

	body := `{"urls":["https://a.com","https://b.com"],"concurrency":3}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/imports", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, ndjsonContentType, rec.Header().Get("Content-Type"))
	require.Equal(t, []string{"https://a.com", "https://b.com"}, runner.gotURLs)
	require.Equal(t, 3, runner.gotOpts.Concurrency)

	lines := readLines(t, rec.Body.String())
	require.Len(t, lines, 3)
	require.Equal(t, "progress", lines[0]["type"])
	require.Equal(t, "success", lines[0]["status"])
	require.InDelta(t, 1, lines[0]["completed"], 0)
	require.Equal(t, "Timeout", lines[1]["reason"])

	summary := lines[2]
	require.Equal(t, "summary", summary["type"])
	require.Equal(t, testBatchID.String(), summary["batch_id"])
	require.Equal(t, "Imported with some errors. Success: 1, Failed: 1", summary["message"])
	require.Equal(t, "mem://reports/x.json", summary["report_uri"])
	require.InDelta(t, 2, summary["total"], 0)
}

func TestServer_RunImportConfigErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"empty", importer.ErrEmptyBatch, http.StatusBadRequest},
		{"concurrency", importer.ErrInvalidConcurrency, http.StatusBadRequest},
		{"too large", importer.ErrBatchTooLarge, http.StatusBadRequest},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := newTestServer(&fakeRunner{err: tc.err})
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/v1/imports", strings.NewReader(`{"urls":[]}`))
			srv.Handler().ServeHTTP(rec, req)

			require.Equal(t, tc.want, rec.Code)
			require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			require.Contains(t, rec.Body.String(), "error")
		})
	}
}

func TestServer_RunImportInvalidJSON(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeRunner{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/imports", bytes.NewBufferString("{invalid")))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_RunImportErrorAfterStreamStarted(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		events: []importer.ProgressEvent{{Completed: 1, Total: 3, URL: "https://a.com/", Status: importer.StatusSuccess}},
		err:    dispatcher.ErrCanceled,
	}
	srv := newTestServer(runner)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/imports", strings.NewReader(`{"urls":["a.com"]}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	lines := readLines(t, rec.Body.String())
	require.Len(t, lines, 2)
	require.Equal(t, "progress", lines[0]["type"])
	require.Equal(t, "error", lines[1]["type"])
}

func TestServer_APIKeyRequired(t *testing.T) {
	t.Parallel()

	srv := NewServer(&fakeRunner{}, nil, Config{AuthEnabled: true, APIKey: "secret"}, zap.NewNop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/imports", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/imports", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	// Authorized, but no repository is configured.
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDMiddlewareKeepsClientID(t *testing.T) {
	t.Parallel()

	var seen string
	h := requestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, "req-123", seen)
	require.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterFlushAndHijack(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}
	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusTeapot)
	rw.Flush()

	require.Equal(t, http.StatusCreated, rw.status)
	require.True(t, rec.Flushed)

	_, _, err := rw.Hijack()
	require.Error(t, err)
}

// brokenWriter fails every body write, like a client that went away.
type brokenWriter struct {
	header http.Header
	writes int
}

func (w *brokenWriter) Header() http.Header {
	if w.header == nil {
		w.header = http.Header{}
	}
	return w.header
}

func (w *brokenWriter) Write([]byte) (int, error) {
	w.writes++
	return 0, errors.New("broken pipe")
}

func (w *brokenWriter) WriteHeader(int) {}

// cancelAwareRunner stops emitting once its context is canceled.
type cancelAwareRunner struct {
	emitted int
	cause   error
}

func (c *cancelAwareRunner) Run(
	ctx context.Context,
	_ []string,
	_ pipeline.Options,
	onEvent func(importer.ProgressEvent),
) (service.Result, error) {
	for i := 1; i <= 5; i++ {
		if ctx.Err() != nil {
			c.cause = context.Cause(ctx)
			return service.Result{}, dispatcher.ErrCanceled
		}
		c.emitted++
		onEvent(importer.ProgressEvent{Completed: i, Total: 5, URL: "https://a.com/", Status: importer.StatusSuccess})
	}
	return service.Result{BatchID: testBatchID}, nil
}

func TestServer_ImportCancelsBatchWhenClientWriteFails(t *testing.T) {
	t.Parallel()

	runner := &cancelAwareRunner{}
	srv := newTestServer(runner)
	w := &brokenWriter{}
	req := httptest.NewRequest(http.MethodPost, "/v1/imports", strings.NewReader(`{"urls":["https://a.com/"]}`))
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, 1, runner.emitted)
	require.ErrorContains(t, runner.cause, "broken pipe")
	require.Equal(t, 1, w.writes)
}
