package importer

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewProgressEventSuccess(t *testing.T) {
	t.Parallel()

	draft := DraftFromPage("https://example.com/", Page{Title: "Example"})
	evt := NewProgressEvent(Outcome{URL: draft.URL, Draft: &draft, Attempts: 1}, 2, 5)

	require.Equal(t, StatusSuccess, evt.Status)
	require.Equal(t, 2, evt.Completed)
	require.Equal(t, 5, evt.Total)
	require.Empty(t, evt.Reason)
	require.Equal(t, ItemCompleted, evt.Draft.Status)
	require.NotNil(t, evt.Draft.Tags)
}

func TestNewProgressEventFailure(t *testing.T) {
	t.Parallel()

	evt := NewProgressEvent(Outcome{
		URL:     "https://example.com/",
		Failure: &Failure{Kind: KindUnsupportedContent, Message: "application/pdf"},
	}, 1, 1)

	require.Equal(t, StatusError, evt.Status)
	require.Equal(t, KindUnsupportedContent, evt.Reason)
	require.Equal(t, "application/pdf", evt.Message)
	require.Nil(t, evt.Draft)
}

func TestHTTPStatusErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status    int
		kind      ErrorKind
		retryable bool
	}{
		{http.StatusTooManyRequests, KindRateLimited, true},
		{http.StatusBadGateway, KindProviderError, true},
		{http.StatusRequestTimeout, KindProviderError, true},
		{http.StatusNotFound, KindProviderError, false},
		{http.StatusForbidden, KindProviderError, false},
		{http.StatusUnsupportedMediaType, KindUnsupportedContent, false},
	}
	for _, tt := range tests {
		err := HTTPStatusError(tt.status, time.Second, "")
		require.Equal(t, tt.kind, err.Kind, "status %d", tt.status)
		require.Equal(t, tt.retryable, err.Retryable, "status %d", tt.status)
		require.NotEmpty(t, err.Message)
	}
	require.Equal(t, time.Second, HTTPStatusError(http.StatusTooManyRequests, time.Second, "").RetryAfter)
}

func TestProviderErrorUnwrap(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")
	err := &ProviderError{Kind: KindProviderError, Err: base}
	require.ErrorIs(t, err, base)
	require.Contains(t, err.Error(), "boom")
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	require.Equal(t, 3*time.Second, ParseRetryAfter("3", now))
	require.Equal(t, time.Duration(0), ParseRetryAfter("", now))
	require.Equal(t, time.Duration(0), ParseRetryAfter("-5", now))
	require.Equal(t, time.Duration(0), ParseRetryAfter("soon", now))
	date := now.Add(10 * time.Second).Format(http.TimeFormat)
	require.Equal(t, 10*time.Second, ParseRetryAfter(date, now))
}

func TestBatchSummaryMessage(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Successfully imported 3 URLs!", BatchSummary{Total: 3, Succeeded: 3}.Message())
	require.Equal(t,
		"Imported with some errors. Success: 2, Failed: 1",
		BatchSummary{Total: 3, Succeeded: 2, Failed: 1}.Message(),
	)
}

func TestImportJobNext(t *testing.T) {
	t.Parallel()

	job := NewJob("https://example.com/")
	next := job.Next()
	require.Equal(t, 1, job.Attempt)
	require.Equal(t, 2, next.Attempt)
	require.Equal(t, job.URL, next.URL)
}
