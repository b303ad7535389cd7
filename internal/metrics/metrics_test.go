package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if scrapeAttemptsTotal == nil || scrapeDurationSeconds == nil ||
		httpRequestsTotal == nil || importDraftsPublishedTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	before := testutil.ToFloat64(scrapeAttemptsTotal.WithLabelValues("test", "success"))
	ObserveScrapeAttempt("test", "success")
	if val := testutil.ToFloat64(scrapeAttemptsTotal.WithLabelValues("test", "success")); val != before+1 {
		t.Errorf("expected scrape attempts to grow by 1, got %f", val-before)
	}

	ObserveScrape("success", time.Second)
	ObserveHTTPRequest("GET", "/healthz", 200, time.Millisecond)
	ObserveDraftPublished("success")
	ObserveRateLimitDelay("example.com", time.Second)
	IncActiveWorkers()
	DecActiveWorkers()
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
