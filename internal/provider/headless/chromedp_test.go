package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewChromedpLimiterValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1}, zap.NewNop())
	require.Error(t, err)

	p, err := NewChromedp(Config{MaxParallel: 2}, nil)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	require.Equal(t, 2, cap(p.limiter))
	require.Equal(t, defaultNavigationTimeout, p.navTimeout())
	require.Equal(t, 500*time.Millisecond, p.cfg.SettleDelay)
}

func TestNavTimeoutOverride(t *testing.T) {
	t.Parallel()

	p := &Provider{}
	require.Equal(t, defaultNavigationTimeout, p.navTimeout())
	p.cfg.NavigationTimeout = time.Second
	require.Equal(t, time.Second, p.navTimeout())
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	p := &Provider{limiter: make(chan struct{}, 1)}
	require.NoError(t, p.acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.acquire(ctx), context.DeadlineExceeded)

	p.release()
	require.NoError(t, p.acquire(context.Background()))

	unbounded := &Provider{}
	require.NoError(t, unbounded.acquire(context.Background()))
	unbounded.release()
}

func TestResponseMetaCapturesMainDocument(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{URL: "https://example.com/app.js", Status: 200},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			URL:    "https://example.com/post",
			Status: 429,
			Headers: network.Headers{
				"Retry-After": "12",
				"X-Multi":     []any{"a", "b"},
			},
		},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{URL: "https://ads.example.net/frame", Status: 200},
	})

	status, headers, url := meta.snapshotWithFallbacks("https://example.com/req", "https://example.com/final")
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, "12", headers.Get("Retry-After"))
	require.Equal(t, []string{"a", "b"}, headers.Values("X-Multi"))
	require.Equal(t, "https://example.com/post", url)
}

func TestSnapshotFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	status, headers, url := meta.snapshotWithFallbacks("https://example.com/req", "https://example.com/final")
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, headers)
	require.Equal(t, "https://example.com/final", url)

	_, _, url = meta.snapshotWithFallbacks("https://example.com/req", "")
	require.Equal(t, "https://example.com/req", url)
}
