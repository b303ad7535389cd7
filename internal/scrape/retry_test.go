package scrape

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/readlater-importer/internal/importer"
)

func TestNewExponentialRetryPolicyDefaults(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(RetryConfig{})
	require.Equal(t, DefaultMaxRetries, p.MaxRetries())
	require.Equal(t, DefaultBaseDelay, p.baseDelay)
	require.Equal(t, DefaultMaxDelay, p.maxDelay)
	require.Equal(t, DefaultMaxRetryAfter, p.maxRetryAfter)

	disabled := NewExponentialRetryPolicy(RetryConfig{MaxRetries: -1})
	require.Zero(t, disabled.MaxRetries())
}

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(RetryConfig{MaxRetries: 2})
	retryable := importer.Failure{Kind: importer.KindRateLimited, Retryable: true}

	require.True(t, p.ShouldRetry(retryable, 1))
	require.True(t, p.ShouldRetry(retryable, 2))
	require.False(t, p.ShouldRetry(retryable, 3))

	require.False(t, p.ShouldRetry(importer.Failure{Kind: importer.KindProviderError}, 1))
	for _, kind := range []importer.ErrorKind{
		importer.KindCancelled,
		importer.KindInvalidURL,
		importer.KindUnsupportedContent,
	} {
		require.False(t, p.ShouldRetry(importer.Failure{Kind: kind, Retryable: true}, 1), kind)
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(RetryConfig{BaseDelay: time.Second, MaxDelay: 4 * time.Second})
	p.jitter = func(limit time.Duration) time.Duration { return limit }

	require.Equal(t, time.Second, p.Backoff(0))
	require.Equal(t, 2*time.Second, p.Backoff(1))
	require.Equal(t, 4*time.Second, p.Backoff(2))
	require.Equal(t, 4*time.Second, p.Backoff(10))
	require.Equal(t, time.Second, p.Backoff(-1))
}

func TestBackoffJitterStaysInRange(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(RetryConfig{BaseDelay: 100 * time.Millisecond})
	for i := 0; i < 50; i++ {
		d := p.Backoff(1)
		require.GreaterOrEqual(t, d, 100*time.Millisecond)
		require.Less(t, d, 200*time.Millisecond)
	}
}

func TestDelayPrefersLongerHint(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(RetryConfig{BaseDelay: time.Second, MaxRetryAfter: 10 * time.Second})
	p.jitter = func(time.Duration) time.Duration { return 0 }

	require.Equal(t, 500*time.Millisecond, p.Delay(0, 0))
	require.Equal(t, 3*time.Second, p.Delay(0, 3*time.Second))
	require.Equal(t, 10*time.Second, p.Delay(0, time.Minute))
	require.Equal(t, 500*time.Millisecond, p.Delay(0, 100*time.Millisecond))
}

func TestRandomJitter(t *testing.T) {
	t.Parallel()

	require.Zero(t, randomJitter(0))
	for i := 0; i < 20; i++ {
		j := randomJitter(10 * time.Millisecond)
		require.GreaterOrEqual(t, j, time.Duration(0))
		require.Less(t, j, 10*time.Millisecond)
	}
}
