package scrape

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"

	"github.com/JakeFAU/readlater-importer/internal/importer"
)

// RetryConfig holds the retry knobs. Zero values fall back to the defaults.
type RetryConfig struct {
	// MaxRetries is the number of extra provider calls after the first. Negative disables retries.
	MaxRetries int
	// BaseDelay is the backoff before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration
	// MaxRetryAfter caps a provider-supplied Retry-After hint.
	MaxRetryAfter time.Duration
}

// Retry defaults.
const (
	DefaultMaxRetries    = 2
	DefaultBaseDelay     = 500 * time.Millisecond
	DefaultMaxDelay      = 10 * time.Second
	DefaultMaxRetryAfter = 30 * time.Second
)

// ExponentialRetryPolicy decides whether a failure is retried and how long to wait.
type ExponentialRetryPolicy struct {
	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
	maxRetryAfter time.Duration
	jitter        func(limit time.Duration) time.Duration
}

// NewExponentialRetryPolicy builds a policy, filling unset fields with defaults.
func NewExponentialRetryPolicy(cfg RetryConfig) *ExponentialRetryPolicy {
	p := &ExponentialRetryPolicy{
		maxRetries:    cfg.MaxRetries,
		baseDelay:     cfg.BaseDelay,
		maxDelay:      cfg.MaxDelay,
		maxRetryAfter: cfg.MaxRetryAfter,
		jitter:        randomJitter,
	}
	if p.maxRetries == 0 {
		p.maxRetries = DefaultMaxRetries
	}
	if p.maxRetries < 0 {
		p.maxRetries = 0
	}
	if p.baseDelay <= 0 {
		p.baseDelay = DefaultBaseDelay
	}
	if p.maxDelay <= 0 {
		p.maxDelay = DefaultMaxDelay
	}
	if p.maxDelay < p.baseDelay {
		p.maxDelay = p.baseDelay
	}
	if p.maxRetryAfter <= 0 {
		p.maxRetryAfter = DefaultMaxRetryAfter
	}
	return p
}

// MaxRetries reports the configured retry budget.
func (p *ExponentialRetryPolicy) MaxRetries() int {
	return p.maxRetries
}

// ShouldRetry reports whether a failure after the given attempt (1-based) gets another call.
func (p *ExponentialRetryPolicy) ShouldRetry(failure importer.Failure, attempt int) bool {
	if !failure.Retryable {
		return false
	}
	switch failure.Kind {
	case importer.KindCancelled, importer.KindInvalidURL, importer.KindUnsupportedContent:
		return false
	}
	return attempt <= p.maxRetries
}

// Backoff returns the jittered exponential wait before retry number retry (0-based).
func (p *ExponentialRetryPolicy) Backoff(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(retry))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	half := time.Duration(delay / 2)
	return half + p.jitter(half)
}

// Delay combines the backoff with a provider hint; the hint wins when longer
// but never exceeds the configured cap.
func (p *ExponentialRetryPolicy) Delay(retry int, retryAfter time.Duration) time.Duration {
	wait := p.Backoff(retry)
	if retryAfter > p.maxRetryAfter {
		retryAfter = p.maxRetryAfter
	}
	if retryAfter > wait {
		return retryAfter
	}
	return wait
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
