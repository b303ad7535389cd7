package importer

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Configuration errors returned synchronously before a batch starts.
var (
	ErrEmptyBatch         = errors.New("select at least one URL to import")
	ErrInvalidConcurrency = errors.New("invalid concurrency")
	ErrBatchTooLarge      = errors.New("batch exceeds maximum size")
)

// ProviderError is returned by providers to describe a classified failure.
type ProviderError struct {
	Kind       ErrorKind
	StatusCode int
	RetryAfter time.Duration
	Retryable  bool
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// HTTPStatusError classifies a non-2xx HTTP status returned for a page or provider call.
func HTTPStatusError(status int, retryAfter time.Duration, message string) *ProviderError {
	if message == "" {
		message = http.StatusText(status)
	}
	switch {
	case status == http.StatusTooManyRequests:
		return &ProviderError{
			Kind:       KindRateLimited,
			StatusCode: status,
			RetryAfter: retryAfter,
			Retryable:  true,
			Message:    message,
		}
	case status == http.StatusRequestTimeout || status >= 500:
		return &ProviderError{Kind: KindProviderError, StatusCode: status, Retryable: true, Message: message}
	case status == http.StatusUnsupportedMediaType || status == http.StatusNotAcceptable:
		return &ProviderError{Kind: KindUnsupportedContent, StatusCode: status, Message: message}
	default:
		return &ProviderError{Kind: KindProviderError, StatusCode: status, Message: message}
	}
}

// UnsupportedContent reports a page the pipeline cannot extract from.
func UnsupportedContent(format string, args ...any) *ProviderError {
	return &ProviderError{Kind: KindUnsupportedContent, Message: fmt.Sprintf(format, args...)}
}

// ParseRetryAfter reads a Retry-After header value given in seconds or as an HTTP date.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	at, err := http.ParseTime(value)
	if err != nil {
		return 0
	}
	if d := at.Sub(now); d > 0 {
		return d
	}
	return 0
}
