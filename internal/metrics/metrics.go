// Package metrics exposes Prometheus collectors for the import service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scrapeAttemptsTotal          *prometheus.CounterVec
	scrapeDurationSeconds        *prometheus.HistogramVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec
	importActiveWorkers          prometheus.Gauge
	importDraftsPublishedTotal   *prometheus.CounterVec
	importRateLimitDelaysSeconds *prometheus.HistogramVec
	importRobotsFallbacksTotal   *prometheus.CounterVec

	once sync.Once
)

// Init registers the collectors on the default registry.
// It is safe to call this function multiple times. Observations made before
// Init are dropped.
func Init() {
	once.Do(func() {
		scrapeAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "import_scrape_attempts_total",
				Help: "Provider calls made by the scrape adapter, labeled by provider and result kind.",
			},
			[]string{"provider", "result"},
		)

		scrapeDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "import_scrape_duration_seconds",
				Help:    "Wall time per URL including retries, labeled by final result.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)

		importActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "import_active_workers",
				Help: "Number of workers currently scraping a URL.",
			},
		)

		importDraftsPublishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "import_drafts_published_total",
				Help: "Drafts handed to the publisher, labeled by result.",
			},
			[]string{"result"},
		)

		importRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "import_rate_limit_delays_seconds",
				Help:    "Histogram of politeness limiter wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		importRobotsFallbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "import_robots_fallbacks_total",
				Help: "robots.txt probes that fell back to allow-all, labeled by reason.",
			},
			[]string{"reason"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveScrapeAttempt counts one provider call.
func ObserveScrapeAttempt(provider, result string) {
	if scrapeAttemptsTotal == nil {
		return
	}
	scrapeAttemptsTotal.WithLabelValues(provider, result).Inc()
}

// ObserveScrape records the total time spent on one URL.
func ObserveScrape(result string, duration time.Duration) {
	if scrapeDurationSeconds == nil {
		return
	}
	scrapeDurationSeconds.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if importActiveWorkers == nil {
		return
	}
	importActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if importActiveWorkers == nil {
		return
	}
	importActiveWorkers.Dec()
}

// ObserveDraftPublished counts a publish attempt.
func ObserveDraftPublished(result string) {
	if importDraftsPublishedTotal == nil {
		return
	}
	importDraftsPublishedTotal.WithLabelValues(result).Inc()
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	if importRateLimitDelaysSeconds == nil {
		return
	}
	importRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveRobotsFallback counts a robots.txt probe that fell back to allow-all.
func ObserveRobotsFallback(reason string) {
	if importRobotsFallbacksTotal == nil {
		return
	}
	importRobotsFallbacksTotal.WithLabelValues(reason).Inc()
}
