// Package collyprovider implements importer.Provider by fetching pages with
// gocolly and extracting them locally.
package collyprovider

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/readlater-importer/internal/extract"
	"github.com/JakeFAU/readlater-importer/internal/importer"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Detector reports whether a fetched document needs a JavaScript render.
type Detector interface {
	ShouldRender(status int, body []byte) bool
}

// Option customizes a Provider.
type Option func(*Provider)

// WithRenderer hands pages that detector flags to renderer instead of
// extracting the static HTML.
func WithRenderer(renderer importer.Provider, detector Detector) Option {
	return func(p *Provider) {
		p.renderer = renderer
		p.detector = detector
	}
}

// WithClock overrides the time source used for Retry-After dates.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// WithTransport replaces the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(p *Provider) {
		p.transport = rt
	}
}

// Provider scrapes pages with a Colly collector.
type Provider struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	renderer      importer.Provider
	detector      Detector
	now           func() time.Time
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// fetchResult is what the hooks capture for one visit.
type fetchResult struct {
	url     string
	status  int
	headers http.Header
	body    []byte
	err     error
}

// New builds a Provider.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	p := &Provider{
		cfg:       cfg,
		transport: newHTTPTransport(),
		now:       time.Now,
		logger:    logger.Named("colly"),
	}
	for _, opt := range opts {
		opt(p)
	}

	// Clones share the HTTP backend, so transport and timeout are fixed here.
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.RespectRobots {
		c.WithTransport(&robotsAwareTransport{base: p.transport, logger: p.logger})
	} else {
		c.WithTransport(p.transport)
	}
	p.baseCollector = c
	return p
}

// Scrape fetches url and extracts a Page from it.
func (p *Provider) Scrape(ctx context.Context, url string) (importer.Page, error) {
	var result fetchResult
	collector := p.buildCollector(&result)

	if err := p.runCollector(ctx, collector, url, &result); err != nil {
		return importer.Page{}, err
	}
	if result.status < 200 || result.status > 299 {
		retryAfter := importer.ParseRetryAfter(result.headers.Get("Retry-After"), p.now())
		return importer.Page{}, importer.HTTPStatusError(result.status, retryAfter, "")
	}
	if !isHTML(result.headers.Get("Content-Type")) {
		return importer.Page{}, importer.UnsupportedContent("content type %q is not HTML", result.headers.Get("Content-Type"))
	}

	if p.renderer != nil && p.detector != nil && p.detector.ShouldRender(result.status, result.body) {
		p.logger.Debug("promoting to renderer", zap.String("url", url))
		return p.renderer.Scrape(ctx, url)
	}

	page, err := extract.HTML(result.url, result.body)
	if err != nil {
		return importer.Page{}, err
	}
	page.StatusCode = result.status
	return page, nil
}

func (p *Provider) buildCollector(result *fetchResult) *colly.Collector {
	collector := p.baseCollector.Clone()
	configureCollectorHooks(collector, result)
	return collector
}

func configureCollectorHooks(hooks collectorHooks, result *fetchResult) {
	capture := func(r *colly.Response) {
		result.url = r.Request.URL.String()
		result.status = r.StatusCode
		result.headers = http.Header{}
		if r.Headers != nil {
			result.headers = r.Headers.Clone()
		}
		result.body = append([]byte(nil), r.Body...)
	}

	hooks.OnResponse(capture)

	// Colly reports every non-2xx status through OnError with the response attached.
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 && r.Request != nil {
			capture(r)
			return
		}
		result.err = err
	})
}

func (p *Provider) runCollector(ctx context.Context, collector *colly.Collector, url string, result *fetchResult) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if result.status > 0 {
			return nil
		}
		if err == nil {
			err = result.err
		}
		if err == nil {
			return errors.New("colly visit returned no response")
		}
		return classifyVisitError(err)
	}
}

func classifyVisitError(err error) error {
	switch {
	case errors.Is(err, colly.ErrRobotsTxtBlocked):
		return &importer.ProviderError{Kind: importer.KindProviderError, Message: "blocked by robots.txt", Err: err}
	case errors.Is(err, colly.ErrForbiddenURL), errors.Is(err, colly.ErrMissingURL):
		return &importer.ProviderError{Kind: importer.KindInvalidURL, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &importer.ProviderError{Kind: importer.KindTimeout, Retryable: true, Err: err}
	}
	return fmt.Errorf("colly visit failed: %w", err)
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	mediaType = strings.ToLower(mediaType)
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
