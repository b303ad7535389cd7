// Package headless implements importer.Provider with a headless Chrome
// instance driven through chromedp, for pages that only render client side.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/readlater-importer/internal/extract"
	"github.com/JakeFAU/readlater-importer/internal/importer"
)

const defaultNavigationTimeout = 45 * time.Second

// Config controls the behavior of the headless provider.
type Config struct {
	// MaxParallel bounds concurrent browser tabs. Zero means unbounded.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay is waited after body is ready so client scripts can render.
	SettleDelay time.Duration
}

// Provider renders pages in headless Chrome and extracts the resulting DOM.
type Provider struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	now         func() time.Time
	logger      *zap.Logger
}

// NewChromedp creates a provider backed by a shared chromedp allocator.
func NewChromedp(cfg Config, logger *zap.Logger) (*Provider, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Provider{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		now:         time.Now,
		logger:      logger.Named("headless"),
	}, nil
}

// Close shuts the browser down.
func (p *Provider) Close() {
	p.allocCancel()
}

// Scrape navigates to url, waits for the page to render and extracts it.
func (p *Provider) Scrape(ctx context.Context, url string) (importer.Page, error) {
	if err := p.acquire(ctx); err != nil {
		return importer.Page{}, err
	}
	defer p.release()

	taskCtx, taskCancel := chromedp.NewContext(p.allocator)
	defer taskCancel()

	// Tie the tab to the caller so cancellation closes it.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, p.navTimeout())
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := p.render(taskCtx, url)
	if err != nil {
		if ctx.Err() != nil {
			return importer.Page{}, fmt.Errorf("headless render canceled: %w", ctx.Err())
		}
		return importer.Page{}, err
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(url, finalURL)
	p.logger.Debug("rendered page",
		zap.String("url", url),
		zap.Int("status", status),
		zap.Duration("duration", time.Since(start)),
	)
	if status < 200 || status > 299 {
		retryAfter := importer.ParseRetryAfter(headers.Get("Retry-After"), p.now())
		return importer.Page{}, importer.HTTPStatusError(status, retryAfter, "")
	}

	page, err := extract.HTML(responseURL, []byte(html))
	if err != nil {
		return importer.Page{}, err
	}
	page.StatusCode = status
	return page, nil
}

func (p *Provider) render(ctx context.Context, url string) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		p.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(p.cfg.SettleDelay),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (p *Provider) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if p.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(p.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (p *Provider) acquire(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	select {
	case p.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (p *Provider) release() {
	if p.limiter == nil {
		return
	}
	select {
	case <-p.limiter:
	default:
	}
}

func (p *Provider) navTimeout() time.Duration {
	if p.cfg.NavigationTimeout > 0 {
		return p.cfg.NavigationTimeout
	}
	return defaultNavigationTimeout
}

// responseMeta records the main document response seen on the network domain.
type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Frames report document responses too; the first one is the main page.
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
}

func (m *responseMeta) snapshot() (int, http.Header, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.headers.Clone(), m.url
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	status, headers, url := m.snapshot()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, url
}
