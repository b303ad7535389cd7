// Package firecrawl implements importer.Provider against a Firecrawl-compatible
// hosted scraping API.
package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/readlater-importer/internal/importer"
)

// DefaultBaseURL is the hosted API endpoint.
const DefaultBaseURL = "https://api.firecrawl.dev"

const maxErrorBody = 4 << 10

// Config controls the API client.
type Config struct {
	BaseURL string
	APIKey  string
	// Timeout bounds the HTTP exchange; the adapter deadline usually fires first.
	Timeout time.Duration
}

// Client calls the scrape endpoint.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	now     func() time.Time
	logger  *zap.Logger
}

// New builds a Client. A nil httpClient gets one with cfg.Timeout.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("firecrawl api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    httpClient,
		now:     time.Now,
		logger:  logger.Named("firecrawl"),
	}, nil
}

type scrapeRequest struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats"`
	OnlyMainContent bool     `json:"onlyMainContent"`
}

type scrapeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		Markdown string   `json:"markdown"`
		Metadata metadata `json:"metadata"`
	} `json:"data"`
}

type metadata struct {
	Title         string          `json:"title"`
	OGTitle       string          `json:"ogTitle"`
	Description   string          `json:"description"`
	OGDescription string          `json:"ogDescription"`
	Author        string          `json:"author"`
	Keywords      json.RawMessage `json:"keywords"`
	OGImage       string          `json:"ogImage"`
	OGSiteName    string          `json:"ogSiteName"`
	Canonical     string          `json:"canonical"`
	SourceURL     string          `json:"sourceURL"`
	StatusCode    int             `json:"statusCode"`
	Error         string          `json:"error"`
}

// Scrape asks the API for the page's markdown and metadata.
func (c *Client) Scrape(ctx context.Context, url string) (importer.Page, error) {
	payload, err := json.Marshal(scrapeRequest{
		URL:             url,
		Formats:         []string{"markdown"},
		OnlyMainContent: true,
	})
	if err != nil {
		return importer.Page{}, fmt.Errorf("encode scrape request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/scrape", bytes.NewReader(payload))
	if err != nil {
		return importer.Page{}, fmt.Errorf("build scrape request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return importer.Page{}, fmt.Errorf("firecrawl request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		retryAfter := importer.ParseRetryAfter(resp.Header.Get("Retry-After"), c.now())
		c.logger.Debug("scrape rejected",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode),
		)
		return importer.Page{}, importer.HTTPStatusError(resp.StatusCode, retryAfter, errorMessage(body))
	}

	var out scrapeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return importer.Page{}, fmt.Errorf("decode scrape response: %w", err)
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = "scrape unsuccessful"
		}
		return importer.Page{}, &importer.ProviderError{Kind: importer.KindProviderError, Message: msg}
	}
	return toPage(url, out.Data.Markdown, out.Data.Metadata)
}

func toPage(url, markdown string, m metadata) (importer.Page, error) {
	if m.StatusCode >= 400 {
		return importer.Page{}, importer.HTTPStatusError(m.StatusCode, 0, m.Error)
	}
	page := importer.Page{
		URL:          url,
		StatusCode:   m.StatusCode,
		Title:        first(m.OGTitle, m.Title),
		Author:       m.Author,
		Summary:      first(m.OGDescription, m.Description),
		Tags:         keywords(m.Keywords),
		Image:        m.OGImage,
		CanonicalURL: m.Canonical,
		SiteName:     m.OGSiteName,
		Content:      strings.TrimSpace(markdown),
	}
	if page.Title == "" && page.Content == "" {
		return importer.Page{}, importer.UnsupportedContent("provider returned no content")
	}
	return page, nil
}

// keywords accepts either a comma separated string or a list of strings.
func keywords(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return []string{}
	}
	var parts []string
	var joined string
	if err := json.Unmarshal(raw, &joined); err == nil {
		parts = strings.Split(joined, ",")
	} else if err := json.Unmarshal(raw, &parts); err != nil {
		return []string{}
	}

	out := []string{}
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		key := strings.ToLower(p)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}

func errorMessage(body []byte) string {
	var out struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &out); err == nil && out.Error != "" {
		return out.Error
	}
	return strings.TrimSpace(string(body))
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
