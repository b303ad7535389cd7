// Package importer defines the domain types shared by the bulk import pipeline:
// jobs, scrape outcomes, item drafts, progress events and batch summaries.
package importer

import (
	"fmt"
	"time"
)

// ErrorKind classifies a per-URL failure.
type ErrorKind string

// Failure kinds reported on error events and in batch summaries.
const (
	KindInvalidURL         ErrorKind = "InvalidUrl"
	KindTimeout            ErrorKind = "Timeout"
	KindRateLimited        ErrorKind = "RateLimited"
	KindProviderError      ErrorKind = "ProviderError"
	KindUnsupportedContent ErrorKind = "UnsupportedContent"
	KindCancelled          ErrorKind = "Cancelled"
)

// ItemStatus mirrors the lifecycle of a saved item.
type ItemStatus string

// Item lifecycle states.
const (
	ItemPending    ItemStatus = "PENDING"
	ItemProcessing ItemStatus = "PROCESSING"
	ItemCompleted  ItemStatus = "COMPLETED"
	ItemFailed     ItemStatus = "FAILED"
)

// EventStatus is the per-URL result carried by a ProgressEvent.
type EventStatus string

// Progress event statuses.
const (
	StatusSuccess EventStatus = "success"
	StatusError   EventStatus = "error"
)

// ImportJob is one scheduled unit of work. A retry produces a new value via Next.
type ImportJob struct {
	URL     string
	Attempt int
}

// NewJob returns the first attempt for url.
func NewJob(url string) ImportJob {
	return ImportJob{URL: url, Attempt: 1}
}

// Next returns the job for the following attempt.
func (j ImportJob) Next() ImportJob {
	return ImportJob{URL: j.URL, Attempt: j.Attempt + 1}
}

// Page is what a provider extracted from a URL.
type Page struct {
	URL          string
	StatusCode   int
	Title        string
	Author       string
	Summary      string
	Tags         []string
	Image        string
	CanonicalURL string
	SiteName     string
	Content      string
}

// ItemDraft is the unsaved item produced by a successful scrape.
type ItemDraft struct {
	URL          string     `json:"url"`
	Title        string     `json:"title,omitempty"`
	Author       string     `json:"author,omitempty"`
	Summary      string     `json:"summary,omitempty"`
	Tags         []string   `json:"tags"`
	OGImage      string     `json:"og_image,omitempty"`
	CanonicalURL string     `json:"canonical_url,omitempty"`
	SiteName     string     `json:"site_name,omitempty"`
	Content      string     `json:"content,omitempty"`
	Status       ItemStatus `json:"status"`
}

// DraftFromPage builds a completed draft for url from the extracted page.
func DraftFromPage(url string, page Page) ItemDraft {
	tags := page.Tags
	if tags == nil {
		tags = []string{}
	}
	return ItemDraft{
		URL:          url,
		Title:        page.Title,
		Author:       page.Author,
		Summary:      page.Summary,
		Tags:         tags,
		OGImage:      page.Image,
		CanonicalURL: page.CanonicalURL,
		SiteName:     page.SiteName,
		Content:      page.Content,
		Status:       ItemCompleted,
	}
}

// Failure describes why a scrape did not produce a draft.
type Failure struct {
	Kind      ErrorKind
	Message   string
	Retryable bool
}

// Outcome is the total result of scraping one URL, including retries.
// Exactly one of Draft and Failure is set.
type Outcome struct {
	URL      string
	Draft    *ItemDraft
	Failure  *Failure
	Attempts int
	Elapsed  time.Duration
}

// Succeeded reports whether the outcome carries a draft.
func (o Outcome) Succeeded() bool {
	return o.Draft != nil && o.Failure == nil
}

// ProgressEvent reports the completion of one URL within a batch.
type ProgressEvent struct {
	Completed int         `json:"completed"`
	Total     int         `json:"total"`
	URL       string      `json:"url"`
	Status    EventStatus `json:"status"`
	Reason    ErrorKind   `json:"reason,omitempty"`
	Message   string      `json:"message,omitempty"`
	Attempts  int         `json:"attempts,omitempty"`
	// Draft is set on success events for the caller to persist.
	Draft *ItemDraft `json:"-"`
}

// NewProgressEvent converts an outcome into the event for the given position.
func NewProgressEvent(outcome Outcome, completed, total int) ProgressEvent {
	evt := ProgressEvent{
		Completed: completed,
		Total:     total,
		URL:       outcome.URL,
		Attempts:  outcome.Attempts,
	}
	if outcome.Succeeded() {
		evt.Status = StatusSuccess
		evt.Draft = outcome.Draft
		return evt
	}
	evt.Status = StatusError
	if outcome.Failure != nil {
		evt.Reason = outcome.Failure.Kind
		evt.Message = outcome.Failure.Message
	}
	if evt.Reason == "" {
		evt.Reason = KindProviderError
	}
	return evt
}

// FailureEntry is one failed URL in a BatchSummary.
type FailureEntry struct {
	URL     string    `json:"url"`
	Reason  ErrorKind `json:"reason"`
	Message string    `json:"message,omitempty"`
}

// BatchSummary is the terminal result of a batch.
type BatchSummary struct {
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Failures  []FailureEntry `json:"failures"`
}

// Message renders the end-of-batch notice shown to users.
func (s BatchSummary) Message() string {
	if s.Failed == 0 {
		return fmt.Sprintf("Successfully imported %d URLs!", s.Succeeded)
	}
	return fmt.Sprintf("Imported with some errors. Success: %d, Failed: %d", s.Succeeded, s.Failed)
}
