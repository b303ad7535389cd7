package importer

import (
	"context"
	"io"
	"time"
)

// Provider extracts a page from a URL. Implementations return a *ProviderError
// for classified failures; any other error is treated as a transport failure.
type Provider interface {
	Scrape(ctx context.Context, url string) (Page, error)
}

// DraftPublisher hands successful drafts to the item repository boundary.
type DraftPublisher interface {
	Publish(ctx context.Context, batchID string, draft ItemDraft) (string, error)
}

// BlobStore persists report artifacts.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}
