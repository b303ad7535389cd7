// Package memory contains an in-memory draft publisher for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/readlater-importer/internal/importer"
)

// Publisher stores published drafts for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	failures map[string]error
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	ID      string
	BatchID string
	Draft   importer.ItemDraft
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{failures: make(map[string]error)}
}

// FailURL makes every publish of url return err.
func (p *Publisher) FailURL(url string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[url] = err
}

// Publish records the draft and returns a pseudo ID.
func (p *Publisher) Publish(ctx context.Context, batchID string, draft importer.ItemDraft) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish draft: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failures[draft.URL]; err != nil {
		return "", err
	}
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, PublishedMessage{ID: id, BatchID: batchID, Draft: draft})
	return id, nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Close is a no-op.
func (p *Publisher) Close() error {
	return nil
}
