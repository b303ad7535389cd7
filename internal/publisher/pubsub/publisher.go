// Package pubsub publishes item drafts to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"google.golang.org/api/option"

	"github.com/JakeFAU/readlater-importer/internal/hash/sha256"
	"github.com/JakeFAU/readlater-importer/internal/importer"
)

// Message attributes. AttrContentHash is the SHA-256 of the markdown body and
// is omitted when the body is empty.
const (
	AttrBatchID     = "batch_id"
	AttrURL         = "url"
	AttrContentHash = "content_sha256"
)

var hasher = sha256.New()

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// New creates a Publisher for an existing topic handle. The caller owns the client.
func New(topic *pubsub.Topic) *Publisher {
	return &Publisher{topic: topic}
}

// Dial connects to projectID and verifies that topicID exists.
func Dial(ctx context.Context, projectID, topicID string, opts ...option.ClientOption) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("check pubsub topic %q: %w", topicID, err), client.Close())
	}
	if !exists {
		return nil, errors.Join(
			fmt.Errorf("pubsub topic %q does not exist in project %q", topicID, projectID),
			client.Close(),
		)
	}
	return &Publisher{client: client, topic: topic}, nil
}

// Publish marshals the draft to JSON and waits for the server to accept it.
func (p *Publisher) Publish(ctx context.Context, batchID string, draft importer.ItemDraft) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub publisher is not configured")
	}
	data, err := json.Marshal(draft)
	if err != nil {
		return "", fmt.Errorf("marshal draft: %w", err)
	}

	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			AttrBatchID: batchID,
			AttrURL:     draft.URL,
		},
	}
	if sum := hasher.Content(draft.Content); sum != "" {
		msg.Attributes[AttrContentHash] = sum
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish draft: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and releases the client when Dial created it.
func (p *Publisher) Close() error {
	if p == nil || p.topic == nil {
		return nil
	}
	p.topic.Stop()
	if p.client == nil {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
