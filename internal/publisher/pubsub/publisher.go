// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/policy-crawler/internal/publisher"
)

// Config identifies the topic notifications are sent to.
type Config struct {
	ProjectID string
	TopicID   string
	// EnableOrdering turns on message ordering; messages then carry the
	// record identity key as ordering key.
	EnableOrdering bool
}

// Publisher wraps a Pub/Sub publisher client.
type Publisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	ordered   bool
}

var _ publisher.Publisher = (*Publisher)(nil)

// New dials Pub/Sub and prepares a publisher for cfg.TopicID.
func New(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.ProjectID == "" || cfg.TopicID == "" {
		return nil, errors.New("pubsub project_id and topic_id are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	pub := client.Publisher(cfg.TopicID)
	pub.EnableMessageOrdering = cfg.EnableOrdering
	return &Publisher{client: client, publisher: pub, ordered: cfg.EnableOrdering}, nil
}

// Publish marshals the payload to JSON and publishes it to the topic. The
// caller's trace context is propagated through message attributes.
func (p *Publisher) Publish(ctx context.Context, msg publisher.Message) (string, error) {
	if p == nil || p.publisher == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	out := &pubsub.Message{Data: data, Attributes: attributes(ctx, msg)}
	if p.ordered {
		out.OrderingKey = msg.OrderingKey
	}

	result := p.publisher.Publish(ctx, out)
	id, err := result.Get(ctx)
	if err != nil {
		if p.ordered && msg.OrderingKey != "" {
			p.publisher.ResumePublish(msg.OrderingKey)
		}
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and releases the client.
func (p *Publisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	p.publisher.Stop()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

// attributes copies the message attributes and injects the trace context.
func attributes(ctx context.Context, msg publisher.Message) map[string]string {
	attrs := make(map[string]string, len(msg.Attributes)+2)
	for k, v := range msg.Attributes {
		attrs[k] = v
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: attrs})
	return attrs
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
