// Package pubsub implements an events.Publisher on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/tender-watch/internal/events"
)

// Config names the topic and project.
type Config struct {
	ProjectID string `mapstructure:"project_id" yaml:"project_id"`
	TopicID   string `mapstructure:"topic_id" yaml:"topic_id"`
}

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	topic *pubsub.Topic
}

var _ events.Publisher = (*Publisher)(nil)

// New creates a Publisher for the provided topic.
func New(topic *pubsub.Topic) *Publisher {
	return &Publisher{topic: topic}
}

// Publish marshals evt to JSON and publishes it. The event type and purpose
// are copied into attributes so subscribers can filter without decoding.
func (p *Publisher) Publish(ctx context.Context, evt events.Event) (string, error) {
	if p.topic == nil {
		return "", fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"type":    string(evt.Type),
			"purpose": evt.Purpose,
		},
	}
	otel.GetTextMapPropagator().Inject(ctx, &attrCarrier{attrs: msg.Attributes})

	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish event: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages.
func (p *Publisher) Stop() {
	if p.topic != nil {
		p.topic.Stop()
	}
}

// attrCarrier implements propagation.TextMapCarrier for message attributes.
type attrCarrier struct {
	attrs map[string]string
}

func (c *attrCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *attrCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *attrCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
