// Package pubsub publishes crawl progress messages to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// OrderingAttr is the attribute whose value becomes the ordering key when
// the topic has message ordering enabled, so one run's events arrive in order.
const OrderingAttr = "run_id"

// Publisher sends JSON messages to one topic.
type Publisher struct {
	topic *pubsub.Topic
}

// New wraps topic.
func New(topic *pubsub.Topic) *Publisher {
	return &Publisher{topic: topic}
}

// Publish encodes payload as JSON and blocks until the server acknowledges
// it. The trace context in ctx travels in the message attributes.
func (p *Publisher) Publish(ctx context.Context, attrs map[string]string, payload any) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub topic is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	carrier := propagation.MapCarrier(maps.Clone(attrs))
	if carrier == nil {
		carrier = propagation.MapCarrier{}
	}
	carrier["content_type"] = "application/json"
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	msg := &pubsub.Message{Data: data, Attributes: carrier}
	if p.topic.EnableMessageOrdering {
		msg.OrderingKey = attrs[OrderingAttr]
	}

	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		if msg.OrderingKey != "" {
			// A failed ordered publish pauses the key until resumed.
			p.topic.ResumePublish(msg.OrderingKey)
		}
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Stop flushes buffered messages.
func (p *Publisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}
