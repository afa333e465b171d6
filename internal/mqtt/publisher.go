package mqtt

import (
	"context"
	"encoding/json"

	"github.com/cropscan/cropscan/internal/errors"
	"github.com/cropscan/cropscan/internal/events"
)

// Publisher forwards scan events to the broker as JSON.
type Publisher struct {
	client Client
	topic  string
}

// NewPublisher returns an event consumer publishing on topic.
func NewPublisher(client Client, topic string) *Publisher {
	return &Publisher{client: client, topic: topic}
}

// Name implements events.EventConsumer.
func (p *Publisher) Name() string { return "mqtt" }

// ProcessEvent implements events.EventConsumer.
func (p *Publisher) ProcessEvent(ctx context.Context, event events.ScanEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Build()
	}

	if !p.client.IsConnected() {
		if err := p.client.Connect(ctx); err != nil {
			return err
		}
	}
	return p.client.Publish(ctx, p.topic, payload)
}
