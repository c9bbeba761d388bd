package broker

import (
	"context"
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher sends to a fixed topic.
type Publisher struct {
	client   mqtt.Client
	topic    string
	retained bool
}

func NewPublisher(client mqtt.Client, topic string, retained bool) *Publisher {
	return &Publisher{client: client, topic: topic, retained: retained}
}

func (p *Publisher) Topic() string { return p.topic }

// Publish sends payload as is. Strings and byte slices go out raw.
func (p *Publisher) Publish(ctx context.Context, payload any) error {
	return Publish(ctx, p.client, p.topic, p.retained, payload)
}

// PublishJSON marshals v before sending.
func (p *Publisher) PublishJSON(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", p.topic, err)
	}
	return p.Publish(ctx, b)
}

func Publish(ctx context.Context, client mqtt.Client, topic string, retained bool, payload any) error {
	if client == nil || !client.IsConnectionOpen() {
		return ErrNotConnected
	}
	switch payload.(type) {
	case string, []byte:
	default:
		return fmt.Errorf("publish %s: unsupported payload %T", topic, payload)
	}
	if err := Wait(ctx, client.Publish(topic, qosFor(topic), retained, payload)); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
