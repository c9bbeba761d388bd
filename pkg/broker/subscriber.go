package broker

import (
	"context"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Subscribe registers handler for topic and returns once the broker acked.
// Messages are delivered on paho's router goroutine; handler must not block.
func Subscribe(ctx context.Context, client mqtt.Client, topic string, handler mqtt.MessageHandler) error {
	if client == nil || !client.IsConnectionOpen() {
		return ErrNotConnected
	}
	if err := Wait(ctx, client.Subscribe(topic, qosFor(topic), handler)); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

func Unsubscribe(ctx context.Context, client mqtt.Client, topics ...string) error {
	if client == nil || !client.IsConnectionOpen() {
		return ErrNotConnected
	}
	if err := Wait(ctx, client.Unsubscribe(topics...)); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", strings.Join(topics, ","), err)
	}
	return nil
}

// qosFor picks QoS 1 for dashboard state and commands, 0 for everything else.
func qosFor(topic string) byte {
	t := strings.TrimSpace(topic)
	if strings.Contains(t, "/in/") || strings.Contains(t, "/out/") ||
		strings.Contains(t, "/events/") {
		return 1
	}
	return 0
}
