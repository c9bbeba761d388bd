package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/soilwatch/pkg/broker/brokertest"
)

func TestOptionsDisableAutoReconnect(t *testing.T) {
	opts := Options(Config{Host: "10.0.0.2", Port: 1883, User: "device", Password: "tok", ClientID: "soilwatch-1"})
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "tcp://10.0.0.2:1883", opts.Servers[0].String())
	assert.False(t, opts.AutoReconnect)
	assert.False(t, opts.ConnectRetry)
	assert.Equal(t, "soilwatch-1", opts.ClientID)
	assert.Equal(t, "ssl://cloud:8883", Config{Scheme: "ssl", Host: "cloud", Port: 8883}.URL())
}

func TestWaitHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := Wait(ctx, brokertest.Pending())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	boom := errors.New("boom")
	assert.ErrorIs(t, Wait(context.Background(), brokertest.Completed(boom)), boom)
}

func TestPublisher(t *testing.T) {
	c := brokertest.NewClient()
	ctx := context.Background()
	p := NewPublisher(c, "soilwatch/dev/events/alert", false)

	assert.ErrorIs(t, p.Publish(ctx, "x"), ErrNotConnected)

	require.NoError(t, Wait(ctx, c.Connect()))
	require.NoError(t, p.PublishJSON(ctx, map[string]int{"moisture": 12}))
	assert.Error(t, p.Publish(ctx, 12))

	pub := c.Published()
	require.Len(t, pub, 1)
	assert.Equal(t, byte(1), pub[0].QoS)
	assert.JSONEq(t, `{"moisture":12}`, string(pub[0].Payload))
}

func TestSubscribeReplaysRetained(t *testing.T) {
	c := brokertest.NewClient()
	ctx := context.Background()
	c.Retain("soilwatch/dev/in/V1", "35")
	require.NoError(t, Wait(ctx, c.Connect()))

	var got []string
	err := Subscribe(ctx, c, "soilwatch/dev/in/+", func(_ mqtt.Client, m mqtt.Message) {
		got = append(got, m.Topic()+"="+string(m.Payload()))
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"soilwatch/dev/in/V1=35"}, got)

	require.NoError(t, Unsubscribe(ctx, c, "soilwatch/dev/in/+"))
	assert.Empty(t, c.Subscriptions())
}

func TestQosFor(t *testing.T) {
	assert.Equal(t, byte(1), qosFor("soilwatch/dev/in/V1"))
	assert.Equal(t, byte(1), qosFor("soilwatch/dev/out/V5"))
	assert.Equal(t, byte(0), qosFor("soilwatch/dev/debug"))
}

func TestMatch(t *testing.T) {
	assert.True(t, brokertest.Match("a/+/c", "a/b/c"))
	assert.True(t, brokertest.Match("a/#", "a/b/c"))
	assert.False(t, brokertest.Match("a/+", "a/b/c"))
	assert.False(t, brokertest.Match("a/b/c", "a/b"))
}
