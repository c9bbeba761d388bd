package monitor

import (
	"context"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/LeonardoBeccarini/soilwatch/internal/config"
	"github.com/LeonardoBeccarini/soilwatch/internal/dashboard"
	"github.com/LeonardoBeccarini/soilwatch/internal/link"
	"github.com/LeonardoBeccarini/soilwatch/internal/model"
	"github.com/LeonardoBeccarini/soilwatch/internal/sensor"
	"github.com/LeonardoBeccarini/soilwatch/pkg/broker/brokertest"
)

func testConfig() config.Config {
	c := config.Default()
	c.DeviceID = "pot1"
	c.HTTPAddr = ""
	c.WiFi.SSID = "garden"
	c.Dashboard.Auth = "tok"
	c.Dashboard.UseLocal = true
	c.Dashboard.Server = "10.0.0.2"
	c.Dashboard.Port = 1883
	c.Dashboard.InitialThreshold = 30
	c.Sensor.Interval = 5 * time.Millisecond
	c.Sensor.Gate = 5 * time.Millisecond
	c.Notifier.Interval = 5 * time.Millisecond
	for _, r := range []*config.Retry{&c.Link, &c.Session} {
		r.Timeout = 200 * time.Millisecond
		r.PollInterval = 2 * time.Millisecond
		r.CycleDelay = 5 * time.Millisecond
	}
	c.Session.Settle = 5 * time.Millisecond
	return c
}

type constReader struct{ raw int }

func (r constReader) ReadAnalog(int) (int, error) { return r.raw, nil }

func TestRuntimeEndToEnd(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	fake := brokertest.NewClient()
	fake.Retain("soilwatch/pot1/in/V1", "45")
	client := dashboard.New(dashboard.Config{Prefix: "soilwatch", Device: "pot1"}, zerolog.Nop(),
		dashboard.WithFactory(func(*mqtt.ClientOptions) mqtt.Client { return fake }))

	cal := cfg.Sensor.Calibration
	// 40% moisture: below the retained 45% threshold once it is applied.
	raw := cal.Wet + 60*(cal.Dry-cal.Wet)/100
	rt, err := New(cfg, Deps{
		Stack:  link.NewSimStack(nil, time.Millisecond),
		Client: client,
		Reader: constReader{raw: raw},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	require.Eventually(t, func() bool {
		s := rt.Snapshot()
		return s.Session == model.Connected.String() && s.Moisture != nil && s.Alerts > 0
	}, 5*time.Second, 5*time.Millisecond)

	snap := rt.Snapshot()
	assert.Equal(t, "connected", snap.Link)
	assert.Equal(t, 45, snap.Threshold, "retained threshold applied by the resync")
	assert.Equal(t, 40, *snap.Moisture)
	assert.True(t, snap.NeedsWater)
	assert.GreaterOrEqual(t, snap.Resyncs, uint64(1))
	assert.Equal(t, "10.0.0.2:1883", snap.Endpoint)

	var sawMoisture, sawAlert bool
	for _, p := range fake.Published() {
		switch p.Topic {
		case "soilwatch/pot1/out/V5":
			sawMoisture = string(p.Payload) == "40"
		case "soilwatch/pot1/out/V2":
			sawAlert = true
		}
	}
	assert.True(t, sawMoisture)
	assert.True(t, sawAlert)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not stop")
	}
	assert.False(t, client.Connected())
}

func TestNewRejectsUnknownStack(t *testing.T) {
	cfg := testConfig()
	cfg.WiFi.Stack = "zigbee"
	_, err := New(cfg, Deps{Reader: sensor.NewSysfsReader("")})
	assert.ErrorContains(t, err, "zigbee")
}

func TestSessionFollowsSimulatedLink(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	fake := brokertest.NewClient()
	client := dashboard.New(dashboard.Config{Prefix: "soilwatch", Device: "pot1"}, zerolog.Nop(),
		dashboard.WithFactory(func(*mqtt.ClientOptions) mqtt.Client { return fake }))
	stack := link.NewSimStack(nil, time.Millisecond)
	rt, err := New(cfg, Deps{Stack: stack, Client: client, Reader: constReader{raw: cfg.Sensor.Calibration.Wet}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	connected := model.Connected.String()
	require.Eventually(t, func() bool {
		return rt.Snapshot().Session == connected
	}, 5*time.Second, 5*time.Millisecond)
	resyncs := rt.Snapshot().Resyncs

	stack.SetOutage(true)
	require.Eventually(t, func() bool {
		s := rt.Snapshot()
		return s.Link != connected && s.Session != connected
	}, 5*time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool {
		return rt.Snapshot().Session == connected
	}, 100*time.Millisecond, 5*time.Millisecond, "session up while the link is down")

	stack.SetOutage(false)
	require.Eventually(t, func() bool {
		s := rt.Snapshot()
		return s.Link == connected && s.Session == connected && s.Resyncs > resyncs
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not stop")
	}
}
