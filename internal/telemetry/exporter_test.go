package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/soilwatch/internal/model"
	"github.com/LeonardoBeccarini/soilwatch/internal/retry"
)

type fakeWriter struct {
	mu     sync.Mutex
	points []*write.Point
	err    error
	calls  int
}

func (f *fakeWriter) WritePoint(_ context.Context, p ...*write.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.points = append(f.points, p...)
	return nil
}

func (f *fakeWriter) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, p := range f.points {
		out = append(out, p.Name())
	}
	return out
}

func TestExporterWritesQueuedPoints(t *testing.T) {
	fw := &fakeWriter{}
	e := newExporter(Config{DeviceID: "pot1", Bucket: "soil"}, fw, zerolog.Nop())

	e.RecordReading(model.ReadingMessage{Raw: 2550, Moisture: 50, Timestamp: time.Unix(10, 0)})
	e.OnTransition("link", model.Connecting, model.Connected)
	e.OnAttempt("session", retry.Result{Outcome: retry.OutcomeTimeout, Elapsed: 10 * time.Second})
	require.NoError(t, e.Alert(context.Background(), model.AlertMessage{Moisture: 10, Minimum: 30}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, e.Run(ctx))

	assert.Equal(t, []string{measurementReading, measurementConn, measurementAttempt, measurementAlert}, fw.names())
	p := fw.points[0]
	require.Len(t, p.TagList(), 1)
	assert.Equal(t, "pot1", p.TagList()[0].Value)
	assert.Equal(t, uint64(4), e.Stats().Written)
}

func TestExporterBreakerOpensOnFailures(t *testing.T) {
	fw := &fakeWriter{err: errors.New("connection refused")}
	e := newExporter(Config{BreakerFails: 2, BreakerOpen: time.Hour}, fw, zerolog.Nop())

	for i := 0; i < 5; i++ {
		e.RecordReading(model.ReadingMessage{Moisture: i})
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, e.Run(ctx))

	assert.Equal(t, 2, fw.calls, "open breaker skips the database")
	assert.False(t, e.Healthy())
	st := e.Stats()
	assert.Equal(t, uint64(5), st.Failed)
	assert.Equal(t, "open", st.Breaker)
	assert.Less(t, e.LastErrorAge(), time.Minute)
}

func TestExporterDropsWhenQueueFull(t *testing.T) {
	e := newExporter(Config{QueueSize: 1}, &fakeWriter{}, zerolog.Nop())
	e.RecordReading(model.ReadingMessage{})
	e.RecordReading(model.ReadingMessage{})
	assert.Equal(t, uint64(1), e.Stats().Dropped)
	assert.True(t, e.Healthy())
	assert.Greater(t, e.LastErrorAge(), time.Hour)
}
