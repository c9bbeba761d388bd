package notify

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/soilwatch/internal/clock"
	"github.com/LeonardoBeccarini/soilwatch/internal/model"
	"github.com/LeonardoBeccarini/soilwatch/internal/state"
)

type recAlerter struct{ got []model.AlertMessage }

func (r *recAlerter) Alert(_ context.Context, m model.AlertMessage) error {
	r.got = append(r.got, m)
	return nil
}

// play feeds one reading per elapsed second and stops the notifier when the
// sequence is exhausted.
func play(t *testing.T, minimum int, seq []int) *recAlerter {
	t.Helper()
	clk := clock.NewFake(time.Unix(0, 0))
	reading := state.NewReading()
	reading.Store(seq[0])
	rec := &recAlerter{}
	n := New("pot1", reading, state.NewThreshold(minimum), rec, zerolog.Nop(), WithClock(clk))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	i := 0
	clk.OnSleep(func(_ time.Time, d time.Duration) {
		require.Equal(t, time.Second, d)
		i++
		if i >= len(seq) {
			cancel()
			return
		}
		reading.Store(seq[i])
	})
	require.NoError(t, n.Run(ctx))
	assert.Equal(t, uint64(len(rec.got)), n.Signals())
	return rec
}

func TestSignalsOncePerCrossing(t *testing.T) {
	rec := play(t, 30, []int{50, 50, 20, 20, 20, 20, 20, 20, 50, 50, 50})
	require.Len(t, rec.got, 1)
	assert.Equal(t, 20, rec.got[0].Moisture)
	assert.Equal(t, 30, rec.got[0].Minimum)
	assert.Equal(t, "pot1", rec.got[0].DeviceID)
}

func TestSignalsAgainAfterRecovery(t *testing.T) {
	rec := play(t, 30, []int{20, 20, 40, 40, 25, 25, 40})
	assert.Len(t, rec.got, 2)
}

func TestAtThresholdCountsAsLow(t *testing.T) {
	rec := play(t, 30, []int{30, 30, 30})
	assert.Len(t, rec.got, 1)
}

// No hysteresis: a reading hovering around the minimum re-signals on every
// dip.
func TestOscillationReSignals(t *testing.T) {
	rec := play(t, 30, []int{29, 31, 29, 31, 29, 31})
	assert.Len(t, rec.got, 3)
}

func TestNoSignalBeforeFirstReading(t *testing.T) {
	reading := state.NewReading()
	rec := &recAlerter{}
	n := New("pot1", reading, state.NewThreshold(100), rec, zerolog.Nop())

	assert.False(t, n.Check(context.Background()))
	assert.Empty(t, rec.got)

	reading.Store(0)
	assert.True(t, n.Check(context.Background()))
	assert.True(t, n.Low())
}

func TestThresholdChangeRearms(t *testing.T) {
	reading := state.NewReading()
	reading.Store(40)
	th := state.NewThreshold(30)
	n := New("pot1", reading, th, nil, zerolog.Nop())

	assert.False(t, n.Check(context.Background()))
	th.Set(45)
	assert.True(t, n.Check(context.Background()))
	assert.Equal(t, uint64(1), n.Signals())
}

type chanWriter struct {
	ch  model.Channel
	val string
	err error
}

func (w *chanWriter) VirtualWrite(ch model.Channel, v string) error {
	w.ch, w.val = ch, v
	return w.err
}

type evPub struct{ kinds []string }

func (p *evPub) PublishEvent(_ context.Context, kind string, _ any) error {
	p.kinds = append(p.kinds, kind)
	return nil
}

func TestAlerters(t *testing.T) {
	var buf bytes.Buffer
	w := &chanWriter{}
	ev := &evPub{}
	msg := model.AlertMessage{Moisture: 12, Minimum: 30}

	a := Multi{
		LogAlerter{Log: zerolog.New(&buf)},
		DashboardAlerter{Writer: w, Channel: 2, Events: ev},
	}
	require.NoError(t, a.Alert(context.Background(), msg))
	assert.Contains(t, buf.String(), "plant needs watering")
	assert.Equal(t, model.Channel(2), w.ch)
	assert.Equal(t, "Water me! moisture 12% (minimum 30%)", w.val)
	assert.Equal(t, []string{"alert"}, ev.kinds)

	offline := errors.New("offline")
	w.err = offline
	failing := AlerterFunc(func(context.Context, model.AlertMessage) error { return errors.New("led broken") })
	err := Multi{DashboardAlerter{Writer: w, Channel: 2}, failing}.Alert(context.Background(), msg)
	assert.ErrorIs(t, err, offline)
	assert.ErrorContains(t, err, "led broken")
}
