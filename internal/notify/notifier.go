// Package notify raises the "needs watering" signal once per crossing below
// the configured minimum.
package notify

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/soilwatch/internal/clock"
	"github.com/LeonardoBeccarini/soilwatch/internal/model"
	"github.com/LeonardoBeccarini/soilwatch/internal/state"
)

type Notifier struct {
	deviceID  string
	reading   *state.Reading
	threshold *state.Threshold
	alerter   Alerter
	interval  time.Duration
	clock     clock.Clock
	log       zerolog.Logger

	signals atomic.Uint64
	low     atomic.Bool
}

type Option func(*Notifier)

func WithClock(c clock.Clock) Option { return func(n *Notifier) { n.clock = c } }

func WithInterval(d time.Duration) Option {
	return func(n *Notifier) {
		if d > 0 {
			n.interval = d
		}
	}
}

func New(deviceID string, reading *state.Reading, threshold *state.Threshold, alerter Alerter, lg zerolog.Logger, opts ...Option) *Notifier {
	n := &Notifier{
		deviceID:  deviceID,
		reading:   reading,
		threshold: threshold,
		alerter:   alerter,
		interval:  time.Second,
		clock:     clock.Real{},
		log:       lg,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Run checks every interval. After a signal it only re-arms once the
// reading is back above the minimum. There is no hysteresis band.
func (n *Notifier) Run(ctx context.Context) error {
	n.log.Info().Dur("interval", n.interval).Msg("notifier started")
	defer n.log.Info().Msg("notifier stopped")
	for {
		if n.Check(ctx) {
			if err := n.waitRecovered(ctx); err != nil {
				return nil
			}
		}
		if err := n.clock.Sleep(ctx, n.interval); err != nil {
			return nil
		}
	}
}

// Check signals if the current reading is at or below the minimum. A
// reading that was never published does not count.
func (n *Notifier) Check(ctx context.Context) bool {
	v, ok := n.reading.Load()
	if !ok {
		return false
	}
	minimum := n.threshold.Get()
	if v > minimum {
		return false
	}
	n.signal(ctx, v, minimum)
	return true
}

// Signals counts "needs watering" signals since start.
func (n *Notifier) Signals() uint64 { return n.signals.Load() }

// Low reports whether the notifier is waiting for the reading to recover.
func (n *Notifier) Low() bool { return n.low.Load() }

func (n *Notifier) signal(ctx context.Context, v, minimum int) {
	n.signals.Add(1)
	n.low.Store(true)
	msg := model.AlertMessage{
		DeviceID:  n.deviceID,
		Moisture:  v,
		Minimum:   minimum,
		Timestamp: n.clock.Now().UTC(),
	}
	if n.alerter == nil {
		return
	}
	if err := n.alerter.Alert(ctx, msg); err != nil {
		n.log.Warn().Err(err).Int("moisture", v).Msg("alert delivery failed")
	}
}

func (n *Notifier) waitRecovered(ctx context.Context) error {
	for {
		if err := n.clock.Sleep(ctx, n.interval); err != nil {
			return err
		}
		if v, ok := n.reading.Load(); ok && v > n.threshold.Get() {
			n.low.Store(false)
			n.log.Info().Int("moisture", v).Msg("moisture back above minimum")
			return nil
		}
	}
}
