package sensor

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/soilwatch/internal/clock"
	"github.com/LeonardoBeccarini/soilwatch/internal/model"
	"github.com/LeonardoBeccarini/soilwatch/internal/state"
)

// Publisher pushes a value to a dashboard channel.
type Publisher interface {
	VirtualWrite(ch model.Channel, value string) error
}

// Sink receives every sample, e.g. telemetry or metrics. Must not block.
type Sink interface {
	RecordReading(m model.ReadingMessage)
}

type Config struct {
	DeviceID    string
	Pin         int
	Channel     model.Channel
	Calibration model.Calibration
	Interval    time.Duration
	// Gate is the poll interval of the one-time wait for the session.
	Gate time.Duration
}

type Sampler struct {
	cfg     Config
	reader  Reader
	reading *state.Reading
	pub     Publisher
	ready   func() bool
	clock   clock.Clock
	sinks   []Sink
	log     zerolog.Logger

	samples     atomic.Uint64
	readErrors  atomic.Uint64
	writeErrors atomic.Uint64
}

type Option func(*Sampler)

func WithClock(c clock.Clock) Option { return func(s *Sampler) { s.clock = c } }

func WithSink(k Sink) Option { return func(s *Sampler) { s.sinks = append(s.sinks, k) } }

func NewSampler(cfg Config, r Reader, reading *state.Reading, pub Publisher, ready func() bool, lg zerolog.Logger, opts ...Option) *Sampler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Gate <= 0 {
		cfg.Gate = 10 * time.Second
	}
	if ready == nil {
		ready = func() bool { return true }
	}
	s := &Sampler{
		cfg:     cfg,
		reader:  r,
		reading: reading,
		pub:     pub,
		ready:   ready,
		clock:   clock.Real{},
		log:     lg,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run waits once for the session, then samples every Interval until ctx ends.
func (s *Sampler) Run(ctx context.Context) error {
	for !s.ready() {
		s.log.Info().Dur("retry_in", s.cfg.Gate).Msg("waiting for session before sampling")
		if err := s.clock.Sleep(ctx, s.cfg.Gate); err != nil {
			return nil
		}
	}
	s.log.Info().Int("pin", s.cfg.Pin).Dur("interval", s.cfg.Interval).Msg("sampler started")
	for {
		_, _ = s.Sample()
		if err := s.clock.Sleep(ctx, s.cfg.Interval); err != nil {
			s.log.Info().Msg("sampler stopped")
			return nil
		}
	}
}

// Sample performs one read, publish and push.
func (s *Sampler) Sample() (model.ReadingMessage, error) {
	raw, err := s.reader.ReadAnalog(s.cfg.Pin)
	if err != nil {
		s.readErrors.Add(1)
		s.log.Warn().Err(err).Int("pin", s.cfg.Pin).Msg("sensor read failed")
		return model.ReadingMessage{}, err
	}
	pct := s.reading.Store(s.cfg.Calibration.Percent(raw))
	s.samples.Add(1)

	msg := model.ReadingMessage{
		DeviceID:  s.cfg.DeviceID,
		Raw:       raw,
		Moisture:  pct,
		Timestamp: s.clock.Now().UTC(),
	}
	s.log.Debug().Int("raw", raw).Int("moisture", pct).Msg("sample")

	if s.pub != nil {
		if err := s.pub.VirtualWrite(s.cfg.Channel, strconv.Itoa(pct)); err != nil {
			// Expected while the session is down; the dashboard shows a stale value.
			s.writeErrors.Add(1)
			s.log.Debug().Err(err).Str("channel", s.cfg.Channel.String()).Msg("dashboard write failed")
		}
	}
	for _, k := range s.sinks {
		k.RecordReading(msg)
	}
	return msg, nil
}

// Stats returns samples taken, read errors and dashboard write errors.
func (s *Sampler) Stats() (samples, readErrors, writeErrors uint64) {
	return s.samples.Load(), s.readErrors.Load(), s.writeErrors.Load()
}
