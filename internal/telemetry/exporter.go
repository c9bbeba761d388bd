// Package telemetry exports readings and connection events to InfluxDB.
// Exporting never blocks the caller: points are queued and written by Run,
// behind a circuit breaker so a dead database costs nothing per sample.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/soilwatch/internal/model"
	"github.com/LeonardoBeccarini/soilwatch/internal/retry"
)

// pointWriter is the part of api.WriteAPIBlocking the exporter uses.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

type Config struct {
	URL          string
	Token        string
	Org          string
	Bucket       string
	DeviceID     string
	QueueSize    int
	WriteTimeout time.Duration
	// The breaker opens after BreakerFails consecutive failures and stays
	// open for BreakerOpen.
	BreakerFails uint32
	BreakerOpen  time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 512
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.BreakerFails == 0 {
		c.BreakerFails = 3
	}
	if c.BreakerOpen <= 0 {
		c.BreakerOpen = 30 * time.Second
	}
	return c
}

type Exporter struct {
	cfg   Config
	w     pointWriter
	cb    *gobreaker.CircuitBreaker
	queue chan *write.Point
	close func()
	now   func() time.Time
	log   zerolog.Logger

	lastErr atomic.Int64
	written atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// New connects to InfluxDB with the blocking write API.
func New(cfg Config, lg zerolog.Logger) *Exporter {
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPRequestTimeout(uint(cfg.withDefaults().WriteTimeout/time.Second)))
	e := newExporter(cfg, client.WriteAPIBlocking(cfg.Org, cfg.Bucket), lg)
	e.close = client.Close
	return e
}

func newExporter(cfg Config, w pointWriter, lg zerolog.Logger) *Exporter {
	cfg = cfg.withDefaults()
	e := &Exporter{
		cfg:   cfg,
		w:     w,
		queue: make(chan *write.Point, cfg.QueueSize),
		close: func() {},
		now:   time.Now,
		log:   lg,
	}
	e.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "influx",
		Timeout: cfg.BreakerOpen,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.BreakerFails
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("telemetry breaker state changed")
		},
	})
	return e
}

func (e *Exporter) RecordReading(m model.ReadingMessage) {
	if m.DeviceID == "" {
		m.DeviceID = e.cfg.DeviceID
	}
	e.enqueue(readingPoint(m))
}

func (e *Exporter) RecordAlert(m model.AlertMessage) {
	if m.DeviceID == "" {
		m.DeviceID = e.cfg.DeviceID
	}
	e.enqueue(alertPoint(m))
}

// Alert lets the exporter sit in an alerter fan-out.
func (e *Exporter) Alert(_ context.Context, m model.AlertMessage) error {
	e.RecordAlert(m)
	return nil
}

func (e *Exporter) OnAttempt(supervisor string, res retry.Result) {
	e.enqueue(attemptPoint(e.cfg.DeviceID, supervisor, res, e.now().UTC()))
}

func (e *Exporter) OnTransition(supervisor string, from, to model.ConnState) {
	e.enqueue(connPoint(e.cfg.DeviceID, model.ConnEvent{
		Supervisor: supervisor, From: from, To: to, Timestamp: e.now().UTC(),
	}))
}

func (e *Exporter) enqueue(p *write.Point) {
	select {
	case e.queue <- p:
	default:
		e.dropped.Add(1)
	}
}

// Run writes queued points until ctx ends, then flushes what is left within
// WriteTimeout and closes the client.
func (e *Exporter) Run(ctx context.Context) error {
	e.log.Info().Str("bucket", e.cfg.Bucket).Msg("telemetry exporter started")
	defer e.close()
	for {
		select {
		case <-ctx.Done():
			e.flush()
			e.log.Info().Uint64("written", e.written.Load()).Uint64("dropped", e.dropped.Load()).Msg("telemetry exporter stopped")
			return nil
		case p := <-e.queue:
			e.write(ctx, p)
		}
	}
}

func (e *Exporter) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.WriteTimeout)
	defer cancel()
	for {
		select {
		case p := <-e.queue:
			e.write(ctx, p)
		default:
			return
		}
	}
}

func (e *Exporter) write(ctx context.Context, p *write.Point) {
	_, err := e.cb.Execute(func() (interface{}, error) {
		wctx, cancel := context.WithTimeout(ctx, e.cfg.WriteTimeout)
		defer cancel()
		return nil, e.w.WritePoint(wctx, p)
	})
	if err == nil {
		e.written.Add(1)
		return
	}
	e.failed.Add(1)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return
	}
	e.lastErr.Store(e.now().UnixNano())
	e.log.Warn().Err(fmt.Errorf("influx write: %w", err)).Msg("telemetry write failed")
}

// Healthy is false while the breaker is open.
func (e *Exporter) Healthy() bool { return e.cb.State() != gobreaker.StateOpen }

// LastErrorAge is how long ago the last write error happened.
func (e *Exporter) LastErrorAge() time.Duration {
	t := e.lastErr.Load()
	if t == 0 {
		return 99999 * time.Hour
	}
	return e.now().Sub(time.Unix(0, t))
}

type Stats struct {
	Written uint64
	Failed  uint64
	Dropped uint64
	Breaker string
}

func (e *Exporter) Stats() Stats {
	return Stats{
		Written: e.written.Load(),
		Failed:  e.failed.Load(),
		Dropped: e.dropped.Load(),
		Breaker: e.cb.State().String(),
	}
}
