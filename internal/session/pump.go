package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/soilwatch/internal/clock"
	"github.com/LeonardoBeccarini/soilwatch/internal/model"
	"github.com/LeonardoBeccarini/soilwatch/pkg/dedup"
)

// Handler applies one inbound write. It runs on the pump goroutine.
type Handler func(w model.Write) error

type event struct {
	resync bool
	write  model.Write
}

// PumpStats is a snapshot of the pump counters.
type PumpStats struct {
	Resyncs      uint64
	ResyncErrors uint64
	Writes       uint64
	Duplicates   uint64
	Dropped      uint64
}

// Pump is the inbound message pump. Resync requests and remote writes share
// one FIFO, so a resync queued on connect is applied before any write that
// arrives after it.
type Pump struct {
	client Client
	queue  chan event
	dedup  *dedup.Deduper
	log    zerolog.Logger
	clock  clock.Clock
	retry  time.Duration
	failed chan struct{}

	mu       sync.RWMutex
	handlers map[model.Channel]Handler

	pending      atomic.Bool
	resyncs      atomic.Uint64
	resyncErrors atomic.Uint64
	writes       atomic.Uint64
	duplicates   atomic.Uint64
	dropped      atomic.Uint64
}

type PumpOption func(*Pump)

func WithQueueSize(n int) PumpOption {
	return func(p *Pump) {
		if n > 0 {
			p.queue = make(chan event, n)
		}
	}
}

func WithDeduper(d *dedup.Deduper) PumpOption { return func(p *Pump) { p.dedup = d } }

// WithResyncRetry sets the delay before a failed resync is retried.
func WithResyncRetry(d time.Duration) PumpOption { return func(p *Pump) { p.retry = d } }

func WithPumpClock(c clock.Clock) PumpOption { return func(p *Pump) { p.clock = c } }

func NewPump(client Client, lg zerolog.Logger, opts ...PumpOption) *Pump {
	p := &Pump{
		client:   client,
		queue:    make(chan event, 256),
		dedup:    dedup.New(time.Minute, 512),
		log:      lg,
		clock:    clock.Real{},
		retry:    time.Second,
		failed:   make(chan struct{}, 1),
		handlers: make(map[model.Channel]Handler),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Handle registers h for writes to ch, replacing any previous handler.
func (p *Pump) Handle(ch model.Channel, h Handler) {
	p.mu.Lock()
	p.handlers[ch] = h
	p.mu.Unlock()
}

// Deliver queues an inbound write. It never blocks the transport; when the
// queue is full the write is dropped and counted.
func (p *Pump) Deliver(w model.Write) {
	select {
	case p.queue <- event{write: w}:
	default:
		p.dropped.Add(1)
		p.log.Warn().Str("channel", w.Channel.String()).Msg("pump queue full, write dropped")
	}
}

// PostResync queues a full resync. It waits for queue space rather than
// dropping the request.
func (p *Pump) PostResync(ctx context.Context) error {
	select {
	case p.queue <- event{resync: true}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes events until ctx ends.
func (p *Pump) Run(ctx context.Context) error {
	p.log.Info().Msg("pump started")
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.retryResync(ctx)
	}()
	defer func() { <-done }()
	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("pump stopped")
			return nil
		case ev := <-p.queue:
			p.process(ev)
		}
	}
}

// retryResync re-queues a failed resync after the retry delay. It gives up
// once the session drops; the next connect queues a fresh resync.
func (p *Pump) retryResync(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.failed:
		}
		if err := p.clock.Sleep(ctx, p.retry); err != nil {
			return
		}
		if !p.pending.Load() {
			continue
		}
		if !p.client.Connected() {
			p.log.Debug().Msg("session down, resync retry abandoned")
			continue
		}
		if err := p.PostResync(ctx); err != nil {
			return
		}
	}
}

// Pending reports whether the last resync failed and has not been redone.
func (p *Pump) Pending() bool { return p.pending.Load() }

// RunOnce processes at most one queued event without blocking.
func (p *Pump) RunOnce() bool {
	select {
	case ev := <-p.queue:
		p.process(ev)
		return true
	default:
		return false
	}
}

// Drain processes everything currently queued and returns the count.
func (p *Pump) Drain() int {
	n := 0
	for p.RunOnce() {
		n++
	}
	return n
}

func (p *Pump) Stats() PumpStats {
	return PumpStats{
		Resyncs:      p.resyncs.Load(),
		ResyncErrors: p.resyncErrors.Load(),
		Writes:       p.writes.Load(),
		Duplicates:   p.duplicates.Load(),
		Dropped:      p.dropped.Load(),
	}
}

func (p *Pump) process(ev event) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Msg("inbound handler panicked")
		}
	}()
	if ev.resync {
		p.resync()
		return
	}
	p.dispatch(ev.write)
}

func (p *Pump) resync() {
	p.resyncs.Add(1)
	if err := p.client.SyncAll(); err != nil {
		p.resyncErrors.Add(1)
		p.pending.Store(true)
		p.log.Warn().Err(err).Msg("resync failed")
		select {
		case p.failed <- struct{}{}:
		default:
		}
		return
	}
	p.pending.Store(false)
	p.log.Info().Msg("resync requested")
}

func (p *Pump) dispatch(w model.Write) {
	// Retained values are the remote side of truth and always re-applied.
	if !w.Retained && w.MessageID != 0 {
		fresh := p.dedup.ShouldProcess(fmt.Sprintf("%s#%d", w.Channel, w.MessageID))
		if !fresh && w.Duplicate {
			p.duplicates.Add(1)
			p.log.Debug().Str("channel", w.Channel.String()).Uint16("mid", w.MessageID).Msg("duplicate write dropped")
			return
		}
	}

	p.mu.RLock()
	h, ok := p.handlers[w.Channel]
	p.mu.RUnlock()
	if !ok {
		p.log.Debug().Str("channel", w.Channel.String()).Msg("no handler for channel")
		return
	}
	p.writes.Add(1)
	if err := h(w); err != nil {
		p.log.Warn().Err(err).Str("channel", w.Channel.String()).Str("value", w.Value).Msg("inbound write rejected")
	}
}
