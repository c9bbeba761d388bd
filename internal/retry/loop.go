package retry

import (
	"context"
	"fmt"
	"runtime"
	"runtime/metrics"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/soilwatch/internal/clock"
	"github.com/LeonardoBeccarini/soilwatch/internal/model"
)

// Target is the connection a Loop supervises.
type Target interface {
	// Connected is the idle-poll check.
	Connected() bool
	// Begin issues the connect request(s); ctx carries the attempt deadline.
	Begin(ctx context.Context) error
	// Ready reports whether the pending attempt has completed.
	Ready() bool
}

// Policy configures one supervisor.
type Policy struct {
	Timeout      time.Duration // attempt budget
	PollInterval time.Duration // status poll inside the budget
	CycleDelay   time.Duration // pause between outer cycles
	Settle       time.Duration // quiet period after a successful connect
}

func DefaultPolicy() Policy {
	return Policy{
		Timeout:      10 * time.Second,
		PollInterval: 100 * time.Millisecond,
		CycleDelay:   time.Second,
	}
}

// Observer is notified of attempts and state transitions. Calls happen on
// the supervisor goroutine and must not block.
type Observer interface {
	OnAttempt(supervisor string, res Result)
	OnTransition(supervisor string, from, to model.ConnState)
}

// Loop is the supervisory state machine:
// Disconnected -> Connecting -> Connected -> (lost) -> Disconnected.
// It has no terminal state.
type Loop struct {
	name    string
	target  Target
	policy  Policy
	clock   clock.Clock
	cadence backoff.BackOff
	log     zerolog.Logger

	obsMu     sync.RWMutex
	observers []Observer

	onConnected func(ctx context.Context)

	state    atomic.Int32
	failures atomic.Uint64
	ticks    atomic.Uint64
	started  time.Time
}

type Option func(*Loop)

func WithClock(c clock.Clock) Option { return func(l *Loop) { l.clock = c } }

func WithLogger(lg zerolog.Logger) Option { return func(l *Loop) { l.log = lg } }

// WithCadence replaces the constant inter-cycle delay.
func WithCadence(b backoff.BackOff) Option { return func(l *Loop) { l.cadence = b } }

func WithObserver(o Observer) Option {
	return func(l *Loop) { l.observers = append(l.observers, o) }
}

// OnConnected registers fn to run on every transition into Connected.
func OnConnected(fn func(ctx context.Context)) Option {
	return func(l *Loop) { l.onConnected = fn }
}

func New(name string, target Target, policy Policy, opts ...Option) *Loop {
	def := DefaultPolicy()
	if policy.Timeout <= 0 {
		policy.Timeout = def.Timeout
	}
	if policy.PollInterval <= 0 {
		policy.PollInterval = def.PollInterval
	}
	if policy.CycleDelay <= 0 {
		policy.CycleDelay = def.CycleDelay
	}
	l := &Loop{
		name:   name,
		target: target,
		policy: policy,
		clock:  clock.Real{},
		log:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(l)
	}
	if l.cadence == nil {
		l.cadence = backoff.NewConstantBackOff(policy.CycleDelay)
	}
	l.started = l.clock.Now()
	return l
}

func (l *Loop) Name() string { return l.name }

func (l *Loop) Policy() Policy { return l.policy }

func (l *Loop) State() model.ConnState { return model.ConnState(l.state.Load()) }

// Failures counts consecutive failed attempts since the last success.
func (l *Loop) Failures() uint64 { return l.failures.Load() }

// Ticks counts completed outer cycles.
func (l *Loop) Ticks() uint64 { return l.ticks.Load() }

func (l *Loop) AddObserver(o Observer) {
	l.obsMu.Lock()
	l.observers = append(l.observers, o)
	l.obsMu.Unlock()
}

// Run cycles until ctx ends. It never returns on connection failures.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info().Dur("timeout", l.policy.Timeout).Dur("poll", l.policy.PollInterval).
		Dur("cycle", l.policy.CycleDelay).Msg("supervisor started")
	for {
		if err := l.Cycle(ctx); err != nil {
			break
		}
		delay := l.cadence.NextBackOff()
		if delay == backoff.Stop {
			delay = l.policy.CycleDelay
		}
		if err := l.clock.Sleep(ctx, delay); err != nil {
			break
		}
		l.diagnostics()
	}
	l.log.Info().Msg("supervisor stopped")
	return nil
}

// Cycle runs one supervisory cycle. The only error it returns is ctx's.
func (l *Loop) Cycle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.target.Connected() {
		l.transition(ctx, model.Connected)
		return nil
	}
	if l.State() == model.Connected {
		l.log.Warn().Msg("connection lost")
		l.transition(ctx, model.Disconnected)
	}

	l.transition(ctx, model.Connecting)
	res := l.Attempt(ctx)
	l.notifyAttempt(res)

	switch res.Outcome {
	case OutcomeSuccess:
		l.log.Info().Dur("elapsed", res.Elapsed).Msg("connected")
		l.transition(ctx, model.Connected)
		if l.policy.Settle > 0 {
			if err := l.clock.Sleep(ctx, l.policy.Settle); err != nil {
				return err
			}
		}
	case OutcomeCanceled:
		l.transition(ctx, model.Disconnected)
		return ctx.Err()
	default:
		n := l.failures.Add(1)
		ev := l.log.Warn().Str("outcome", res.Outcome.String()).
			Dur("elapsed", res.Elapsed).Uint64("failures", n)
		if res.Err != nil {
			ev = ev.Err(res.Err)
		}
		ev.Msg("connect attempt failed")
		l.transition(ctx, model.Disconnected)
	}
	return nil
}

// Attempt issues the connect request and waits on the polled budget.
// Errors and panics from the target become OutcomeError.
func (l *Loop) Attempt(ctx context.Context) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Outcome: OutcomeError, Err: fmt.Errorf("%w: %v", ErrPanic, r)}
		}
	}()

	b := NewBudget(l.policy.Timeout, l.policy.PollInterval)
	start := l.clock.Now()
	err := l.begin(ctx)
	b.Spend(l.clock.Now().Sub(start))
	if err != nil {
		if ctx.Err() != nil {
			return Result{Outcome: OutcomeCanceled, Elapsed: b.Elapsed, Err: ctx.Err()}
		}
		return Result{Outcome: OutcomeError, Elapsed: b.Elapsed, Err: err}
	}
	// A blocking connect already used part of the budget.
	return Await(ctx, l.clock, b, l.target.Ready)
}

func (l *Loop) begin(ctx context.Context) error {
	bctx, cancel := context.WithTimeout(ctx, l.policy.Timeout)
	defer cancel()
	return l.target.Begin(bctx)
}

func (l *Loop) transition(ctx context.Context, to model.ConnState) {
	from := model.ConnState(l.state.Swap(int32(to)))
	if from == to {
		return
	}
	l.obsMu.RLock()
	obs := l.observers
	l.obsMu.RUnlock()
	if to == model.Connected {
		l.failures.Store(0)
		l.cadence.Reset()
	}
	for _, o := range obs {
		o.OnTransition(l.name, from, to)
	}
	if to == model.Connected && l.onConnected != nil {
		l.onConnected(ctx)
	}
}

func (l *Loop) notifyAttempt(res Result) {
	l.obsMu.RLock()
	obs := l.observers
	l.obsMu.RUnlock()
	for _, o := range obs {
		o.OnAttempt(l.name, res)
	}
}

var stackSample = []metrics.Sample{{Name: "/memory/classes/heap/stacks:bytes"}}
var stackMu sync.Mutex

func (l *Loop) diagnostics() {
	n := l.ticks.Add(1)
	if l.log.GetLevel() > zerolog.DebugLevel || zerolog.GlobalLevel() > zerolog.DebugLevel {
		return
	}
	var stack uint64
	stackMu.Lock()
	metrics.Read(stackSample)
	if stackSample[0].Value.Kind() == metrics.KindUint64 {
		stack = stackSample[0].Value.Uint64()
	}
	stackMu.Unlock()
	l.log.Debug().Uint64("tick", n).
		Dur("uptime", l.clock.Now().Sub(l.started)).
		Int("goroutines", runtime.NumGoroutine()).
		Uint64("process_stack_bytes", stack).
		Str("state", l.State().String()).
		Msg("supervisor cycle")
}
