package retry

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/soilwatch/internal/clock"
	"github.com/LeonardoBeccarini/soilwatch/internal/model"
)

type fakeTarget struct {
	mu         sync.Mutex
	begins     int
	polls      int
	readyAfter int // -1 never
	connected  bool
	beginErr   error
	panicMsg   string
}

func (f *fakeTarget) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTarget) Begin(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begins++
	f.polls = 0
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.beginErr
}

func (f *fakeTarget) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readyAfter >= 0 && f.polls >= f.readyAfter {
		f.connected = true
		return true
	}
	f.polls++
	return false
}

func (f *fakeTarget) drop() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

type recorder struct {
	mu          sync.Mutex
	attempts    []Result
	transitions [][2]model.ConnState
}

func (r *recorder) OnAttempt(_ string, res Result) {
	r.mu.Lock()
	r.attempts = append(r.attempts, res)
	r.mu.Unlock()
}

func (r *recorder) OnTransition(_ string, from, to model.ConnState) {
	r.mu.Lock()
	r.transitions = append(r.transitions, [2]model.ConnState{from, to})
	r.mu.Unlock()
}

func TestAwaitReadyAfterNPolls(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	n := 0
	res := Await(context.Background(), clk, NewBudget(10*time.Second, 100*time.Millisecond), func() bool {
		n++
		return n > 7
	})

	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, 700*time.Millisecond, res.Elapsed)
	assert.Equal(t, time.Unix(0, 0).Add(700*time.Millisecond), clk.Now())
}

func TestAwaitTimesOutAtLimit(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	res := Await(context.Background(), clk, NewBudget(time.Second, 100*time.Millisecond), func() bool { return false })

	assert.Equal(t, OutcomeTimeout, res.Outcome)
	assert.Equal(t, time.Second, res.Elapsed)
	assert.True(t, res.Failed())
}

func TestAwaitCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := Await(ctx, clock.NewFake(time.Unix(0, 0)), NewBudget(time.Second, 100*time.Millisecond), func() bool { return false })

	assert.Equal(t, OutcomeCanceled, res.Outcome)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.False(t, res.Failed())
}

func TestBudgetNeverDecreases(t *testing.T) {
	b := NewBudget(time.Second, 0)
	assert.Equal(t, 100*time.Millisecond, b.PollInterval)
	b.Spend(300 * time.Millisecond)
	b.Spend(-time.Second)
	assert.Equal(t, 300*time.Millisecond, b.Elapsed)
	assert.False(t, b.Exhausted())
	b.Spend(700 * time.Millisecond)
	assert.True(t, b.Exhausted())
}

func TestLoopConnectsWithinBudget(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	tgt := &fakeTarget{readyAfter: 12}
	rec := &recorder{}
	l := New("link", tgt, DefaultPolicy(), WithClock(clk), WithObserver(rec))

	start := clk.Now()
	require.NoError(t, l.Cycle(context.Background()))

	assert.Equal(t, model.Connected, l.State())
	assert.Equal(t, 1, tgt.begins)
	require.Len(t, rec.attempts, 1)
	assert.Equal(t, 1200*time.Millisecond, rec.attempts[0].Elapsed)
	assert.LessOrEqual(t, clk.Now().Sub(start), 12*100*time.Millisecond+time.Millisecond)
	assert.Equal(t, [][2]model.ConnState{
		{model.Disconnected, model.Connecting},
		{model.Connecting, model.Connected},
	}, rec.transitions)

	// idle poll: nothing happens
	require.NoError(t, l.Cycle(context.Background()))
	assert.Equal(t, 1, tgt.begins)
}

func TestLoopRetriesForeverAtConstantCadence(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	tgt := &fakeTarget{readyAfter: -1}
	rec := &recorder{}
	l := New("link", tgt, DefaultPolicy(), WithClock(clk), WithObserver(rec))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu     sync.Mutex
		cycles []time.Duration
	)
	clk.OnSleep(func(_ time.Time, d time.Duration) {
		if d == time.Second {
			mu.Lock()
			cycles = append(cycles, d)
			if len(cycles) == 5 {
				cancel()
			}
			mu.Unlock()
		}
	})

	require.NoError(t, l.Run(ctx))

	assert.GreaterOrEqual(t, tgt.begins, 3)
	assert.Equal(t, model.Disconnected, l.State())
	assert.GreaterOrEqual(t, l.Failures(), uint64(3))
	for _, res := range rec.attempts {
		if res.Outcome == OutcomeCanceled {
			continue
		}
		assert.Equal(t, OutcomeTimeout, res.Outcome)
		assert.Equal(t, 10*time.Second, res.Elapsed)
	}
	mu.Lock()
	defer mu.Unlock()
	for _, d := range cycles {
		assert.Equal(t, time.Second, d)
	}
}

func TestLoopErrorAndPanicAreFailedAttempts(t *testing.T) {
	for name, tgt := range map[string]*fakeTarget{
		"error": {readyAfter: 0, beginErr: errors.New("radio noise")},
		"panic": {readyAfter: 0, panicMsg: "driver exploded"},
	} {
		t.Run(name, func(t *testing.T) {
			clk := clock.NewFake(time.Unix(0, 0))
			rec := &recorder{}
			l := New("session", tgt, DefaultPolicy(), WithClock(clk), WithObserver(rec))

			require.NotPanics(t, func() {
				require.NoError(t, l.Cycle(context.Background()))
				require.NoError(t, l.Cycle(context.Background()))
			})

			assert.Equal(t, model.Disconnected, l.State())
			assert.Equal(t, uint64(2), l.Failures())
			require.Len(t, rec.attempts, 2)
			for _, res := range rec.attempts {
				assert.Equal(t, OutcomeError, res.Outcome)
				assert.True(t, res.Failed())
				assert.Error(t, res.Err)
			}
		})
	}
}

func TestLoopErrorAndTimeoutShareCadence(t *testing.T) {
	sleepsFor := func(tgt *fakeTarget) []time.Duration {
		clk := clock.NewFake(time.Unix(0, 0))
		l := New("session", tgt, Policy{Timeout: 300 * time.Millisecond}, WithClock(clk))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		var cycles []time.Duration
		clk.OnSleep(func(_ time.Time, d time.Duration) {
			if d != 100*time.Millisecond {
				cycles = append(cycles, d)
			}
			if len(cycles) == 3 {
				cancel()
			}
		})
		require.NoError(t, l.Run(ctx))
		return cycles
	}

	timeouts := sleepsFor(&fakeTarget{readyAfter: -1})
	errs := sleepsFor(&fakeTarget{readyAfter: 0, beginErr: errors.New("refused")})
	assert.Equal(t, timeouts, errs)
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, errs)
}

func TestLoopOnConnectedFiresOncePerTransition(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	tgt := &fakeTarget{readyAfter: 2}
	calls := 0
	l := New("session", tgt, Policy{Settle: 5 * time.Second}, WithClock(clk),
		OnConnected(func(context.Context) { calls++ }))

	ctx := context.Background()
	before := clk.Now()
	require.NoError(t, l.Cycle(ctx))
	assert.Equal(t, 1, calls)
	// poll budget plus the settle delay
	assert.Equal(t, 200*time.Millisecond+5*time.Second, clk.Now().Sub(before))

	require.NoError(t, l.Cycle(ctx))
	require.NoError(t, l.Cycle(ctx))
	assert.Equal(t, 1, calls)

	tgt.drop()
	require.NoError(t, l.Cycle(ctx))
	assert.Equal(t, model.Connected, l.State())
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, tgt.begins)
}

func TestLoopCustomCadence(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	tgt := &fakeTarget{readyAfter: -1}
	l := New("link", tgt, Policy{Timeout: 100 * time.Millisecond}, WithClock(clk),
		WithCadence(backoff.NewConstantBackOff(250*time.Millisecond)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var got []time.Duration
	clk.OnSleep(func(_ time.Time, d time.Duration) {
		if d == 250*time.Millisecond {
			got = append(got, d)
			if len(got) == 2 {
				cancel()
			}
		}
	})
	require.NoError(t, l.Run(ctx))
	assert.Len(t, got, 2)
	assert.Equal(t, uint64(1), l.Ticks())
}

func TestLoopDiagnosticsAtDebug(t *testing.T) {
	var buf bytes.Buffer
	clk := clock.NewFake(time.Unix(0, 0))
	tgt := &fakeTarget{connected: true}
	l := New("link", tgt, DefaultPolicy(), WithClock(clk),
		WithLogger(zerolog.New(&buf).Level(zerolog.DebugLevel)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sleeps := 0
	clk.OnSleep(func(time.Time, time.Duration) {
		sleeps++
		if sleeps == 2 {
			cancel()
		}
	})
	require.NoError(t, l.Run(ctx))

	logs := buf.String()
	assert.Contains(t, logs, `"message":"supervisor cycle"`)
	assert.Contains(t, logs, `"tick":1`)
	assert.Contains(t, logs, `"process_stack_bytes":`)
	assert.NotContains(t, logs, `"stack_bytes"`)
}
