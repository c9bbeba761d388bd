// Package retry holds the supervisor pattern shared by the link and session
// supervisors: a polled timeout budget per connection attempt, a typed
// attempt result, and a forever loop that turns every failure into
// "retry next cycle".
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/LeonardoBeccarini/soilwatch/internal/clock"
)

var ErrPanic = errors.New("connect attempt panicked")

type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTimeout
	OutcomeError
	// OutcomeCanceled is only produced on shutdown.
	OutcomeCanceled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeError:
		return "error"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Result is what one connection attempt produced.
type Result struct {
	Outcome Outcome
	Elapsed time.Duration
	Err     error
}

func (r Result) Ok() bool { return r.Outcome == OutcomeSuccess }

// Failed reports timeouts and errors alike; they are handled identically.
func (r Result) Failed() bool {
	return r.Outcome == OutcomeTimeout || r.Outcome == OutcomeError
}

// Budget is the timeout window of a single attempt. Elapsed only grows;
// a new Budget is created for every attempt.
type Budget struct {
	Elapsed      time.Duration
	Limit        time.Duration
	PollInterval time.Duration
}

func NewBudget(limit, poll time.Duration) *Budget {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	return &Budget{Limit: limit, PollInterval: poll}
}

func (b *Budget) Exhausted() bool { return b.Elapsed >= b.Limit }

func (b *Budget) Spend(d time.Duration) {
	if d > 0 {
		b.Elapsed += d
	}
}

// Await polls ready every PollInterval until it reports true or the budget
// runs out.
func Await(ctx context.Context, clk clock.Clock, b *Budget, ready func() bool) Result {
	for {
		if ready() {
			return Result{Outcome: OutcomeSuccess, Elapsed: b.Elapsed}
		}
		if b.Exhausted() {
			return Result{Outcome: OutcomeTimeout, Elapsed: b.Elapsed}
		}
		if err := clk.Sleep(ctx, b.PollInterval); err != nil {
			return Result{Outcome: OutcomeCanceled, Elapsed: b.Elapsed, Err: err}
		}
		b.Spend(b.PollInterval)
	}
}
