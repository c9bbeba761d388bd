// Package clock abstracts time so the supervisors can run on virtual time in tests.
package clock

import (
	"context"
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
	// Sleep blocks the calling task only; it returns ctx.Err() if ctx ends first.
	Sleep(ctx context.Context, d time.Duration) error
}

type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Fake advances virtual time on every Sleep instead of blocking.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	onSleep func(now time.Time, d time.Duration)
}

func NewFake(start time.Time) *Fake { return &Fake{now: start} }

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// OnSleep registers a hook called after each virtual sleep.
func (f *Fake) OnSleep(fn func(now time.Time, d time.Duration)) {
	f.mu.Lock()
	f.onSleep = fn
	f.mu.Unlock()
}

func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	if d > 0 {
		f.now = f.now.Add(d)
	}
	now, hook := f.now, f.onSleep
	f.mu.Unlock()
	if hook != nil {
		hook(now, d)
	}
	return ctx.Err()
}
