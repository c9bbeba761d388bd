// Package dedup drops redelivered messages by id within a TTL window.
package dedup

import (
	"sync"
	"time"
)

type Deduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	max  int
	now  func() time.Time
	seen map[string]time.Time
}

type Option func(*Deduper)

// WithNow replaces the wall clock, for tests.
func WithNow(now func() time.Time) Option { return func(d *Deduper) { d.now = now } }

func New(ttl time.Duration, max int, opts ...Option) *Deduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if max <= 0 {
		max = 1024
	}
	d := &Deduper{ttl: ttl, max: max, now: time.Now, seen: make(map[string]time.Time)}
	for _, o := range opts {
		o(d)
	}
	return d
}

// ShouldProcess reports whether id is new. Empty ids always pass.
func (d *Deduper) ShouldProcess(id string) bool {
	if id == "" {
		return true
	}
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if exp, ok := d.seen[id]; ok && now.Before(exp) {
		return false
	}
	d.seen[id] = now.Add(d.ttl)
	if len(d.seen) > d.max {
		d.evictLocked(now)
	}
	return true
}

func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// evictLocked drops expired ids, then the oldest ones if still over max.
func (d *Deduper) evictLocked(now time.Time) {
	for k, exp := range d.seen {
		if !now.Before(exp) {
			delete(d.seen, k)
		}
	}
	for len(d.seen) > d.max {
		var oldest string
		var at time.Time
		for k, exp := range d.seen {
			if oldest == "" || exp.Before(at) {
				oldest, at = k, exp
			}
		}
		delete(d.seen, oldest)
	}
}
