// Package state holds the only values shared between tasks. Both are
// single-writer, multi-reader and lock-free.
package state

import (
	"sync/atomic"

	"github.com/LeonardoBeccarini/soilwatch/internal/model"
)

const unset = -1

// Reading is the last published moisture percentage.
type Reading struct {
	v atomic.Int32
}

func NewReading() *Reading {
	r := &Reading{}
	r.v.Store(unset)
	return r
}

// Store clamps p into [0,100] before publishing it.
func (r *Reading) Store(p int) int {
	p = model.ClampPercent(p)
	r.v.Store(int32(p))
	return p
}

// Load returns the last value and false if nothing was published yet.
func (r *Reading) Load() (int, bool) {
	v := r.v.Load()
	if v == unset {
		return 0, false
	}
	return int(v), true
}

// Threshold is the configured minimum moisture percentage.
type Threshold struct {
	v atomic.Int32
}

func NewThreshold(initial int) *Threshold {
	t := &Threshold{}
	t.Set(initial)
	return t
}

func (t *Threshold) Set(p int) int {
	p = model.ClampPercent(p)
	t.v.Store(int32(p))
	return p
}

func (t *Threshold) Get() int { return int(t.v.Load()) }
