package state

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadingUnsetUntilFirstStore(t *testing.T) {
	r := NewReading()
	_, ok := r.Load()
	assert.False(t, ok)

	assert.Equal(t, 100, r.Store(140))
	v, ok := r.Load()
	assert.True(t, ok)
	assert.Equal(t, 100, v)

	assert.Equal(t, 0, r.Store(-3))
}

func TestThresholdClamps(t *testing.T) {
	th := NewThreshold(30)
	assert.Equal(t, 30, th.Get())
	assert.Equal(t, 100, th.Set(250))
	assert.Equal(t, 0, th.Set(-1))
}

func TestConcurrentReadsNeverOutOfRange(t *testing.T) {
	r := NewReading()
	th := NewThreshold(40)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			r.Store(i%300 - 100)
			th.Set(1000 - i)
		}
	}()

	bad := 0
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			if v, ok := r.Load(); ok && (v < 0 || v > 100) {
				bad++
			}
			if m := th.Get(); m < 0 || m > 100 {
				bad++
			}
		}
	}()
	wg.Wait()

	assert.Zero(t, bad)
}
