package sensor

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/soilwatch/internal/clock"
	"github.com/LeonardoBeccarini/soilwatch/internal/model"
)

// gainPerMin is how fast watering raises moisture, as a fraction per minute.
const gainPerMin = 0.05

// SimReader models a pot that dries out over time and gets wetter while it
// is being watered. Moisture is kept in [0,1] and mapped onto the
// calibrated raw range.
type SimReader struct {
	mu          sync.Mutex
	clock       clock.Clock
	cal         model.Calibration
	rnd         *rand.Rand
	noise       int
	last        time.Time
	moisture    float64
	decayPerMin float64
	wateredTill time.Time
}

type SimOption func(*SimReader)

// WithNoise adds uniform noise of +-n raw units to every read.
func WithNoise(n int, seed int64) SimOption {
	return func(s *SimReader) {
		s.noise = n
		s.rnd = rand.New(rand.NewSource(seed))
	}
}

func WithSimClock(c clock.Clock) SimOption { return func(s *SimReader) { s.clock = c } }

func NewSimReader(cal model.Calibration, seed, decayPerMin float64, opts ...SimOption) *SimReader {
	s := &SimReader{
		clock:       clock.Real{},
		cal:         cal,
		moisture:    clamp01(seed),
		decayPerMin: math.Max(0, decayPerMin),
	}
	for _, o := range opts {
		o(s)
	}
	s.last = s.clock.Now()
	return s
}

func (s *SimReader) ReadAnalog(int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()

	span := float64(s.cal.Dry - s.cal.Wet)
	raw := s.cal.Dry - int(math.Round(s.moisture*span))
	if s.noise > 0 && s.rnd != nil {
		raw += s.rnd.Intn(2*s.noise+1) - s.noise
	}
	return raw, nil
}

// Water keeps the pot under water for d.
func (s *SimReader) Water(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	s.wateredTill = s.clock.Now().Add(d)
}

// Set forces the moisture fraction.
func (s *SimReader) Set(moisture float64) {
	s.mu.Lock()
	s.advance()
	s.moisture = clamp01(moisture)
	s.mu.Unlock()
}

func (s *SimReader) Moisture() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	return s.moisture
}

func (s *SimReader) advance() {
	now := s.clock.Now()
	if !now.After(s.last) {
		return
	}
	wet := time.Duration(0)
	if s.wateredTill.After(s.last) {
		end := s.wateredTill
		if now.Before(end) {
			end = now
		}
		wet = end.Sub(s.last)
	}
	dry := now.Sub(s.last) - wet
	s.moisture = clamp01(s.moisture + gainPerMin*wet.Minutes() - s.decayPerMin*dry.Minutes())
	s.last = now
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
