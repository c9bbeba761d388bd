package link

import (
	"errors"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/soilwatch/internal/clock"
)

var ErrNoSSID = errors.New("empty ssid")

// SimStack is a simulated radio for development boards without WiFi
// hardware. It reproduces the driver quirk where the very first begin after
// boot never associates.
type SimStack struct {
	mu          sync.Mutex
	clock       clock.Clock
	delay       time.Duration
	booted      bool
	pending     bool
	stalled     bool
	beganAt     time.Time
	connected   bool
	outage      bool
	hostname    string
	begins      int
	disconnects int
}

func NewSimStack(clk clock.Clock, associateDelay time.Duration) *SimStack {
	if clk == nil {
		clk = clock.Real{}
	}
	return &SimStack{clock: clk, delay: associateDelay}
}

func (s *SimStack) Begin(ssid, _ string) error {
	if ssid == "" {
		return ErrNoSSID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begins++
	s.stalled = !s.booted
	s.booted = true
	s.pending = true
	s.beganAt = s.clock.Now()
	return nil
}

func (s *SimStack) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects++
	s.connected = false
	s.pending = false
	return nil
}

func (s *SimStack) Status() Status {
	if s.IsConnected() {
		return StatusReady
	}
	return StatusNotReady
}

func (s *SimStack) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh()
	return s.connected
}

func (s *SimStack) SetHostname(name string) error {
	s.mu.Lock()
	s.hostname = name
	s.mu.Unlock()
	return nil
}

func (s *SimStack) Hostname() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostname
}

// SetOutage simulates the access point going away (router reboot) or coming back.
func (s *SimStack) SetOutage(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outage = down
	if down {
		s.connected = false
		s.pending = false
	}
}

// Calls returns how many begin and disconnect calls were made.
func (s *SimStack) Calls() (begins, disconnects int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begins, s.disconnects
}

func (s *SimStack) refresh() {
	if s.connected || !s.pending || s.stalled || s.outage {
		return
	}
	if s.clock.Now().Sub(s.beganAt) >= s.delay {
		s.connected = true
		s.pending = false
	}
}
