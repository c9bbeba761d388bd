// Package link keeps the network link (WiFi association) up.
package link

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/soilwatch/internal/model"
	"github.com/LeonardoBeccarini/soilwatch/internal/retry"
)

type Status int

const (
	StatusNotReady Status = iota
	StatusReady
)

func (s Status) String() string {
	if s == StatusReady {
		return "ready"
	}
	return "not-ready"
}

// Stack is the network stack the supervisor drives. Every call may block.
type Stack interface {
	Begin(ssid, password string) error
	Disconnect() error
	Status() Status
	IsConnected() bool
	SetHostname(name string) error
}

type Credentials struct {
	SSID     string
	Password string
	Hostname string
}

type Supervisor struct {
	stack Stack
	creds Credentials
	loop  *retry.Loop
	log   zerolog.Logger
}

func NewSupervisor(stack Stack, creds Credentials, policy retry.Policy, lg zerolog.Logger, opts ...retry.Option) *Supervisor {
	s := &Supervisor{stack: stack, creds: creds, log: lg}
	opts = append([]retry.Option{retry.WithLogger(lg)}, opts...)
	s.loop = retry.New("link", &target{s}, policy, opts...)
	return s
}

func (s *Supervisor) Run(ctx context.Context) error { return s.loop.Run(ctx) }

func (s *Supervisor) Loop() *retry.Loop { return s.loop }

func (s *Supervisor) State() model.ConnState { return s.loop.State() }

func (s *Supervisor) Ready() bool { return s.loop.State() == model.Connected }

// connect issues begin, disconnect, begin. The first begin after boot can
// stall silently inside the driver; the disconnect/begin pair unsticks it.
func (s *Supervisor) connect() error {
	s.log.Info().Str("ssid", s.creds.SSID).Msg("connecting to wifi")
	if err := s.stack.Begin(s.creds.SSID, s.creds.Password); err != nil {
		return fmt.Errorf("link begin: %w", err)
	}
	if err := s.stack.Disconnect(); err != nil {
		return fmt.Errorf("link disconnect: %w", err)
	}
	if err := s.stack.Begin(s.creds.SSID, s.creds.Password); err != nil {
		return fmt.Errorf("link begin: %w", err)
	}
	if s.creds.Hostname != "" {
		if err := s.stack.SetHostname(s.creds.Hostname); err != nil {
			s.log.Warn().Err(err).Str("hostname", s.creds.Hostname).Msg("set hostname failed")
		}
	}
	return nil
}

type target struct{ s *Supervisor }

func (t *target) Connected() bool { return t.s.stack.IsConnected() }

func (t *target) Begin(context.Context) error { return t.s.connect() }

func (t *target) Ready() bool { return t.s.stack.Status() == StatusReady }
