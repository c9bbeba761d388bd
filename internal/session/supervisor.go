package session

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/soilwatch/internal/model"
	"github.com/LeonardoBeccarini/soilwatch/internal/retry"
)

type Supervisor struct {
	client   Client
	endpoint Endpoint
	pump     *Pump
	loop     *retry.Loop
	log      zerolog.Logger
}

// NewSupervisor wires the resync to the pump: every transition into
// Connected queues exactly one resync ahead of any later inbound write.
func NewSupervisor(client Client, ep Endpoint, pump *Pump, policy retry.Policy, lg zerolog.Logger, opts ...retry.Option) *Supervisor {
	s := &Supervisor{client: client, endpoint: ep, pump: pump, log: lg}
	opts = append([]retry.Option{
		retry.WithLogger(lg),
		retry.OnConnected(s.onConnected),
	}, opts...)
	s.loop = retry.New("session", &target{s}, policy, opts...)
	return s
}

func (s *Supervisor) Run(ctx context.Context) error { return s.loop.Run(ctx) }

func (s *Supervisor) Loop() *retry.Loop { return s.loop }

func (s *Supervisor) State() model.ConnState { return s.loop.State() }

func (s *Supervisor) Ready() bool { return s.loop.State() == model.Connected }

func (s *Supervisor) Endpoint() Endpoint { return s.endpoint }

func (s *Supervisor) connect(ctx context.Context) error {
	s.log.Info().Str("endpoint", s.endpoint.Label()).Msg("connecting to dashboard")
	if err := s.client.Config(s.endpoint); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	if err := s.client.Connect(ctx); err != nil {
		return fmt.Errorf("session connect: %w", err)
	}
	return nil
}

func (s *Supervisor) onConnected(ctx context.Context) {
	if s.pump == nil {
		return
	}
	if err := s.pump.PostResync(ctx); err != nil {
		s.log.Warn().Err(err).Msg("resync not queued")
	}
}

type target struct{ s *Supervisor }

func (t *target) Connected() bool { return t.s.client.Connected() }

func (t *target) Begin(ctx context.Context) error { return t.s.connect(ctx) }

func (t *target) Ready() bool { return t.s.client.Connected() }
