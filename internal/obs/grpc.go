package obs

import (
	"context"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LeonardoBeccarini/soilwatch/internal/model"
	"github.com/LeonardoBeccarini/soilwatch/internal/retry"
)

// Health mirrors supervisor states into the standard gRPC health service.
// Each supervisor is a service name; the overall status ("") follows the
// session.
type Health struct {
	hs  *health.Server
	srv *grpc.Server
	log zerolog.Logger
}

func NewHealth(lg zerolog.Logger, supervisors ...string) *Health {
	h := &Health{hs: health.NewServer(), srv: grpc.NewServer(), log: lg}
	healthpb.RegisterHealthServer(h.srv, h.hs)
	h.hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	for _, s := range supervisors {
		h.hs.SetServingStatus(s, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return h
}

func (h *Health) OnAttempt(string, retry.Result) {}

func (h *Health) OnTransition(supervisor string, _, to model.ConnState) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if to == model.Connected {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.hs.SetServingStatus(supervisor, st)
	if supervisor == "session" {
		h.hs.SetServingStatus("", st)
	}
}

// Server exposes the health server for in-process checks.
func (h *Health) Server() healthpb.HealthServer { return h.hs }

// Serve listens on addr until ctx ends.
func (h *Health) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		h.log.Info().Str("addr", lis.Addr().String()).Msg("grpc health listening")
		errCh <- h.srv.Serve(lis)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		h.hs.Shutdown()
		h.srv.GracefulStop()
		<-errCh
		return nil
	}
}
