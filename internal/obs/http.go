package obs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/soilwatch/internal/model"
)

// Snapshot is the /state document.
type Snapshot struct {
	BootID          string `json:"boot_id"`
	Link            string `json:"link"`
	Session         string `json:"session"`
	Endpoint        string `json:"endpoint"`
	LinkFailures    uint64 `json:"link_failures"`
	SessionFailures uint64 `json:"session_failures"`
	Moisture        *int   `json:"moisture"`
	Threshold       int    `json:"threshold"`
	NeedsWater      bool   `json:"needs_water"`
	Alerts          uint64 `json:"alerts"`
	Resyncs         uint64 `json:"resyncs"`
	TelemetryOK     *bool  `json:"telemetry_ok,omitempty"`
	Uptime          string `json:"uptime"`
}

type Source interface {
	Snapshot() Snapshot
}

// Health is ok with both connections up, degraded with only the link, down
// otherwise. An unhealthy telemetry exporter degrades an otherwise ok status.
func (s Snapshot) Health() string {
	link := s.Link == model.Connected.String()
	session := s.Session == model.Connected.String()
	switch {
	case link && session && (s.TelemetryOK == nil || *s.TelemetryOK):
		return "ok"
	case link:
		return "degraded"
	default:
		return "down"
	}
}

func NewRouter(src Source, gatherer prometheus.Gatherer, lg zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(requestLogger(lg))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		snap := src.Snapshot()
		code := http.StatusOK
		st := snap.Health()
		if st == "down" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]string{"status": st, "link": snap.Link, "session": snap.Session})
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ready := src.Snapshot().Session == model.Connected.String()
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]bool{"ready": ready})
	})
	r.Get("/state", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, src.Snapshot())
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(lg zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			lg.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("took", time.Since(start)).
				Str("req_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}

// ServeHTTP runs the server until ctx ends.
func ServeHTTP(ctx context.Context, addr string, h http.Handler, lg zerolog.Logger) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		lg.Info().Str("addr", addr).Msg("http listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
		<-errCh
		return nil
	}
}
