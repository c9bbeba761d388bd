package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/LeonardoBeccarini/soilwatch/internal/config"
	"github.com/LeonardoBeccarini/soilwatch/internal/log"
	"github.com/LeonardoBeccarini/soilwatch/internal/services/monitor"
)

func main() {
	path := flag.String("config", os.Getenv("SOILWATCH_CONFIG"), "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		lg := log.Configure(log.Config{})
		lg.Fatal().Err(err).Msg("invalid configuration")
	}
	log.Configure(log.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	lg := log.WithComponent("main")
	lg.Info().Interface("config", cfg.Redacted()).Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := monitor.New(cfg, monitor.Deps{})
	if err != nil {
		lg.Fatal().Err(err).Msg("monitor setup failed")
	}
	if err := rt.Run(ctx); err != nil {
		lg.Error().Err(err).Msg("monitor exited")
		os.Exit(1)
	}
}
