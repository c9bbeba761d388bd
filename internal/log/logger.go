// Package log configures the process-wide zerolog logger.
package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Config struct {
	Level   string    // debug, info, warn, ...; LOG_LEVEL when empty
	Output  io.Writer // defaults to os.Stdout
	Service string
	Pretty  bool // human-readable console output
}

var (
	mu     sync.RWMutex
	base   = zerolog.New(os.Stdout).With().Timestamp().Logger()
	bootID = uuid.NewString()
)

// Configure replaces the base logger. Call it once from main before the
// component loggers are derived.
func Configure(cfg Config) zerolog.Logger {
	level := zerolog.InfoLevel
	lvl := cfg.Level
	if lvl == "" {
		lvl = os.Getenv("LOG_LEVEL")
	}
	if lvl != "" {
		if parsed, err := zerolog.ParseLevel(lvl); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	w := cfg.Output
	if w == nil {
		w = os.Stdout
	}
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	service := cfg.Service
	if service == "" {
		service = "soilwatch"
	}

	l := zerolog.New(w).With().
		Timestamp().
		Str("service", service).
		Str("boot_id", bootID).
		Logger()
	mu.Lock()
	base = l
	mu.Unlock()
	return l
}

func Base() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// BootID identifies this process run in logs and telemetry.
func BootID() string { return bootID }

// WithComponent returns a child logger annotated with the component name.
func WithComponent(component string) zerolog.Logger {
	return Base().With().Str("component", component).Logger()
}
