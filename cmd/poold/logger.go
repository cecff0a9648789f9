// logger.go - Structured logging setup for the pool daemon
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	gnarklogger "github.com/consensys/gnark/logger"
	"github.com/rs/zerolog"
)

// newLogger builds the daemon logger and installs it as gnark's logger so
// proving-system output shares the same sink and level.
func newLogger(cfg *Config) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log_level %q: %w", cfg.LogLevel, err)
	}

	var out io.Writer = os.Stderr
	if cfg.LogPretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	log := zerolog.New(out).Level(level).With().
		Timestamp().
		Str("service", "poold").
		Logger()

	gnarklogger.Set(log)
	return log, nil
}
