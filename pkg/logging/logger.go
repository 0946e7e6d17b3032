// Package logging configures the zerolog loggers used across the feed client.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs state transitions and cache decisions.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs epoch resets and completed page loads.
	LevelInfo LogLevel = "info"

	// LevelWarn logs fetch failures and retries.
	LevelWarn LogLevel = "warn"

	// LevelError logs exhausted retries and configuration errors.
	LevelError LogLevel = "error"

	// LevelDisabled turns logging off, mostly useful in tests.
	LevelDisabled LogLevel = "disabled"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(string(cfg.Level)))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel converts a level name to a zerolog.Level. Unknown names map to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off", "none":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: transitions inside a feed view
//   - reveal cursor advances (buffered vs optimistic)
//   - prefetch decisions
//   - stale results discarded by epoch
//   - cache hit/miss, conditional requests
//
// Info: normal lifecycle events
//   - mount, unmount
//   - filter change starting a new epoch
//   - page loaded (page, items, has_more)
//   - proxy startup/shutdown
//
// Warn: recoverable conditions
//   - fetch failures (page 1 or load-more)
//   - retry attempts
//   - rate limit throttling
//   - cache errors (request continues uncached)
//
// Error: conditions needing attention
//   - retries exhausted
//   - rate limit blocks
//   - invalid configuration
//
// Context Fields:
//   - component: package-level component name
//   - view_id: feed view instance (uuid)
//   - epoch: filter generation of the view
//   - page: server page number
//   - endpoint: API path
//   - status: HTTP status code
//   - error_class: client, server, rate_limit, network, decode
