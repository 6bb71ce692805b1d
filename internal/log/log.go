// Package log provides the slog-based logging setup for the gateway.
//
// Loggers are dependency-injected: each component receives a *slog.Logger
// via its config struct and may add context with With(). Credentials are
// never logged; callers pass masked values only.
package log

import (
	"io"
	"log/slog"
	"os"
)

// Config defines logger options.
type Config struct {
	Level slog.Level // minimum level, default Info
	JSON  bool       // JSON handler instead of text
}

// New creates a logger writing to stderr. Stdout is reserved for the stdio
// transport, which carries the MCP protocol stream.
func New(cfg Config) *slog.Logger {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter creates a logger writing to w. Used by tests to capture
// output.
func NewWithWriter(w io.Writer, cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level}
	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// NewNop creates a logger that discards everything. Tests only.
func NewNop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
