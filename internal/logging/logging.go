// Package logging provides structured logging using slog.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Config holds logging configuration.
type Config struct {
	Format string `yaml:"format" validate:"omitempty,oneof=json text"` // "json" | "text"
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
}

// Setup initializes the global slog logger based on configuration.
func Setup(cfg Config) {
	slog.SetDefault(New(os.Stderr, cfg))
}

// New builds a logger writing to w.
func New(w io.Writer, cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// parseLevel converts a string level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// runIDKey is the context key for run IDs.
type runIDKey struct{}

// WithRunID adds a run ID to the context.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunID retrieves the run ID from context.
func RunID(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey{}).(string); ok {
		return id
	}
	return ""
}

// NewRunID creates a new unique run ID.
func NewRunID() string {
	return uuid.NewString()
}

// RunLogger creates a logger with download run context fields.
func RunLogger(runID, mode, market string, start, end string) *slog.Logger {
	return slog.With(
		"component", "downloader",
		"run_id", runID,
		"mode", mode,
		"market", market,
		"range_start", start,
		"range_end", end,
	)
}

// Component returns a logger with a component name.
func Component(name string) *slog.Logger {
	return slog.With("component", name)
}
