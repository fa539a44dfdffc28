package internal

import (
	"io"
	"log/slog"
)

// NewLogger builds the process-wide logger. Development gets human-readable
// text output; everything else emits JSON for log aggregation. Unrecognized
// levels fall back to info.
func NewLogger(w io.Writer, env, level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if env == "development" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
