package observability

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewJSONLogger builds a stderr JSON logger.
func NewJSONLogger(level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

// NewLogger builds a logger writing to w in the given format ("json" or "text").
func NewLogger(w io.Writer, format string, level slog.Level) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("observability: unknown log format %q", format)
	}
}

// ParseLevel parses debug, info, warn, or error.
func ParseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return slog.LevelInfo, fmt.Errorf("observability: %w", err)
	}
	return level, nil
}
