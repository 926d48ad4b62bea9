package server

import (
	"io"
	"log/slog"
	"strings"
)

// NewLogger builds a slog.Logger writing to w in the configured format. The
// returned LevelVar controls the level at runtime.
func NewLogger(cfg LogConfig, w io.Writer) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	if parsed, err := ParseLevel(cfg.Level); err == nil {
		level.Set(parsed)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), level
}
