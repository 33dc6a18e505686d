// Package logging builds the process logger from configuration.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/MatusOllah/slogcolor"
)

// Config selects the handler and the minimum level.
type Config struct {
	Level  string
	Format string
}

// New returns a logger writing to w. Format "text" gives colored console
// output, "json" one JSON object per line.
func New(w io.Writer, cfg Config) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "text":
		h = slogcolor.NewHandler(w, &slogcolor.Options{
			Level:      level,
			TimeFormat: time.DateTime,
		})
	case "json":
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	default:
		return nil, fmt.Errorf("unknown log.format: %s", cfg.Format)
	}
	return slog.New(h), nil
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log.level: %s", s)
	}
}
