package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joshp123/particle/internal/config"
)

// New builds a structured logger from cfg. Every record carries the service
// name and version.
func New(cfg config.LoggingConfig, service, version string) *slog.Logger {
	return NewWithWriter(cfg, writerFor(cfg.Output), service, version)
}

func NewWithWriter(cfg config.LoggingConfig, output io.Writer, service, version string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	return slog.New(handler.WithAttrs([]slog.Attr{
		slog.String("service", service),
		slog.String("version", version),
	}))
}

// ParseLevel converts a level name to slog.Level. Unknown names map to info.
func ParseLevel(level string) slog.Level {
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

func writerFor(output string) io.Writer {
	if strings.EqualFold(output, "stdout") {
		return os.Stdout
	}
	return os.Stderr
}
