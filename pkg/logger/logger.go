// Package logger configures the process-wide structured logger.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
)

const modulePackagePrefix = "github.com/agent-mcp/agentmcp"

// ParseLevel converts a string log level to slog.Level.
// Unrecognized values fall back to warn rather than erroring, since
// this is almost always fed from a CLI flag the operator can fix.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// filteringHandler suppresses third-party library log records unless
// the process is running at debug level, so a noisy driver or HTTP
// client doesn't drown out this module's own logs.
type filteringHandler struct {
	handler  slog.Handler
	minLevel slog.Level
}

func (h *filteringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.minLevel && h.handler.Enabled(ctx, level)
}

func (h *filteringHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.minLevel <= slog.LevelDebug || h.isOwnPackage(record.PC) {
		return h.handler.Handle(ctx, record)
	}
	return nil
}

func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &filteringHandler{handler: h.handler.WithAttrs(attrs), minLevel: h.minLevel}
}

func (h *filteringHandler) WithGroup(name string) slog.Handler {
	return &filteringHandler{handler: h.handler.WithGroup(name), minLevel: h.minLevel}
}

func (h *filteringHandler) isOwnPackage(pc uintptr) bool {
	if pc == 0 {
		return true
	}
	frames := runtime.CallersFrames([]uintptr{pc})
	frame, _ := frames.Next()
	return strings.HasPrefix(frame.Function, modulePackagePrefix)
}

// Options configures the default logger.
type Options struct {
	Level  string
	Format string // "json" or "text"
	Output io.Writer
}

// New builds a *slog.Logger per Options and installs it as the
// process default via slog.SetDefault.
func New(opts Options) *slog.Logger {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	level := ParseLevel(opts.Level)

	var base slog.Handler
	handlerOpts := &slog.HandlerOptions{Level: level}
	if opts.Format == "json" {
		base = slog.NewJSONHandler(opts.Output, handlerOpts)
	} else {
		base = slog.NewTextHandler(opts.Output, handlerOpts)
	}

	l := slog.New(&filteringHandler{handler: base, minLevel: level})
	slog.SetDefault(l)
	return l
}
