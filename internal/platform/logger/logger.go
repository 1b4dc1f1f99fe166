package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"

	"github.com/phrazzld/tasker/internal/config"
)

type contextKey struct{}

// Option customises Setup.
type Option func(*options)

type options struct {
	out   io.Writer
	extra []slog.Handler
}

// WithOutput sends JSON records to w instead of stdout.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// WithHandler adds a handler that receives every record in addition to
// the JSON output. Used to bridge records into OpenTelemetry.
func WithHandler(h slog.Handler) Option {
	return func(o *options) {
		if h != nil {
			o.extra = append(o.extra, h)
		}
	}
}

// ParseLevel maps a configured level name to a slog.Level. The second
// result is false when the name is not recognised.
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// Setup initializes and configures the application's logging system based on
// the provided configuration. It creates a structured JSON logger with the
// appropriate log level and sets it as the default logger for the application.
func Setup(cfg config.ServerConfig, opts ...Option) (*slog.Logger, error) {
	o := options{out: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	level, ok := ParseLevel(cfg.LogLevel)
	if !ok {
		tmpLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		tmpLogger.Warn("invalid log level configured, using default level",
			"configured_level", cfg.LogLevel,
			"default_level", "info")
	}

	var handler slog.Handler = slog.NewJSONHandler(o.out, &slog.HandlerOptions{Level: level})
	if len(o.extra) > 0 {
		fanout := slogmulti.Fanout(append([]slog.Handler{handler}, o.extra...)...)
		handler = &levelHandler{level: level, next: fanout}
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger, nil
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger stored in ctx, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	return FromContextOrDefault(ctx, slog.Default())
}

// FromContextOrDefault returns the logger stored in ctx, or def if none is
// present. A nil def falls back to slog.Default().
func FromContextOrDefault(ctx context.Context, def *slog.Logger) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && l != nil {
			return l
		}
	}
	if def == nil {
		return slog.Default()
	}
	return def
}
