package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey struct{}

var (
	mu   sync.Mutex
	base *slog.Logger
)

type Options struct {
	Component string
	Level     string
	// FilePath enables a rotating log file next to stdout when set.
	FilePath string
	Output   io.Writer
}

// Init configures the process-wide logger and returns it.
func Init(opts Options) *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if opts.FilePath != "" {
		_ = os.MkdirAll(filepath.Dir(opts.FilePath), 0o755)
		rot := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    50, // MB
			MaxBackups: 3,
			MaxAge:     7, // days
		}
		out = io.MultiWriter(out, rot)
	}

	h := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: ParseLevel(opts.Level)})
	app := opts.Component
	if app == "" {
		app = "storefront"
	}
	base = slog.New(h).With("app", app)
	slog.SetDefault(base)
	return base
}

// Base returns the process-wide logger, falling back to a stdout JSON logger.
func Base() *slog.Logger {
	mu.Lock()
	l := base
	mu.Unlock()
	if l == nil {
		return Init(Options{})
	}
	return l
}

// New returns a child logger for a component. It shares the base handler.
func New(component string) *slog.Logger {
	return Base().With("component", component)
}

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

func WithCtx(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromCtx returns the request-scoped logger, or the base one, annotated with
// the active trace and span ids when the context carries a valid span.
func FromCtx(ctx context.Context) *slog.Logger {
	l := Base()
	if v, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && v != nil {
		l = v
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		l = l.With("trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
	}
	return l
}

// Discard is a logger that drops everything; handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
