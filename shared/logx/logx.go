package logx

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

type Logger struct {
	slog *slog.Logger
	env  string
}

func New(service string, env string, version string, level string) Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				a.Key = "ts"
			case slog.LevelKey:
				a.Key = "level"
			case slog.MessageKey:
				a.Key = "event"
			}
			return a
		},
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	base := slog.New(handler).With(
		slog.String("service", service),
		slog.String("env", env),
	)
	if strings.TrimSpace(version) != "" {
		base = base.With(slog.String("version", strings.TrimSpace(version)))
	}

	return Logger{slog: base, env: env}
}

// The zero Logger discards everything, so values threaded through
// structs never need a nil check.
func (l Logger) log(ctx context.Context, level slog.Level, event string, msg string, attrs []slog.Attr) {
	if l.slog == nil {
		return
	}
	attrs = append(attrs, slog.String("msg", msg))
	l.slog.LogAttrs(ctx, level, event, attrs...)
}

func (l Logger) Info(ctx context.Context, event string, msg string, attrs ...slog.Attr) {
	l.log(ctx, slog.LevelInfo, event, msg, attrs)
}

func (l Logger) Warn(ctx context.Context, event string, msg string, attrs ...slog.Attr) {
	l.log(ctx, slog.LevelWarn, event, msg, attrs)
}

func (l Logger) Error(ctx context.Context, event string, msg string, attrs ...slog.Attr) {
	l.log(ctx, slog.LevelError, event, msg, attrs)
}

func (l Logger) Debug(ctx context.Context, event string, msg string, attrs ...slog.Attr) {
	l.log(ctx, slog.LevelDebug, event, msg, attrs)
}

func (l Logger) With(attrs ...slog.Attr) Logger {
	if l.slog == nil {
		return l
	}
	args := make([]any, 0, len(attrs))
	for _, a := range attrs {
		args = append(args, a)
	}
	return Logger{slog: l.slog.With(args...), env: l.env}
}

func (l Logger) Env() string { return l.env }

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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
