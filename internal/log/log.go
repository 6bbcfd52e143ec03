// Package log provides context-carried structured logging.  The logger
// rides the context; code logs with the package-level leveled functions and
// never holds a logger in a struct.
package log

import (
	"context"

	"go.uber.org/zap"
)

type loggerKey struct{}

// WithLogger returns a context carrying l.  Library consumers install their
// own logger here; everything below logs through it.
func WithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

func extract(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok {
		return l
	}
	return zap.NewNop()
}

// Child returns a context whose logger is named name and carries fields on
// every message logged through it.
func Child(ctx context.Context, name string, fields ...zap.Field) context.Context {
	return WithLogger(ctx, extract(ctx).Named(name).With(fields...))
}

// Debug logs at debug level to the context's logger.
func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	extract(ctx).Debug(msg, fields...)
}

// Info logs at info level to the context's logger.
func Info(ctx context.Context, msg string, fields ...zap.Field) {
	extract(ctx).Info(msg, fields...)
}

// Error logs at error level to the context's logger.
func Error(ctx context.Context, msg string, fields ...zap.Field) {
	extract(ctx).Error(msg, fields...)
}
