// Package log manages a zap logger carried on the context.  All logging in
// this project goes through the functions here; nothing should retain a
// *zap.Logger directly.
package log

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field is an alias for zap.Field, so that callers only import this package.
type Field = zap.Field

type loggerKey struct{}

// AddLogger returns a context carrying the process-wide development logger.
// It is the root of every context in the program; see pctx.Background.
func AddLogger(ctx context.Context) context.Context {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		// The production config only fails to build on invalid output
		// paths, and stderr is always valid.
		panic(err)
	}
	return withLogger(ctx, l)
}

// WithLogger returns a context carrying the provided logger.  Tests use this
// with a zaptest logger.
func WithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return withLogger(ctx, l)
}

// ChildLogger returns a context whose logger is named and carries the
// additional fields on every line.
func ChildLogger(ctx context.Context, name string, fields ...Field) context.Context {
	l := extractLogger(ctx)
	if name != "" {
		l = l.Named(name)
	}
	return withLogger(ctx, l.With(fields...))
}

func withLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

func extractLogger(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok {
		return l
	}
	return zap.NewNop()
}

// Debug logs msg at debug level, with the context's logger.
func Debug(ctx context.Context, msg string, fields ...Field) {
	extractLogger(ctx).WithOptions(zap.AddCallerSkip(1)).Debug(msg, fields...)
}

// Info logs msg at info level, with the context's logger.
func Info(ctx context.Context, msg string, fields ...Field) {
	extractLogger(ctx).WithOptions(zap.AddCallerSkip(1)).Info(msg, fields...)
}

// Warn logs msg at warn level, with the context's logger.
func Warn(ctx context.Context, msg string, fields ...Field) {
	extractLogger(ctx).WithOptions(zap.AddCallerSkip(1)).Warn(msg, fields...)
}

// Error logs msg at error level, with the context's logger.
func Error(ctx context.Context, msg string, fields ...Field) {
	extractLogger(ctx).WithOptions(zap.AddCallerSkip(1)).Error(msg, fields...)
}
