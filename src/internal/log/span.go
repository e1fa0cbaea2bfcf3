package log

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EndSpanFunc is a function that ends a span.
type EndSpanFunc = func(fields ...Field)

const errorpType = zapcore.InlineMarshalerType + 100

// Errorp is a Field that marks a span as failed if *err is non-nil at the
// time the span ends.  Pass it to an EndSpanFunc from a defer, pointing at
// the function's named return error.
func Errorp(err *error) Field {
	return zapcore.Field{
		Key:       "error",
		Type:      errorpType,
		Interface: err,
	}
}

// Span logs the start of an operation and returns a function that logs its
// end, with the elapsed duration.  The returned EndSpanFunc must be called
// from defer().
func Span(ctx context.Context, event string, fields ...Field) EndSpanFunc {
	_, end := SpanContext(ctx, event, fields...)
	return end
}

// SpanContext is Span, but additionally returns a context whose logger is
// scoped to the span.
func SpanContext(rctx context.Context, event string, fields ...Field) (context.Context, EndSpanFunc) {
	l := extractLogger(rctx).Named(event).With(fields...)
	l.Debug(event + ": span start")
	ctx := withLogger(rctx, l)
	start := time.Now()
	return ctx, func(rawFields ...Field) {
		fields := []Field{zap.Duration("spanDuration", time.Since(start))}
		msg, level := "span finished ok", zapcore.DebugLevel
		for _, f := range rawFields {
			if f.Type == errorpType {
				if errp, ok := f.Interface.(*error); ok && *errp != nil {
					msg, level = "span failed", zapcore.ErrorLevel
					fields = append(fields, zap.Error(*errp))
				}
				continue
			}
			if _, ok := f.Interface.(error); ok {
				msg, level = "span failed", zapcore.ErrorLevel
			}
			fields = append(fields, f)
		}
		if e := l.Check(level, event+": "+msg); e != nil {
			e.Write(fields...)
		}
	}
}
