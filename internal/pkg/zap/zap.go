// Package zap backs the log.Logger facade with uber-go/zap. Entries carry
// trace and span IDs when the context has an active span, so a dispatch cycle
// or a consumed delivery can be followed across both services' logs.
package zap

import (
	"context"

	logpkg "github.com/Gwatamalou/orderprocessor/internal/pkg/log"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger adapts a zap.Logger to the log.Logger facade. The zero value and the
// nil pointer are usable and discard everything.
type Logger struct {
	base  *zap.Logger
	level zap.AtomicLevel
}

var _ logpkg.Logger = (*Logger)(nil)

func (l *Logger) backend() *zap.Logger {
	if l == nil || l.base == nil {
		return zap.NewNop()
	}

	return l.base
}

// Log writes one entry at the given level, appending trace_id and span_id
// when ctx carries an active span.
func (l *Logger) Log(ctx context.Context, level logpkg.Level, msg string, fields ...logpkg.Field) {
	attrs := toZapFields(fields)

	if ctx != nil {
		if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
			attrs = append(attrs,
				zap.String("trace_id", sc.TraceID().String()),
				zap.String("span_id", sc.SpanID().String()),
			)
		}
	}

	l.backend().Log(toZapLevel(level), msg, attrs...)
}

// With returns a child logger whose entries all carry the given fields.
//
//nolint:ireturn
func (l *Logger) With(fields ...logpkg.Field) logpkg.Logger {
	return &Logger{
		base:  l.backend().With(toZapFields(fields)...),
		level: l.level,
	}
}

// Enabled reports whether an entry at the given level would be written.
func (l *Logger) Enabled(level logpkg.Level) bool {
	return l.backend().Core().Enabled(toZapLevel(level))
}

// Sync flushes buffered entries. zap's Sync has no context support, so the
// flush runs in a goroutine and the wait is bounded by ctx.
func (l *Logger) Sync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)

	go func() {
		done <- l.backend().Sync()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Level exposes the atomic level handle so the threshold can be changed at
// runtime.
func (l *Logger) Level() zap.AtomicLevel {
	return l.level
}

func toZapLevel(level logpkg.Level) zapcore.Level {
	switch level {
	case logpkg.LevelDebug:
		return zapcore.DebugLevel
	case logpkg.LevelInfo:
		return zapcore.InfoLevel
	case logpkg.LevelWarn:
		return zapcore.WarnLevel
	case logpkg.LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func toZapFields(fields []logpkg.Field) []zap.Field {
	if len(fields) == 0 {
		return nil
	}

	attrs := make([]zap.Field, 0, len(fields))

	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			attrs = append(attrs, zap.String(f.Key, v))
		case int:
			attrs = append(attrs, zap.Int(f.Key, v))
		case int64:
			attrs = append(attrs, zap.Int64(f.Key, v))
		case bool:
			attrs = append(attrs, zap.Bool(f.Key, v))
		case error:
			attrs = append(attrs, zap.NamedError(f.Key, v))
		default:
			attrs = append(attrs, zap.Any(f.Key, v))
		}
	}

	return attrs
}
