//go:build unit

package zap

import (
	"context"
	"errors"
	"testing"

	logpkg "github.com/Gwatamalou/orderprocessor/internal/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, observed := observer.New(level)
	atomic := zap.NewAtomicLevelAt(level)

	return &Logger{base: zap.New(core), level: atomic}, observed
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Environment: "staging"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid environment")

	_, err = New(Config{Environment: EnvironmentLocal, Level: "verbose"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid level")
}

func TestNew_ProfileDefaults(t *testing.T) {
	t.Parallel()

	prod, err := New(Config{Environment: EnvironmentProduction})
	require.NoError(t, err)
	assert.True(t, prod.Enabled(logpkg.LevelInfo))
	assert.False(t, prod.Enabled(logpkg.LevelDebug), "production defaults to info")

	local, err := New(Config{Environment: EnvironmentLocal})
	require.NoError(t, err)
	assert.True(t, local.Enabled(logpkg.LevelDebug), "local defaults to debug")
}

func TestNew_LevelOverride(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{Environment: EnvironmentLocal, Level: "error"})
	require.NoError(t, err)

	assert.True(t, logger.Enabled(logpkg.LevelError))
	assert.False(t, logger.Enabled(logpkg.LevelWarn))
	assert.Equal(t, zapcore.ErrorLevel, logger.Level().Level())
}

func TestLogger_RoutesLevels(t *testing.T) {
	t.Parallel()

	logger, observed := newObservedLogger(zapcore.DebugLevel)

	logger.Log(context.Background(), logpkg.LevelDebug, "d")
	logger.Log(context.Background(), logpkg.LevelInfo, "i")
	logger.Log(context.Background(), logpkg.LevelWarn, "w")
	logger.Log(context.Background(), logpkg.LevelError, "e")

	entries := observed.All()
	require.Len(t, entries, 4)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
}

func TestLogger_TypedFields(t *testing.T) {
	t.Parallel()

	logger, observed := newObservedLogger(zapcore.DebugLevel)
	cause := errors.New("broken pipe")

	logger.Log(context.Background(), logpkg.LevelInfo, "published",
		logpkg.String("routing_key", "order.created"),
		logpkg.Int("batch_size", 100),
		logpkg.Int64("message_id", 42),
		logpkg.Bool("redelivered", false),
		logpkg.Err(cause),
	)

	entries := observed.All()
	require.Len(t, entries, 1)

	fields := entries[0].ContextMap()
	assert.Equal(t, "order.created", fields["routing_key"])
	assert.Equal(t, int64(100), fields["batch_size"])
	assert.Equal(t, int64(42), fields["message_id"])
	assert.Equal(t, false, fields["redelivered"])
	assert.Equal(t, "broken pipe", fields["error"])
}

func TestLogger_SpanContextEnrichment(t *testing.T) {
	t.Parallel()

	logger, observed := newObservedLogger(zapcore.DebugLevel)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{0x01},
		SpanID:  trace.SpanID{0x02},
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	logger.Log(ctx, logpkg.LevelInfo, "dispatch cycle")

	entries := observed.All()
	require.Len(t, entries, 1)

	fields := entries[0].ContextMap()
	assert.Equal(t, sc.TraceID().String(), fields["trace_id"])
	assert.Equal(t, sc.SpanID().String(), fields["span_id"])
}

func TestLogger_WithAddsPersistentFields(t *testing.T) {
	t.Parallel()

	logger, observed := newObservedLogger(zapcore.DebugLevel)

	child := logger.With(logpkg.String("queue", "order-service.order.processed"))
	child.Log(context.Background(), logpkg.LevelInfo, "consumer started")

	entries := observed.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "order-service.order.processed", entries[0].ContextMap()["queue"])
}

func TestLogger_NilReceiverIsSilent(t *testing.T) {
	t.Parallel()

	var logger *Logger

	assert.NotPanics(t, func() {
		logger.Log(context.Background(), logpkg.LevelError, "ignored")
	})
	assert.False(t, logger.Enabled(logpkg.LevelError))
	assert.NoError(t, logger.Sync(context.Background()))
}
