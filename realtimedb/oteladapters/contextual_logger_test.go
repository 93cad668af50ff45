package oteladapters_test

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/noop"

	"github.com/AntonStoeckl/realtime-database-go/realtimedb/oteladapters"
)

func Test_SlogBridgeLogger_AllLevels(t *testing.T) {
	// arrange
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := oteladapters.NewSlogBridgeLoggerWithHandler(handler)
	ctx := context.Background()

	// act
	logger.DebugContext(ctx, "debug message", "path", "/rooms")
	logger.InfoContext(ctx, "info message", "attempt", 2)
	logger.WarnContext(ctx, "warn message", "shallow", true)
	logger.ErrorContext(ctx, "error message", "duration_ms", 1.5)

	// assert
	output := buf.String()
	assert.Contains(t, output, `"level":"DEBUG","msg":"debug message","path":"/rooms"`)
	assert.Contains(t, output, `"level":"INFO","msg":"info message","attempt":2`)
	assert.Contains(t, output, `"level":"WARN","msg":"warn message","shallow":true`)
	assert.Contains(t, output, `"level":"ERROR","msg":"error message","duration_ms":1.5`)
}

func Test_NewSlogBridgeLogger_UsesGlobalProvider(t *testing.T) {
	// arrange
	logger := oteladapters.NewSlogBridgeLogger("realtimedb")

	// act / assert
	assert.NotPanics(t, func() {
		logger.InfoContext(context.Background(), "stream connected", "path", "/rooms")
	})
}

func Test_OTelLogger_EmitsTypedAttributes(t *testing.T) {
	// arrange
	recorder := &recordingLogger{}
	logger := oteladapters.NewOTelLogger(recorder)

	// act
	logger.WarnContext(context.Background(), "stream reconnecting",
		"path", "/rooms",
		"attempt", 3,
		"delay_ms", 1000.0,
		"shallow", false,
		"status_code", int64(503),
		"dangling",
	)

	// assert
	records := recorder.Records()
	require.Len(t, records, 1)
	assert.Equal(t, log.SeverityWarn, records[0].Severity())
	assert.Equal(t, "stream reconnecting", records[0].Body().AsString())

	attrs := make(map[string]log.Value)
	records[0].WalkAttributes(func(kv log.KeyValue) bool {
		attrs[kv.Key] = kv.Value
		return true
	})
	require.Len(t, attrs, 5, "a trailing key without value is dropped")
	assert.Equal(t, "/rooms", attrs["path"].AsString())
	assert.Equal(t, int64(3), attrs["attempt"].AsInt64())
	assert.InDelta(t, 1000.0, attrs["delay_ms"].AsFloat64(), 0.001)
	assert.False(t, attrs["shallow"].AsBool())
	assert.Equal(t, int64(503), attrs["status_code"].AsInt64())
}

func Test_OTelLogger_AllLevels(t *testing.T) {
	// arrange
	recorder := &recordingLogger{}
	logger := oteladapters.NewOTelLogger(recorder)
	ctx := context.Background()

	// act
	logger.DebugContext(ctx, "debug")
	logger.InfoContext(ctx, "info")
	logger.WarnContext(ctx, "warn")
	logger.ErrorContext(ctx, "error")

	// assert
	records := recorder.Records()
	require.Len(t, records, 4)
	assert.Equal(t, log.SeverityDebug, records[0].Severity())
	assert.Equal(t, log.SeverityInfo, records[1].Severity())
	assert.Equal(t, log.SeverityWarn, records[2].Severity())
	assert.Equal(t, log.SeverityError, records[3].Severity())
}

func Test_OTelLogger_DisabledLoggerDoesNotEmit(t *testing.T) {
	// arrange
	logger := oteladapters.NewOTelLogger(noop.NewLoggerProvider().Logger("test"))

	// act / assert
	assert.NotPanics(t, func() {
		logger.InfoContext(context.Background(), "listener registered", "kind", "child_added")
	})
}

type recordingLogger struct {
	noop.Logger

	mu      sync.Mutex
	records []log.Record
}

func (l *recordingLogger) Emit(_ context.Context, record log.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, record.Clone())
}

func (l *recordingLogger) Enabled(_ context.Context, _ log.EnabledParameters) bool {
	return true
}

func (l *recordingLogger) Records() []log.Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]log.Record(nil), l.records...)
}
