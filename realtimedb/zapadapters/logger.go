// Package zapadapters backs the logging interfaces of realtimedb with go.uber.org/zap.
package zapadapters

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/AntonStoeckl/realtime-database-go/realtimedb"
)

const (
	fieldTraceID = "trace_id"
	fieldSpanID  = "span_id"
)

// Logger implements realtimedb.Logger and realtimedb.ContextualLogger with a zap.SugaredLogger.
// Arguments are treated as alternating keys and values, as with log/slog.
//
// The context-aware methods add the trace and span IDs of an active span as fields.
type Logger struct {
	sugar *zap.SugaredLogger
}

// NewLogger wraps logger. A nil logger is replaced by zap.NewNop.
func NewLogger(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Logger{sugar: logger.Sugar()}
}

func (l *Logger) Debug(msg string, args ...any) {
	l.sugar.Debugw(msg, args...)
}

func (l *Logger) Info(msg string, args ...any) {
	l.sugar.Infow(msg, args...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.sugar.Warnw(msg, args...)
}

func (l *Logger) Error(msg string, args ...any) {
	l.sugar.Errorw(msg, args...)
}

func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.sugar.Debugw(msg, withTrace(ctx, args)...)
}

func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.sugar.Infow(msg, withTrace(ctx, args)...)
}

func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.sugar.Warnw(msg, withTrace(ctx, args)...)
}

func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.sugar.Errorw(msg, withTrace(ctx, args)...)
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

func withTrace(ctx context.Context, args []any) []any {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return args
	}

	withIDs := make([]any, 0, len(args)+4)
	withIDs = append(withIDs, fieldTraceID, spanCtx.TraceID().String(), fieldSpanID, spanCtx.SpanID().String())

	return append(withIDs, args...)
}

var (
	_ realtimedb.Logger           = (*Logger)(nil)
	_ realtimedb.ContextualLogger = (*Logger)(nil)
)
