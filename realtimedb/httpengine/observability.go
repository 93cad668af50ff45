package httpengine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/AntonStoeckl/realtime-database-go/realtimedb"
)

const (
	logMsgRequestExecuted    = "executed request for: "
	logMsgOperation          = "realtimedb operation: "
	logMsgRequestFailed      = "request failed"
	logMsgBuildRequestFailed = "failed to build request"
	logMsgCloseBodyFailed    = "failed to close response body"
	logMsgStreamConnected    = "stream connected"
	logMsgStreamReconnecting = "stream reconnecting"
	logMsgStreamClosed       = "stream closed"
	logMsgStreamCanceled     = "stream canceled by server"
	logMsgAuthRevoked        = "stream auth revoked"
	logMsgMalformedFrame     = "malformed frame dropped"
	logMsgListenerPanicked   = "listener panicked"
	logMsgListenerAdded      = "listener registered"
	logMsgListenerRemoved    = "listener removed"
	logAttrError             = "error"
	logAttrMethod            = "method"
	logAttrURL               = "url"
	logAttrStatusCode        = "status_code"
	logAttrDurationMS        = "duration_ms"
	logAttrPath              = "path"
	logAttrKind              = "kind"
	logAttrEvent             = "event"
	logAttrAttempt           = "attempt"
	logAttrDelayMS           = "delay_ms"
	logAttrSubscriptionID    = "subscription_id"
	logAttrConnectionKey     = "connection_key"
	logAttrShallow           = "shallow"
	logAttrPanic             = "panic"
)

const (
	metricRequestDuration   = "realtimedb_request_duration_seconds"
	metricRequests          = "realtimedb_requests_total"
	metricRequestErrors     = "realtimedb_request_errors_total"
	metricStreamConnects    = "realtimedb_stream_connects_total"
	metricStreamReconnects  = "realtimedb_stream_reconnects_total"
	metricStreamFrames      = "realtimedb_stream_frames_total"
	metricMalformedFrames   = "realtimedb_stream_malformed_frames_total"
	metricActiveConnections = "realtimedb_stream_active_connections"
	metricListenerPanics    = "realtimedb_listener_panics_total"
	metricEventsDispatched  = "realtimedb_events_dispatched_total"
	spanNamePrefix          = "realtimedb."
	spanAttrOperation       = "operation"
	spanAttrPath            = "path"
	spanAttrStatusCode      = "status_code"
	spanAttrErrorType       = "error_type"
	spanAttrDurationMS      = "duration_ms"
	labelStatus             = "status"
	labelKind               = "kind"
	labelEvent              = "event"
	statusSuccess           = "success"
	statusError             = "error"
	statusCanceled          = "canceled"
	errorTypeInvalidArg     = "invalid_argument"
	errorTypeAuthRequired   = "auth_required"
	errorTypeAuthExpired    = "auth_expired"
	errorTypeParse          = "parse"
	errorTypeTransport      = "transport"
	errorTypeCanceled       = "canceled"
	errorTypeUnknown        = "unknown"
)

// errorTypeOf classifies err into a low-cardinality label value.
func errorTypeOf(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errorTypeCanceled
	case errors.Is(err, realtimedb.ErrInvalidArgument):
		return errorTypeInvalidArg
	case errors.Is(err, realtimedb.ErrAuthRequired):
		return errorTypeAuthRequired
	case errors.Is(err, realtimedb.ErrAuthExpired):
		return errorTypeAuthExpired
	case errors.Is(err, realtimedb.ErrParse):
		return errorTypeParse
	case errors.Is(err, realtimedb.ErrTransport):
		return errorTypeTransport
	default:
		return errorTypeUnknown
	}
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}

/***** logging *****/

func (c *Client) logDebug(ctx context.Context, msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}

	if c.contextualLogger != nil {
		c.contextualLogger.DebugContext(ctx, msg, args...)
	}
}

func (c *Client) logInfo(ctx context.Context, msg string, args ...any) {
	if c.logger != nil {
		c.logger.Info(msg, args...)
	}

	if c.contextualLogger != nil {
		c.contextualLogger.InfoContext(ctx, msg, args...)
	}
}

func (c *Client) logWarn(ctx context.Context, msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}

	if c.contextualLogger != nil {
		c.contextualLogger.WarnContext(ctx, msg, args...)
	}
}

// logError logs error information at the error level if a logger is configured.
func (c *Client) logError(ctx context.Context, msg string, err error, args ...any) {
	if c.logger == nil && c.contextualLogger == nil {
		return
	}

	allArgs := []any{logAttrError, err.Error()}
	allArgs = append(allArgs, args...)

	if c.logger != nil {
		c.logger.Error(msg, allArgs...)
	}

	if c.contextualLogger != nil {
		c.contextualLogger.ErrorContext(ctx, msg, allArgs...)
	}
}

// logRequest logs an executed request with its timing at debug level. The auth parameter is redacted.
func (c *Client) logRequest(ctx context.Context, req realtimedb.Request, op realtimedb.Operation, statusCode int, d time.Duration) {
	c.logDebug(ctx, logMsgRequestExecuted+op.String(),
		logAttrMethod, req.Method,
		logAttrURL, req.RedactedURL(),
		logAttrStatusCode, statusCode,
		logAttrDurationMS, toMilliseconds(d),
	)
}

/***** metrics *****/

func (c *Client) incrementCounter(ctx context.Context, metric string, labels map[string]string) {
	if c.metricsCollector == nil {
		return
	}

	if contextualCollector, ok := c.metricsCollector.(realtimedb.ContextualMetricsCollector); ok {
		contextualCollector.IncrementCounterContext(ctx, metric, labels)
		return
	}

	c.metricsCollector.IncrementCounter(metric, labels)
}

func (c *Client) recordDuration(ctx context.Context, metric string, d time.Duration, labels map[string]string) {
	if c.metricsCollector == nil {
		return
	}

	if contextualCollector, ok := c.metricsCollector.(realtimedb.ContextualMetricsCollector); ok {
		contextualCollector.RecordDurationContext(ctx, metric, d, labels)
		return
	}

	c.metricsCollector.RecordDuration(metric, d, labels)
}

func (c *Client) recordValue(ctx context.Context, metric string, value float64, labels map[string]string) {
	if c.metricsCollector == nil {
		return
	}

	if contextualCollector, ok := c.metricsCollector.(realtimedb.ContextualMetricsCollector); ok {
		contextualCollector.RecordValueContext(ctx, metric, value, labels)
		return
	}

	c.metricsCollector.RecordValue(metric, value, labels)
}

// recordActiveConnections publishes the size of the connection registry.
func (c *Client) recordActiveConnections(ctx context.Context) {
	c.recordValue(ctx, metricActiveConnections, float64(c.registry.Len()), nil)
}

/***** tracing *****/

// requestObserver encapsulates span and metrics lifecycle management for one-shot operations.
type requestObserver struct {
	client    *Client
	ctx       context.Context
	span      realtimedb.SpanContext
	operation string
	start     time.Time
}

// startRequestObservation starts a span (if tracing is configured) and the duration clock for op.
func (c *Client) startRequestObservation(
	ctx context.Context,
	op realtimedb.Operation,
	ref realtimedb.Reference,
) (*requestObserver, context.Context) {

	observer := &requestObserver{client: c, operation: op.String(), start: time.Now()}

	if c.tracingCollector != nil {
		ctx, observer.span = c.tracingCollector.StartSpan(ctx, spanNamePrefix+op.String(), map[string]string{
			spanAttrOperation: op.String(),
			spanAttrPath:      ref.String(),
		})
	}

	observer.ctx = ctx

	return observer, ctx
}

// finishSuccess records metrics and completes the span of a successful operation.
func (o *requestObserver) finishSuccess(statusCode int) {
	duration := time.Since(o.start)
	labels := map[string]string{spanAttrOperation: o.operation, labelStatus: statusSuccess}

	o.client.recordDuration(o.ctx, metricRequestDuration, duration, labels)
	o.client.incrementCounter(o.ctx, metricRequests, labels)

	if o.span == nil {
		return
	}

	o.span.SetStatus(statusSuccess)
	o.span.AddAttribute(spanAttrDurationMS, fmt.Sprintf("%.2f", toMilliseconds(duration)))
	o.client.tracingCollector.FinishSpan(o.span, statusSuccess, map[string]string{
		spanAttrStatusCode: strconv.Itoa(statusCode),
	})
}

// finishError records metrics and completes the span of a failed operation.
func (o *requestObserver) finishError(err error, statusCode int) {
	duration := time.Since(o.start)
	errorType := errorTypeOf(err)
	status := statusError
	if errorType == errorTypeCanceled {
		status = statusCanceled
	}

	o.client.recordDuration(o.ctx, metricRequestDuration, duration, map[string]string{
		spanAttrOperation: o.operation,
		labelStatus:       status,
	})
	o.client.incrementCounter(o.ctx, metricRequests, map[string]string{
		spanAttrOperation: o.operation,
		labelStatus:       status,
	})
	o.client.incrementCounter(o.ctx, metricRequestErrors, map[string]string{
		spanAttrOperation: o.operation,
		spanAttrErrorType: errorType,
	})

	if o.span == nil {
		return
	}

	attrs := map[string]string{spanAttrErrorType: errorType}
	if statusCode > 0 {
		attrs[spanAttrStatusCode] = strconv.Itoa(statusCode)
	}

	o.span.SetStatus(status)
	o.span.AddAttribute(spanAttrDurationMS, fmt.Sprintf("%.2f", toMilliseconds(duration)))
	o.client.tracingCollector.FinishSpan(o.span, status, attrs)
}
