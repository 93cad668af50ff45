// Package oteladapters connects the observability interfaces of realtimedb to OpenTelemetry.
//
// Each adapter can be passed to the matching option of httpengine:
//
//	client, err := httpengine.NewClient(endpoint,
//		httpengine.WithContextualLogger(oteladapters.NewSlogBridgeLogger("realtimedb")),
//		httpengine.WithMetrics(oteladapters.NewMetricsCollector(otel.Meter("realtimedb"))),
//		httpengine.WithTracing(oteladapters.NewTracingCollector(otel.Tracer("realtimedb"))),
//	)
//
// Metric instruments are created lazily on first use and are safe for the concurrent stream goroutines.
package oteladapters
