package oteladapters_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/AntonStoeckl/realtime-database-go/realtimedb/oteladapters"
)

func Test_TracingCollector_StartAndFinishSpan(t *testing.T) {
	// arrange
	exporter, collector := givenTracingCollector(t)

	// act
	ctx, spanCtx := collector.StartSpan(context.Background(), "realtimedb.read", map[string]string{
		"operation": "read",
		"path":      "/rooms",
	})
	spanCtx.AddAttribute("duration_ms", "1.50")
	collector.FinishSpan(spanCtx, "success", map[string]string{"status_code": "200"})

	// assert
	assert.True(t, trace.SpanContextFromContext(ctx).IsValid())

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "realtimedb.read", spans[0].Name)
	assert.Equal(t, trace.SpanKindClient, spans[0].SpanKind)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
	assertSpanHasAttribute(t, spans[0], "operation", "read")
	assertSpanHasAttribute(t, spans[0], "path", "/rooms")
	assertSpanHasAttribute(t, spans[0], "duration_ms", "1.50")
	assertSpanHasAttribute(t, spans[0], "status_code", "200")
}

func Test_TracingCollector_StatusMapping(t *testing.T) {
	testCases := []struct {
		status       string
		expectedCode codes.Code
		expectedDesc string
	}{
		{status: "success", expectedCode: codes.Ok},
		{status: "error", expectedCode: codes.Error, expectedDesc: "operation failed"},
		{status: "canceled", expectedCode: codes.Error, expectedDesc: "operation canceled"},
		{status: "throttled", expectedCode: codes.Unset},
	}

	for _, tc := range testCases {
		t.Run(tc.status, func(t *testing.T) {
			// arrange
			exporter, collector := givenTracingCollector(t)

			// act
			_, spanCtx := collector.StartSpan(context.Background(), "realtimedb.write", nil)
			collector.FinishSpan(spanCtx, tc.status, nil)

			// assert
			spans := exporter.GetSpans()
			require.Len(t, spans, 1)
			assert.Equal(t, tc.expectedCode, spans[0].Status.Code)
			assert.Equal(t, tc.expectedDesc, spans[0].Status.Description)
			if tc.expectedCode == codes.Unset {
				assertSpanHasAttribute(t, spans[0], "status", tc.status)
			}
		})
	}
}

func Test_TracingCollector_FinishSpan_IgnoresForeignSpanContext(t *testing.T) {
	// arrange
	exporter, collector := givenTracingCollector(t)

	// act / assert
	assert.NotPanics(t, func() {
		collector.FinishSpan(foreignSpanContext{}, "success", nil)
		collector.FinishSpan(nil, "success", nil)
	})
	assert.Empty(t, exporter.GetSpans())
}

type foreignSpanContext struct{}

func (foreignSpanContext) SetStatus(string)            {}
func (foreignSpanContext) AddAttribute(string, string) {}

func givenTracingCollector(t *testing.T) (*tracetest.InMemoryExporter, *oteladapters.TracingCollector) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	return exporter, oteladapters.NewTracingCollector(provider.Tracer("realtimedb"))
}

func assertSpanHasAttribute(t *testing.T, span tracetest.SpanStub, key, expectedValue string) {
	t.Helper()

	for _, attr := range span.Attributes {
		if attr.Key == attribute.Key(key) && attr.Value.AsString() == expectedValue {
			return
		}
	}
	assert.Failf(t, "missing span attribute", "%s=%s", key, expectedValue)
}
