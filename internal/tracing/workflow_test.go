package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(t *testing.T) (*tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter, tp
}

func TestStartRun_SetsAttributesAndName(t *testing.T) {
	exporter, tp := newRecordingTracer(t)
	tracer := tp.Tracer("test")

	_, span := StartRun(context.Background(), tracer, "run-1", "deploy")
	span.SetOK()
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "workflow.run deploy", spans[0].Name)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)

	attrs := attrMap(spans[0].Attributes)
	assert.Equal(t, "deploy", attrs["workflow.name"])
	assert.Equal(t, "run-1", attrs["workflow.run_id"])
}

func TestStartStep_SetsAttributes(t *testing.T) {
	exporter, tp := newRecordingTracer(t)
	tracer := tp.Tracer("test")

	_, span := StartStep(context.Background(), tracer, "build", "llm_prompt")
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "step build", spans[0].Name)

	attrs := attrMap(spans[0].Attributes)
	assert.Equal(t, "build", attrs["step.name"])
	assert.Equal(t, "llm_prompt", attrs["step.kind"])
}

func TestRunSpan_RecordError(t *testing.T) {
	exporter, tp := newRecordingTracer(t)
	tracer := tp.Tracer("test")

	_, span := StartRun(context.Background(), tracer, "run-1", "deploy")
	span.RecordError(errors.New("boom"))
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "boom", spans[0].Status.Description)
	require.Len(t, spans[0].Events, 1)
}

func TestRunSpan_SetAttributesMixedTypes(t *testing.T) {
	exporter, tp := newRecordingTracer(t)
	tracer := tp.Tracer("test")

	_, span := StartRun(context.Background(), tracer, "run-1", "deploy")
	span.SetAttributes(map[string]any{
		"tokens":     int64(42),
		"confidence": 87,
		"rate":       0.5,
		"retried":    true,
		"model":      "sonnet",
	})
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	attrs := attrMap(spans[0].Attributes)
	assert.Equal(t, int64(42), attrs["tokens"])
	assert.Equal(t, int64(87), attrs["confidence"])
	assert.Equal(t, 0.5, attrs["rate"])
	assert.Equal(t, true, attrs["retried"])
	assert.Equal(t, "sonnet", attrs["model"])
}

func TestRunSpan_NilSafe(t *testing.T) {
	var span *RunSpan
	assert.NotPanics(t, func() {
		span.SetAttributes(map[string]any{"a": "b"})
		span.RecordError(errors.New("x"))
		span.SetOK()
		span.End()
	})
}

func attrMap(attrs []attribute.KeyValue) map[string]any {
	m := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		m[string(kv.Key)] = kv.Value.AsInterface()
	}
	return m
}
