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

func TestDisabledTracingIsNoop(t *testing.T) {
	tr, err := InitTracing(Config{Enabled: false})
	require.NoError(t, err)
	assert.Same(t, tr, GetTracer())

	_, span := tr.StartSpan(context.Background(), "spin.Spin")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, Shutdown(context.Background()))
}

func TestSpinAttributes(t *testing.T) {
	attrs := SpinAttributes("ev-1", "p-1", "")
	assert.Equal(t, []attribute.KeyValue{
		attribute.String("spin.event_id", "ev-1"),
		attribute.String("spin.participant_id", "p-1"),
	}, attrs)
	assert.Len(t, SpinAttributes("ev-1", "p-1", "loc-1"), 3)
}

func TestRecordError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tr := &Tracer{tracer: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)).Tracer(ServiceName)}

	_, ok := tr.StartSpan(context.Background(), "ok")
	RecordError(ok, nil)
	ok.End()

	_, failed := tr.StartSpan(context.Background(), "failed")
	RecordError(failed, errors.New("db down"))
	failed.End()

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "db down", spans[1].Status().Description)
	require.Len(t, spans[1].Events(), 1)
}
