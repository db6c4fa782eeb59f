// Package otel provides the OpenTelemetry span backend. Each step
// invocation becomes an OTel span named after the step, with the flow name
// attached as an attribute, and the active trace id doubles as the
// correlation identifier on outgoing records.
package otel

import (
	"context"
	"fmt"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jpuglielli/penstock/pkg/api"
)

const tracerName = "penstock"

// Backend records spans through an OpenTelemetry tracer.
type Backend struct {
	tracer trace.Tracer
}

// New creates a backend using the globally registered tracer provider.
func New() *Backend {
	return NewWithTracerProvider(otelapi.GetTracerProvider())
}

// NewWithTracerProvider creates a backend bound to tp.
func NewWithTracerProvider(tp trace.TracerProvider) *Backend {
	return &Backend{tracer: tp.Tracer(tracerName)}
}

// Available reports whether a real (non-noop) tracer provider has been
// registered globally. The auto-selection probe uses this; a throwaway
// span from the noop provider carries an invalid span context.
func Available() bool {
	tracer := otelapi.GetTracerProvider().Tracer(tracerName)
	_, sp := tracer.Start(context.Background(), "penstock.detect")
	defer sp.End()
	return sp.SpanContext().IsValid()
}

// Span implements api.Backend.
func (b *Backend) Span(ctx context.Context, flow, step string, attrs api.Attrs) (context.Context, api.Span) {
	kv := make([]attribute.KeyValue, 0, 1+len(attrs))
	kv = append(kv, attribute.String("penstock.flow", flow))
	for k, v := range attrs {
		kv = append(kv, anyAttribute(k, v))
	}

	ctx, sp := b.tracer.Start(ctx, step, trace.WithAttributes(kv...))
	return ctx, &span{sp: sp}
}

// CorrelationID returns the active trace id, or "" outside any trace.
func (b *Backend) CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

type span struct {
	sp trace.Span
}

func (s *span) End(err error) {
	if err != nil {
		s.sp.RecordError(err)
		s.sp.SetStatus(codes.Error, err.Error())
	}
	s.sp.End()
}

func anyAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}
