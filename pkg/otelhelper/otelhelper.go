// Package otelhelper provides distributed tracing for orchestration
// monitoring: tracer setup over OTLP/HTTP and a telemetry backend that
// records engine events as span events.
package otelhelper

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/soehq/soe/pkg/events"
)

const (
	// Common attribute keys.
	ExecutionIDKey  = "soe.execution.id"
	WorkflowNameKey = "soe.workflow.name"
	SignalKey       = "soe.signal"
	NodeNameKey     = "soe.node.name"
	NodeTypeKey     = "soe.node.type"
	EventTypeKey    = "soe.event.type"
)

// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func NewTracer(ctx context.Context, serviceName string) (trace.Tracer, error) {
	provider, err := newTracerProvider(ctx, serviceName)
	if err != nil {
		return nil, err
	}

	return provider.Tracer(serviceName), nil
}

// nolint:ireturn,spancheck // Returning interface is intentional for OpenTelemetry tracing
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.AddEvent("error_occurred", trace.WithAttributes(
		attrs...,
	))
}

func newTracerProvider(ctx context.Context, serviceName string) (*sdktrace.TracerProvider, error) {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}))

	return tp, nil
}

// TelemetryBackend records engine events on the active span, falling back
// to a fresh span per event when none is active.
type TelemetryBackend struct {
	tracer trace.Tracer
}

// NewTelemetryBackend wraps a tracer as a telemetry backend.
func NewTelemetryBackend(tracer trace.Tracer) *TelemetryBackend {
	return &TelemetryBackend{tracer: tracer}
}

func (b *TelemetryBackend) LogEvent(ctx context.Context, executionID string, eventType events.Type, data map[string]any) {
	attrs := make([]attribute.KeyValue, 0, len(data)+2)
	attrs = append(attrs,
		attribute.String(ExecutionIDKey, executionID),
		attribute.String(EventTypeKey, string(eventType)),
	)
	for k, v := range data {
		attrs = append(attrs, attribute.String("soe.event."+k, fmt.Sprintf("%v", v)))
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		span.AddEvent(string(eventType), trace.WithAttributes(attrs...))
		return
	}

	_, eventSpan := b.tracer.Start(ctx, string(eventType), trace.WithAttributes(attrs...))
	eventSpan.End()
}
