package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "tideway"

// StartPublishSpan starts a span for one envelope's fan-out.
func StartPublishSpan(ctx context.Context, eventID, topic string, size int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "publish",
		trace.WithAttributes(
			attribute.String("event.id", eventID),
			attribute.String("event.topic", topic),
			attribute.Int("event.size", size),
		),
	)
}

// StartIngressSpan starts a span for a message received from the bus.
func StartIngressSpan(ctx context.Context, subject string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "ingress",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "nats"),
			attribute.String("messaging.destination", subject),
		),
	)
}
