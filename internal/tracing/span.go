package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys set on stepfire spans.
const (
	AttrScenario  = attribute.Key("stepfire.scenario")
	AttrRunID     = attribute.Key("stepfire.run_id")
	AttrIteration = attribute.Key("stepfire.iteration")
	AttrStep      = attribute.Key("stepfire.step")
	AttrStatus    = attribute.Key("stepfire.status")
)

// StartIterationSpan starts the root span of one scenario iteration.
func StartIterationSpan(ctx context.Context, tracer trace.Tracer, scenario string, iteration int64) (context.Context, trace.Span) {
	return tracer.Start(ctx, scenario+" iteration",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrScenario.String(scenario),
			AttrIteration.Int64(iteration),
		),
	)
}

// StartStepSpan starts a child span for a step. path is the slash separated
// step path, e.g. "checkout/pay".
func StartStepSpan(ctx context.Context, tracer trace.Tracer, path string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "step "+path,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(AttrStep.String(path)),
	)
}

// StartRequestSpan starts a client span for an outgoing request made by a step.
func StartRequestSpan(ctx context.Context, tracer trace.Tracer, method, target string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "HTTP "+method,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("http.request.method", method),
	)
	if target != "" {
		span.SetAttributes(attribute.String("url.full", target))
	}
	return ctx, span
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectHTTPHeaders injects W3C trace context into HTTP headers.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
