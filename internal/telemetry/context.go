// Package telemetry provides per-request correlation context, a
// structured operational-event log helper, a request-scoped trace
// accumulator, and a concurrent dependency health aggregator.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

type contextKey string

const (
	correlationKey contextKey = "telemetry_correlation"
	traceAccumKey  contextKey = "telemetry_trace_accum"
)

// CorrelationContext travels alongside (not instead of) the OTel span:
// the span carries trace/span IDs for the exporter, this struct carries
// the handful of fields every log line and audit entry wants without a
// span lookup.
type CorrelationContext struct {
	CorrelationID string
	TraceID       string
	UserID        string
	StartedAt     time.Time
}

// WithCorrelation attaches cc to ctx.
func WithCorrelation(ctx context.Context, cc *CorrelationContext) context.Context {
	return context.WithValue(ctx, correlationKey, cc)
}

// CorrelationFromContext returns the CorrelationContext attached by
// StartRequest, if any.
func CorrelationFromContext(ctx context.Context) (*CorrelationContext, bool) {
	cc, ok := ctx.Value(correlationKey).(*CorrelationContext)
	return cc, ok
}

// StartRequest opens a span named operation under tracer, derives a
// CorrelationContext from it (the span's trace ID doubles as the
// correlation ID so downstream log lines and the OTel backend agree on
// one identifier), and attaches both a fresh LensTrace accumulator and
// the CorrelationContext to the returned context.
func StartRequest(ctx context.Context, tracer trace.Tracer, operation string) (context.Context, *CorrelationContext, trace.Span) {
	ctx, span := tracer.Start(ctx, operation)

	cc := &CorrelationContext{
		CorrelationID: span.SpanContext().TraceID().String(),
		TraceID:       span.SpanContext().TraceID().String(),
		StartedAt:     time.Now(),
	}
	ctx = WithCorrelation(ctx, cc)
	ctx = withTrace(ctx, newLensTrace(operation))
	return ctx, cc, span
}
