package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Service starts spans on the globally registered tracer provider. Without a
// provider installed the spans are no-ops.
type Service struct {
	tracer trace.Tracer
}

func NewService(instrumentationName string) *Service {
	return &Service{tracer: otel.Tracer(instrumentationName)}
}

// NewServiceWithProvider uses tp instead of the global provider.
func NewServiceWithProvider(tp trace.TracerProvider, instrumentationName string) *Service {
	return &Service{tracer: tp.Tracer(instrumentationName)}
}

func (s *Service) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, opts...)
}

// RecordError marks span as failed. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// TraceID returns the trace id of the span in ctx, or "".
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// ContextWithTraceparent returns ctx carrying a remote span context parsed from
// a W3C traceparent value, so spans started from it join the caller's trace.
// Invalid values leave ctx unchanged.
func ContextWithTraceparent(ctx context.Context, traceparent string) context.Context {
	parts := splitTraceparent(traceparent)
	if parts == nil {
		return ctx
	}
	traceID, err := trace.TraceIDFromHex(parts[1])
	if err != nil {
		return ctx
	}
	spanID, err := trace.SpanIDFromHex(parts[2])
	if err != nil {
		return ctx
	}
	var flags trace.TraceFlags
	if parts[3] == "01" {
		flags = trace.FlagsSampled
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	})
	return trace.ContextWithRemoteSpanContext(ctx, sc)
}

func splitTraceparent(tp string) []string {
	if len(tp) != 55 || tp[:3] != "00-" || tp[35] != '-' || tp[52] != '-' {
		return nil
	}
	return []string{tp[:2], tp[3:35], tp[36:52], tp[53:]}
}
