package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/handsfree"

type utteranceKey struct{}

// Tracer returns the handsfree tracer from the global [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span. The caller must call span.End().
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// WithUtterance returns a context tagged with the ID of the utterance being
// processed. [Logger] includes it in every record.
func WithUtterance(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, utteranceKey{}, id)
}

// UtteranceID returns the utterance ID stored by [WithUtterance], or "".
func UtteranceID(ctx context.Context) string {
	id, _ := ctx.Value(utteranceKey{}).(string)
	return id
}

// CorrelationID returns the trace ID of the active span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default [slog.Logger] enriched with trace_id, span_id and
// utterance_id when ctx carries them.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id := UtteranceID(ctx); id != "" {
		l = l.With(slog.String("utterance_id", id))
	}
	return l
}
