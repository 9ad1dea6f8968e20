package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/sesli-ai/sesli"

// AttrConversationID is the span attribute carrying the conversation ID.
const AttrConversationID = attribute.Key("sesli.conversation.id")

type conversationKey struct{}

// WithConversation returns a copy of ctx tagged with a conversation ID. Spans
// started with [StartSpan] and loggers from [Logger] pick the ID up.
func WithConversation(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, conversationKey{}, id)
}

// ConversationID returns the ID set by [WithConversation], or "".
func ConversationID(ctx context.Context) string {
	id, _ := ctx.Value(conversationKey{}).(string)
	return id
}

// Tracer returns the sesli tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span tagged with the conversation ID found in ctx. The
// caller must end the span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if id := ConversationID(ctx); id != "" {
		opts = append(opts, trace.WithAttributes(AttrConversationID.String(id)))
	}
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the trace ID of the active span, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with the conversation ID and the active
// trace and span IDs attached, whichever are present in ctx.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := ConversationID(ctx); id != "" {
		l = l.With(slog.String("conversation_id", id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
