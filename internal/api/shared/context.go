package shared

import (
	"context"
	"encoding/hex"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

type ContextKey string

// TraceIDKey holds the request's trace ID in its context.
const TraceIDKey ContextKey = "traceID"

// TraceIDHeader echoes the trace ID on every response.
const TraceIDHeader = "X-Trace-Id"

// SetTraceID stores a trace ID in ctx. When an OpenTelemetry span is active
// its trace ID is used, so log lines and exported spans correlate;
// otherwise a random 32-character hex ID is minted.
func SetTraceID(ctx context.Context) context.Context {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return context.WithValue(ctx, TraceIDKey, sc.TraceID().String())
	}
	return context.WithValue(ctx, TraceIDKey, newTraceID())
}

// GetTraceID returns the trace ID stored by SetTraceID, or "".
func GetTraceID(ctx context.Context) string {
	id, _ := ctx.Value(TraceIDKey).(string)
	return id
}

func newTraceID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
