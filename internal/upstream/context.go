package upstream

import "context"

type requestIDKey struct{}

// ContextWithRequestID attaches the inbound correlation id; the transport
// forwards it as x-request-id.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the correlation id, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
