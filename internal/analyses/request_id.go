package analyses

import "context"

type requestIDKey struct{}

// WithRequestID tags ctx so service and worker logs can be joined to the
// originating HTTP request or queue message.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the id set by WithRequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// detached keeps the request id but drops the caller's deadline so inline
// jobs outlive the POST that started them.
func detached(ctx context.Context) context.Context {
	return WithRequestID(context.Background(), RequestIDFromContext(ctx))
}
