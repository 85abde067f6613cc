package requestid

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Header carries the request id in and out of the API server.
const Header = "X-Request-Id"

type contextKey struct{}

// Generate returns a new random request id.
func Generate() string {
	return uuid.New().String()
}

func ToContext(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKey{}, requestID)
}

// FromContext returns the request id stored in ctx or "".
func FromContext(ctx context.Context) string {
	requestID, _ := ctx.Value(contextKey{}).(string)
	return requestID
}

// FromContextPtr is FromContext for optional columns: nil when ctx has no id.
func FromContextPtr(ctx context.Context) *string {
	if requestID := FromContext(ctx); requestID != "" {
		return &requestID
	}
	return nil
}

func FromRequest(r *http.Request) string {
	return FromContext(r.Context())
}
