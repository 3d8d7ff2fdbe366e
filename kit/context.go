package kit

import (
	"context"

	"github.com/hazyhaar/docpipeline/idgen"
)

type ctxKey int

const (
	userIDKey ctxKey = iota
	transportKey
	requestIDKey
)

// RequestIDs generates the ids EnsureRequestID assigns.
var RequestIDs idgen.Generator = idgen.Prefixed("req_", idgen.UUIDv7())

// WithUserID records the caller on whose behalf documents are processed.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}

// WithTransport records the surface a request arrived on: "cli", "spool"
// or "mcp".
func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, transportKey, t)
}

// GetTransport defaults to "cli".
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(transportKey).(string); ok && v != "" {
		return v
	}
	return "cli"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// EnsureRequestID keeps an existing request id or assigns a new one.
func EnsureRequestID(ctx context.Context) context.Context {
	if GetRequestID(ctx) != "" {
		return ctx
	}
	return WithRequestID(ctx, RequestIDs())
}
