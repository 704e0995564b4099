package obs

import (
	"context"
	"sync"
)

type routePatternKey struct{}

type fieldsKey struct{}

// requestFields collects values handlers attach to the request log line.
type requestFields struct {
	mu     sync.Mutex
	values map[string]string
}

// WithRoutePattern stores the matched router pattern on the context.
func WithRoutePattern(ctx context.Context, pattern string) context.Context {
	return context.WithValue(ctx, routePatternKey{}, pattern)
}

// RoutePatternFromContext extracts the route pattern from context if present.
func RoutePatternFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(routePatternKey{}).(string); ok {
		return v
	}
	return ""
}

// WithRequestFields prepares ctx to collect Annotate calls.
func WithRequestFields(ctx context.Context) context.Context {
	if _, ok := ctx.Value(fieldsKey{}).(*requestFields); ok {
		return ctx
	}
	return context.WithValue(ctx, fieldsKey{}, &requestFields{values: map[string]string{}})
}

// Annotate attaches key=value to the request log line. It is a no-op when
// the request is not logged.
func Annotate(ctx context.Context, key, value string) {
	f, ok := ctx.Value(fieldsKey{}).(*requestFields)
	if !ok || key == "" || value == "" {
		return
	}
	f.mu.Lock()
	f.values[key] = value
	f.mu.Unlock()
}

func annotations(ctx context.Context) map[string]string {
	f, ok := ctx.Value(fieldsKey{}).(*requestFields)
	if !ok {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out
}
