package bus

import "context"

// HeaderCorrelationID is the message header carrying the originating correlation id.
const HeaderCorrelationID = "x-correlation-id"

// HeaderPropagator abstracts injecting request context into outgoing message headers.
// Implementations must be safe for concurrent use.
type HeaderPropagator interface {
	Inject(ctx context.Context, headers map[string]string)
}

// NopHeaderPropagator is a no-op implementation useful for tests.
type NopHeaderPropagator struct{}

func (NopHeaderPropagator) Inject(context.Context, map[string]string) {}

type correlationKey struct{}

// WithCorrelationID stores the correlation id of the request being handled.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the correlation id stored in ctx, if any.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// CorrelationPropagator copies the correlation id from ctx into message headers.
type CorrelationPropagator struct{}

func (CorrelationPropagator) Inject(ctx context.Context, headers map[string]string) {
	if id := CorrelationID(ctx); id != "" {
		headers[HeaderCorrelationID] = id
	}
}
