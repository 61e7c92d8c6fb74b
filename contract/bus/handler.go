package bus

import (
	"context"

	"github.com/next-trace/scg-api-bus/contract/envelope"
)

// Handler turns a request envelope into a response envelope. It never returns an error:
// every failure is already encoded in the response status.
// Implementations must be safe for concurrent use by multiple goroutines.
type Handler interface {
	Handle(ctx context.Context, req envelope.Request) envelope.Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req envelope.Request) envelope.Response

func (f HandlerFunc) Handle(ctx context.Context, req envelope.Request) envelope.Response {
	return f(ctx, req)
}
