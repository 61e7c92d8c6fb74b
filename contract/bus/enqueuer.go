package bus

import "context"

// JobEnqueuer hands a request envelope to a service queue without waiting for its reply.
// It is used for retries that must outlive the current request.
type JobEnqueuer interface {
	EnqueueCommand(ctx context.Context, cmd Command, opts QueueOptions) error
}
