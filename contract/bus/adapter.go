package bus

// Adapter is a convenience interface that combines deferred-request and publishing capabilities.
// Any transport that implements both JobEnqueuer and EventPublisher can back the order
// orchestrator's side effects.
type Adapter interface {
	JobEnqueuer
	EventPublisher
}
