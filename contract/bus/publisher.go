package bus

import "context"

// EventPublisher abstracts publishing integration events to a broker.
// Implementations map to RabbitMQ, NATS or Kafka.
type EventPublisher interface {
	PublishIntegration(ctx context.Context, evt IntegrationEvent, opts PublishOptions) error
}
