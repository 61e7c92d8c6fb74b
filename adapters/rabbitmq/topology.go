package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultReplyQueue receives responses for requests that carry no reply-to.
const DefaultReplyQueue = "api.gateway.response"

// RequestQueue is the durable request queue of a service.
func RequestQueue(service string) string { return "api." + service + ".request" }

// DeadLetterQueue holds requests rejected after exhausting their attempts.
func DeadLetterQueue(service string) string { return RequestQueue(service) + ".dlq" }

// Channel is the subset of *amqp.Channel used by Consumer and Caller.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	ConsumeWithContext(
		ctx context.Context,
		queue, consumer string,
		autoAck, exclusive, noLocal, noWait bool,
		args amqp.Table,
	) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

var _ Channel = (*amqp.Channel)(nil)

// FaultMode selects how deliveries whose handling ended in a 5xx are settled.
type FaultMode string

const (
	// FaultAck replies and acknowledges every delivery; broker redelivery is never used.
	FaultAck FaultMode = "ack"
	// FaultDeadLetter requeues failed deliveries until MaxAttempts, then replies and
	// rejects them into the service dead-letter queue.
	FaultDeadLetter FaultMode = "dead-letter"
)

// FaultPolicy configures fault settlement.
type FaultPolicy struct {
	Mode        FaultMode
	MaxAttempts int
}

func (p FaultPolicy) deadLetter() bool { return p.Mode == FaultDeadLetter }

func (p FaultPolicy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return 3
	}

	return p.MaxAttempts
}

// declareRequestQueue declares the service request queue and, under the dead-letter
// policy, its dead-letter queue. Dead-lettering uses a quorum queue so the broker tracks
// delivery attempts in the x-delivery-count header.
func declareRequestQueue(ch Channel, service string, p FaultPolicy) (string, error) {
	name := RequestQueue(service)

	var args amqp.Table

	if p.deadLetter() {
		dlq := DeadLetterQueue(service)
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return "", fmt.Errorf("rabbitmq declare %s: %w", dlq, err)
		}

		args = amqp.Table{
			"x-queue-type":              "quorum",
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlq,
		}
	}

	if _, err := ch.QueueDeclare(name, true, false, false, false, args); err != nil {
		return "", fmt.Errorf("rabbitmq declare %s: %w", name, err)
	}

	return name, nil
}
