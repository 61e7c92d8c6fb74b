package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/next-trace/scg-api-bus/contract/envelope"
	berr "github.com/next-trace/scg-api-bus/contract/errors"
)

// Caller sends request envelopes to service queues and waits for the correlated response
// on a private, exclusive reply queue.
type Caller struct {
	ch     Channel
	replyQ string
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]chan envelope.Response
	done    chan struct{}
}

// NewCaller declares the private reply queue and starts routing responses. The caller stops
// when ctx is cancelled or the channel closes; pending and later calls then fail with
// ErrConnectionLost.
func NewCaller(ctx context.Context, ch Channel, logger *slog.Logger) (*Caller, error) {
	if logger == nil {
		logger = slog.Default()
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq declare reply queue: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, q.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq consume %s: %w", q.Name, err)
	}

	c := &Caller{
		ch:      ch,
		replyQ:  q.Name,
		logger:  logger,
		pending: make(map[string]chan envelope.Response),
		done:    make(chan struct{}),
	}

	go c.route(deliveries)

	return c, nil
}

// ReplyQueue returns the private reply queue name.
func (c *Caller) ReplyQueue() string { return c.replyQ }

func (c *Caller) route(deliveries <-chan amqp.Delivery) {
	defer close(c.done)

	for d := range deliveries {
		var resp envelope.Response
		if err := json.Unmarshal(d.Body, &resp); err != nil {
			c.logger.Warn("undecodable response dropped", "correlation_id", d.CorrelationId, "err", err)
			continue
		}

		corr := d.CorrelationId
		if corr == "" {
			corr = resp.CorrelationID
		}

		c.mu.Lock()
		wait, ok := c.pending[corr]
		delete(c.pending, corr)
		c.mu.Unlock()

		if !ok {
			// Late replies and answers to deferred requests sent with this reply queue.
			if resp.OK() {
				c.logger.Debug("uncorrelated response dropped", "correlation_id", corr, "status", resp.StatusCode)
			} else {
				c.logger.Warn("uncorrelated error response", "correlation_id", corr, "status", resp.StatusCode, "message", resp.Message())
			}

			continue
		}

		wait <- resp
	}
}

// Call publishes req to queue and waits for its response or ctx. A missing correlation id
// is generated. Context errors are returned as is.
func (c *Caller) Call(ctx context.Context, queue string, req envelope.Request) (envelope.Response, error) {
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return envelope.Response{}, fmt.Errorf("rabbitmq call serialize: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	wait := make(chan envelope.Response, 1)

	c.mu.Lock()
	c.pending[req.CorrelationID] = wait
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.CorrelationID)
		c.mu.Unlock()
	}()

	select {
	case <-c.done:
		return envelope.Response{}, fmt.Errorf("rabbitmq call %s: %w", queue, berr.ErrConnectionLost)
	default:
	}

	err = ChannelPublisher{Ch: c.ch}.Publish(ctx, PubMsg{
		RoutingKey:    queue,
		Body:          body,
		CorrelationID: req.CorrelationID,
		ReplyTo:       c.replyQ,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return envelope.Response{}, err
		}

		return envelope.Response{}, fmt.Errorf("rabbitmq call %s publish: %w", queue, errors.Join(berr.ErrPublishFailed, err))
	}

	select {
	case resp := <-wait:
		return resp, nil
	case <-ctx.Done():
		return envelope.Response{}, ctx.Err()
	case <-c.done:
		return envelope.Response{}, fmt.Errorf("rabbitmq call %s: %w", queue, berr.ErrConnectionLost)
	}
}

// To binds the caller to one target queue.
func (c *Caller) To(queue string) *Target { return &Target{c: c, queue: queue} }

// Target is a Caller bound to one service request queue.
type Target struct {
	c     *Caller
	queue string
}

// Call sends req to the bound queue.
func (t *Target) Call(ctx context.Context, req envelope.Request) (envelope.Response, error) {
	return t.c.Call(ctx, t.queue, req)
}
