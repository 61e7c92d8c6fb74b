package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	cbus "github.com/next-trace/scg-api-bus/contract/bus"
	"github.com/next-trace/scg-api-bus/contract/envelope"
	berr "github.com/next-trace/scg-api-bus/contract/errors"
)

// Delivery outcomes reported to a DeliveryObserver.
const (
	OutcomeAcked        = "acked"
	OutcomeRequeued     = "requeued"
	OutcomeDeadLettered = "dead_lettered"
)

// DeliveryObserver is notified of every settled delivery.
type DeliveryObserver interface {
	ObserveDelivery(queue, outcome string)
}

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	// Service names the request queue api.<Service>.request.
	Service string
	// Prefetch bounds unacknowledged deliveries and equals the worker count. Defaults to 1.
	Prefetch int
	// ReplyQueue receives responses for deliveries without reply-to. Defaults to DefaultReplyQueue.
	ReplyQueue string
	// ConsumerTag identifies this consumer to the broker; empty lets the broker choose.
	ConsumerTag string
	Fault       FaultPolicy
}

// Consumer serves a service request queue.
type Consumer struct {
	ch       Channel
	handler  cbus.Handler
	cfg      ConsumerConfig
	queue    string
	logger   *slog.Logger
	observer DeliveryObserver
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerLogger sets the logger. A nil logger falls back to slog.Default.
func WithConsumerLogger(l *slog.Logger) ConsumerOption { return func(c *Consumer) { c.logger = l } }

// WithDeliveryObserver installs a settlement observer such as metrics.Recorder.
func WithDeliveryObserver(o DeliveryObserver) ConsumerOption {
	return func(c *Consumer) { c.observer = o }
}

// NewConsumer constructs a Consumer on ch dispatching to h.
func NewConsumer(ch Channel, h cbus.Handler, cfg ConsumerConfig, opts ...ConsumerOption) *Consumer {
	if cfg.Prefetch < 1 {
		cfg.Prefetch = 1
	}

	if cfg.ReplyQueue == "" {
		cfg.ReplyQueue = DefaultReplyQueue
	}

	if cfg.Fault.Mode == "" {
		cfg.Fault.Mode = FaultAck
	}

	c := &Consumer{ch: ch, handler: h, cfg: cfg, queue: RequestQueue(cfg.Service)}
	for _, o := range opts {
		o(c)
	}

	if c.logger == nil {
		c.logger = slog.Default()
	}

	c.logger = c.logger.With("service", cfg.Service, "queue", c.queue)

	return c
}

// Queue returns the request queue name.
func (c *Consumer) Queue() string { return c.queue }

// Setup declares the request and default reply queues and applies the prefetch window.
func (c *Consumer) Setup() error {
	if _, err := declareRequestQueue(c.ch, c.cfg.Service, c.cfg.Fault); err != nil {
		return err
	}

	if _, err := c.ch.QueueDeclare(c.cfg.ReplyQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq declare %s: %w", c.cfg.ReplyQueue, err)
	}

	if err := c.ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("rabbitmq qos: %w", err)
	}

	return nil
}

// Run sets up the topology and consumes until ctx is cancelled or the broker closes the
// delivery stream. Deliveries already taken are always processed to completion, including
// the reply and acknowledgement, even after ctx is cancelled. A closed stream while ctx is
// live returns ErrConnectionLost.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.Setup(); err != nil {
		return err
	}

	deliveries, err := c.ch.ConsumeWithContext(ctx, c.queue, c.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq consume %s: %w", c.queue, err)
	}

	c.logger.Info("consumer started", "workers", c.cfg.Prefetch, "fault_mode", c.cfg.Fault.Mode)

	work := context.WithoutCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	for range c.cfg.Prefetch {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case d, ok := <-deliveries:
					if !ok {
						if ctx.Err() != nil {
							return nil
						}

						return fmt.Errorf("rabbitmq consume %s: %w", c.queue, berr.ErrConnectionLost)
					}

					c.process(work, d)
				}
			}
		})
	}

	err = g.Wait()
	c.logger.Info("consumer stopped", "err", err)

	return err
}

func (c *Consumer) process(ctx context.Context, d amqp.Delivery) {
	resp := c.dispatch(ctx, d)

	if c.cfg.Fault.deadLetter() && resp.StatusCode >= http.StatusInternalServerError && c.attempt(d) < c.cfg.Fault.maxAttempts() {
		c.settle(d, OutcomeRequeued, func() error { return d.Nack(false, true) })
		return
	}

	if err := c.reply(ctx, d, resp); err != nil {
		c.logger.Error("reply publish failed", "correlation_id", resp.CorrelationID, "err", err)
	}

	if c.cfg.Fault.deadLetter() && resp.StatusCode >= http.StatusInternalServerError {
		c.settle(d, OutcomeDeadLettered, func() error { return d.Reject(false) })
		return
	}

	c.settle(d, OutcomeAcked, func() error { return d.Ack(false) })
}

// dispatch decodes the envelope and runs the handler. A panicking handler is downgraded
// to a 500 response.
func (c *Consumer) dispatch(ctx context.Context, d amqp.Delivery) (resp envelope.Response) {
	var req envelope.Request
	if err := json.Unmarshal(d.Body, &req); err != nil {
		return envelope.FromError(d.CorrelationId, berr.Newf(berr.ErrProtocol, "Invalid request format"))
	}

	if req.CorrelationID == "" {
		req.CorrelationID = d.CorrelationId
	}

	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("handler panic", "correlation_id", req.CorrelationID, "panic", p)
			resp = envelope.Failure(req.CorrelationID, http.StatusInternalServerError, berr.Message(berr.ErrInternal))
		}
	}()

	return c.handler.Handle(ctx, req)
}

func (c *Consumer) reply(ctx context.Context, d amqp.Delivery, resp envelope.Response) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("rabbitmq reply serialize: %w", berr.ErrSerializationFailed)
	}

	to := d.ReplyTo
	if to == "" {
		to = c.cfg.ReplyQueue
	}

	corr := d.CorrelationId
	if corr == "" {
		corr = resp.CorrelationID
	}

	return ChannelPublisher{Ch: c.ch}.Publish(ctx, PubMsg{
		RoutingKey:    to,
		Body:          body,
		CorrelationID: corr,
	})
}

func (c *Consumer) settle(d amqp.Delivery, outcome string, op func() error) {
	if err := op(); err != nil {
		c.logger.Error("delivery settle failed", "outcome", outcome, "delivery_tag", d.DeliveryTag, "err", err)
		return
	}

	if c.observer != nil {
		c.observer.ObserveDelivery(c.queue, outcome)
	}
}

// attempt returns the 1-based attempt number of d. Quorum queues report prior deliveries in
// x-delivery-count; without it a redelivered message is treated as the final attempt.
func (c *Consumer) attempt(d amqp.Delivery) int {
	switch n := d.Headers["x-delivery-count"].(type) {
	case int64:
		return int(n) + 1
	case int32:
		return int(n) + 1
	case int:
		return n + 1
	}

	if d.Redelivered {
		return c.cfg.Fault.maxAttempts()
	}

	return 1
}
