package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	cbus "github.com/next-trace/scg-api-bus/contract/bus"
	berr "github.com/next-trace/scg-api-bus/contract/errors"
)

// PubMsg is one outgoing AMQP message.
type PubMsg struct {
	Exchange      string
	RoutingKey    string
	Body          []byte
	Headers       map[string]string
	CorrelationID string
	ReplyTo       string
}

// Publisher publishes a message. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, m PubMsg) error
}

// Adapter enqueues deferred requests and publishes integration events.
type Adapter struct {
	Publisher  Publisher
	Propagator cbus.HeaderPropagator // optional, for context propagation into headers
}

var _ cbus.Adapter = (*Adapter)(nil)

func New(p Publisher) *Adapter { return &Adapter{Publisher: p} }

// NewWithPropagator allows configuring a HeaderPropagator for context propagation.
func NewWithPropagator(p Publisher, hp cbus.HeaderPropagator) *Adapter {
	return &Adapter{Publisher: p, Propagator: hp}
}

// EnqueueCommand publishes the request envelope to opts.Queue through the default exchange.
// No reply is awaited; the owning service answers on opts.ReplyTo, or on the default
// response queue when it is empty.
func (a *Adapter) EnqueueCommand(ctx context.Context, cmd cbus.Command, opts cbus.QueueOptions) error {
	if err := a.ready(ctx, berr.ErrEnqueueFailed, "enqueue"); err != nil {
		return err
	}

	if opts.Queue == "" {
		return fmt.Errorf("rabbitmq enqueue: queue required: %w", berr.ErrEnqueueFailed)
	}

	sa := &serializeArgs{
		routingKey:    opts.Queue,
		payload:       cmd,
		headers:       opts.Headers,
		correlationID: cmd.CorrelationID,
		replyTo:       opts.ReplyTo,
		wrap:          berr.ErrEnqueueFailed,
		label:         "enqueue",
	}

	return a.serializeAndPublish(ctx, sa)
}

// PublishIntegration publishes e to the integration topic exchange, keyed by its topic.
func (a *Adapter) PublishIntegration(ctx context.Context, e cbus.IntegrationEvent, opts cbus.PublishOptions) error {
	if err := a.ready(ctx, berr.ErrPublishFailed, "publish"); err != nil {
		return err
	}

	sa := &serializeArgs{
		exchange:   IntegrationExchange,
		routingKey: routingForEvent(e, opts),
		payload:    e,
		headers:    publishHeaders(opts),
		wrap:       berr.ErrPublishFailed,
		label:      "publish",
	}

	return a.serializeAndPublish(ctx, sa)
}

func routingForEvent(e cbus.IntegrationEvent, o cbus.PublishOptions) string {
	if o.TopicOverride != "" {
		return o.TopicOverride
	}

	return e.Topic()
}

func publishHeaders(o cbus.PublishOptions) map[string]string {
	h := make(map[string]string, len(o.Headers)+1)
	for k, v := range o.Headers {
		h[k] = v
	}

	if o.Key != "" {
		h["key"] = o.Key
	}

	return h
}

// internal helpers (serialization + publishing)

type serializeArgs struct {
	exchange      string
	routingKey    string
	payload       any
	headers       map[string]string
	correlationID string
	replyTo       string
	wrap          error
	label         string
}

func (a *Adapter) ready(ctx context.Context, base error, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Publisher == nil {
		return fmt.Errorf("rabbitmq %s: %w", label, base)
	}

	return nil
}

func (a *Adapter) serializeAndPublish(ctx context.Context, sa *serializeArgs) error {
	body, err := json.Marshal(sa.payload)
	if err != nil {
		return fmt.Errorf("rabbitmq %s serialize: %w", sa.label, errors.Join(berr.ErrSerializationFailed, err))
	}

	// copy headers to avoid mutating caller-provided map
	hdrs := make(map[string]string, len(sa.headers)+2)
	for k, v := range sa.headers {
		hdrs[k] = v
	}

	if a.Propagator != nil {
		a.Propagator.Inject(ctx, hdrs)
	}

	msg := PubMsg{
		Exchange:      sa.exchange,
		RoutingKey:    sa.routingKey,
		Body:          body,
		Headers:       hdrs,
		CorrelationID: sa.correlationID,
		ReplyTo:       sa.replyTo,
	}

	if err := a.Publisher.Publish(ctx, msg); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("rabbitmq %s publish: %w", sa.label, errors.Join(sa.wrap, err))
	}

	return nil
}

// ChannelPublisher publishes persistent JSON messages on an already open channel.
type ChannelPublisher struct{ Ch Channel }

func (p ChannelPublisher) Publish(ctx context.Context, m PubMsg) error {
	return p.Ch.PublishWithContext(ctx, m.Exchange, m.RoutingKey, false, false, publishing(m))
}

func publishing(m PubMsg) amqp.Publishing {
	var h amqp.Table
	if len(m.Headers) > 0 {
		h = amqp.Table{}
		for k, v := range m.Headers {
			h[k] = v
		}
	}

	return amqp.Publishing{
		DeliveryMode:  amqp.Persistent,
		Headers:       h,
		ContentType:   "application/json",
		CorrelationId: m.CorrelationID,
		ReplyTo:       m.ReplyTo,
		Body:          m.Body,
	}
}
