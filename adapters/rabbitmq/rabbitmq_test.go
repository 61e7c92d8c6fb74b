package rabbitmq_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/next-trace/scg-api-bus/adapters/rabbitmq"
	cbus "github.com/next-trace/scg-api-bus/contract/bus"
	"github.com/next-trace/scg-api-bus/contract/envelope"
	berr "github.com/next-trace/scg-api-bus/contract/errors"
)

type fakePublisher struct {
	calls []rabbitmq.PubMsg
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, m rabbitmq.PubMsg) error {
	f.calls = append(f.calls, m)
	return f.err
}

type integ struct{ T string }

func (integ) Topic() string { return "order.created" }

func TestRabbitMQ_EnqueueCommand_And_PublishIntegration(t *testing.T) {
	fp := &fakePublisher{}
	ad := rabbitmq.New(fp)

	cmd := envelope.Request{Method: "PATCH", Path: "/api/products/7/stock", CorrelationID: "c-9", IdempotencyKey: "order-1-product-7"}
	qo := cbus.QueueOptions{Queue: "api.catalog.request", ReplyTo: "amq.gen-order", Headers: map[string]string{"h": "x"}}

	if err := ad.EnqueueCommand(t.Context(), cmd, qo); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if len(fp.calls) != 1 {
		t.Fatalf("want 1, got %d", len(fp.calls))
	}

	c := fp.calls[0]
	if c.Exchange != "" || c.RoutingKey != "api.catalog.request" || c.CorrelationID != "c-9" || c.ReplyTo != "amq.gen-order" {
		t.Fatalf("routing: %q %q corr=%q reply=%q", c.Exchange, c.RoutingKey, c.CorrelationID, c.ReplyTo)
	}

	var got envelope.Request
	if err := json.Unmarshal(c.Body, &got); err != nil || got.IdempotencyKey != "order-1-product-7" {
		t.Fatalf("body=%s err=%v", c.Body, err)
	}

	if c.Headers["h"] != "x" {
		t.Fatalf("headers: %+v", c.Headers)
	}

	po := cbus.PublishOptions{TopicOverride: "order.created.v2", Key: "rk", Headers: map[string]string{"ph": "pv"}}
	if err := ad.PublishIntegration(t.Context(), integ{T: "t"}, po); err != nil {
		t.Fatalf("publish: %v", err)
	}

	p := fp.calls[1]
	if p.Exchange != rabbitmq.IntegrationExchange || p.RoutingKey != "order.created.v2" {
		t.Fatalf("routing: %q %q", p.Exchange, p.RoutingKey)
	}

	if p.Headers["ph"] != "pv" || p.Headers["key"] != "rk" {
		t.Fatalf("pub headers: %+v", p.Headers)
	}

	if err := ad.PublishIntegration(t.Context(), integ{}, cbus.PublishOptions{}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if fp.calls[2].RoutingKey != "order.created" {
		t.Fatalf("default routing key %q", fp.calls[2].RoutingKey)
	}
}

func TestRabbitMQ_EnqueueRequiresQueue(t *testing.T) {
	ad := rabbitmq.New(&fakePublisher{})

	err := ad.EnqueueCommand(t.Context(), envelope.Request{}, cbus.QueueOptions{})
	if !errors.Is(err, berr.ErrEnqueueFailed) {
		t.Fatalf("want ErrEnqueueFailed, got %v", err)
	}
}

func TestRabbitMQ_NilPublisherError(t *testing.T) {
	ad := rabbitmq.New(nil)

	if err := ad.EnqueueCommand(t.Context(), envelope.Request{}, cbus.QueueOptions{Queue: "q"}); !errors.Is(err, berr.ErrEnqueueFailed) {
		t.Fatalf("enqueue: %v", err)
	}

	if err := ad.PublishIntegration(t.Context(), integ{}, cbus.PublishOptions{}); !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("publish: %v", err)
	}
}

func TestRabbitMQ_Publish_ErrorWrapping_And_ContextCancel(t *testing.T) {
	boom := errors.New("boom")
	ad := rabbitmq.New(&fakePublisher{err: boom})

	err := ad.EnqueueCommand(t.Context(), envelope.Request{}, cbus.QueueOptions{Queue: "q"})
	if !errors.Is(err, berr.ErrEnqueueFailed) || !errors.Is(err, boom) {
		t.Fatalf("want wrapped error, got %v", err)
	}

	ad2 := rabbitmq.New(&fakePublisher{err: context.Canceled})

	err = ad2.PublishIntegration(t.Context(), integ{}, cbus.PublishOptions{})
	if !errors.Is(err, context.Canceled) || errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want bare context.Canceled, got %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	if err := ad.PublishIntegration(ctx, integ{}, cbus.PublishOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled ctx: %v", err)
	}
}

func TestRabbitMQ_PropagatorInjectsCorrelation(t *testing.T) {
	fp := &fakePublisher{}
	ad := rabbitmq.NewWithPropagator(fp, cbus.CorrelationPropagator{})

	caller := map[string]string{"a": "b"}
	ctx := cbus.WithCorrelationID(t.Context(), "c-77")

	if err := ad.PublishIntegration(ctx, integ{}, cbus.PublishOptions{Headers: caller}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if fp.calls[0].Headers[cbus.HeaderCorrelationID] != "c-77" {
		t.Fatalf("headers=%v", fp.calls[0].Headers)
	}

	if _, leaked := caller[cbus.HeaderCorrelationID]; leaked {
		t.Fatalf("caller headers mutated: %v", caller)
	}
}

func TestChannelPublisher_PersistentJSON(t *testing.T) {
	ch := newFakeChannel()
	ad := rabbitmq.New(rabbitmq.ChannelPublisher{Ch: ch})

	if err := ad.PublishIntegration(t.Context(), integ{}, cbus.PublishOptions{Key: "k"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	p := ch.publishes()[0]
	if p.exchange != rabbitmq.IntegrationExchange || p.key != "order.created" {
		t.Fatalf("routed to %q/%q", p.exchange, p.key)
	}

	if p.msg.DeliveryMode != amqp.Persistent || p.msg.ContentType != "application/json" || p.msg.Headers["key"] != "k" {
		t.Fatalf("publishing=%+v", p.msg)
	}
}
