package kafka_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/next-trace/scg-api-bus/adapters/kafka"
	cbus "github.com/next-trace/scg-api-bus/contract/bus"
	berr "github.com/next-trace/scg-api-bus/contract/errors"
)

type written struct {
	topic   string
	key     []byte
	value   []byte
	headers map[string]string
}

type fakeWriter struct {
	calls []written
	err   error
}

func (f *fakeWriter) Write(_ context.Context, topic string, key, value []byte, headers map[string]string) error {
	f.calls = append(f.calls, written{topic, key, value, headers})
	return f.err
}

type statusUpdated struct {
	OrderID int64  `json:"orderId"`
	Status  string `json:"status"`
}

func (statusUpdated) Topic() string { return "order.status.updated" }

func TestKafka_EnqueueCommandKeyedByDedupKey(t *testing.T) {
	fw := &fakeWriter{}
	ad := kafka.New(fw)

	cmd := cbus.Command{Method: "PATCH", Path: "/api/products/7/stock", Body: json.RawMessage(`-1`), IdempotencyKey: "order-2-product-7"}

	if err := ad.EnqueueCommand(t.Context(), cmd, cbus.QueueOptions{Queue: "api.catalog.request", Headers: map[string]string{"h": "1"}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	c := fw.calls[0]
	if c.topic != "jobs.api.catalog.request" || string(c.key) != "order-2-product-7" || c.headers["h"] != "1" {
		t.Fatalf("record=%+v", c)
	}

	if err := ad.EnqueueCommand(t.Context(), cmd, cbus.QueueOptions{}); !errors.Is(err, berr.ErrEnqueueFailed) {
		t.Fatalf("missing queue: %v", err)
	}
}

func TestKafka_PublishIntegration(t *testing.T) {
	fw := &fakeWriter{}
	ad := kafka.New(fw)

	ctx := cbus.WithCorrelationID(t.Context(), "c-5")

	if err := ad.PublishIntegration(ctx, statusUpdated{OrderID: 5, Status: "Shipped"}, cbus.PublishOptions{Key: "5"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if err := ad.PublishIntegration(t.Context(), statusUpdated{}, cbus.PublishOptions{TopicOverride: "audit"}); err != nil {
		t.Fatalf("publish override: %v", err)
	}

	p := fw.calls[0]
	if p.topic != "order.status.updated" || string(p.key) != "5" || p.headers[cbus.HeaderCorrelationID] != "c-5" {
		t.Fatalf("record=%+v", p)
	}

	if string(p.value) != `{"orderId":5,"status":"Shipped"}` {
		t.Fatalf("value=%s", p.value)
	}

	if fw.calls[1].topic != "audit" || fw.calls[1].key != nil {
		t.Fatalf("override=%+v", fw.calls[1])
	}
}

func TestKafka_Errors(t *testing.T) {
	if err := kafka.New(nil).PublishIntegration(t.Context(), statusUpdated{}, cbus.PublishOptions{}); !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("nil writer: %v", err)
	}

	ad := kafka.New(&fakeWriter{err: errors.New("broker down")})
	if err := ad.PublishIntegration(t.Context(), statusUpdated{}, cbus.PublishOptions{}); !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("wrap: %v", err)
	}

	ad = kafka.New(&fakeWriter{err: context.DeadlineExceeded})

	err := ad.EnqueueCommand(t.Context(), cbus.Command{}, cbus.QueueOptions{Queue: "q"})
	if !errors.Is(err, context.DeadlineExceeded) || errors.Is(err, berr.ErrEnqueueFailed) {
		t.Fatalf("want bare deadline, got %v", err)
	}
}

func TestNewWithKgo_RequiresBrokers(t *testing.T) {
	if _, _, err := kafka.NewWithKgo(kafka.Config{}); !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("err=%v", err)
	}
}
