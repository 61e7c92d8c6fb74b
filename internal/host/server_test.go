package host_test

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"

	"github.com/next-trace/scg-api-bus/adapters/inmemory"
	"github.com/next-trace/scg-api-bus/catalog"
	"github.com/next-trace/scg-api-bus/catalogclient"
	"github.com/next-trace/scg-api-bus/config"
	"github.com/next-trace/scg-api-bus/contract/envelope"
	"github.com/next-trace/scg-api-bus/internal/host"
	"github.com/next-trace/scg-api-bus/memory"
	"github.com/next-trace/scg-api-bus/metrics"
)

func cfgFor(service string) config.Config {
	cfg := config.Default()
	cfg.Service = service

	return cfg
}

func stores() host.Stores {
	return host.Stores{Orders: memory.NewOrders(), Catalog: memory.NewCatalog(), Users: memory.NewUsers(), Dedup: memory.NewDedup()}
}

func TestNewServer_OrderAgainstCatalog(t *testing.T) {
	st := stores()
	st.Catalog.(*memory.Catalog).Put(catalog.Product{ID: 1, Name: "Laptop", Price: decimal.RequireFromString("999.99"), Stock: 5, IsAvailable: true})

	catalogSrv, err := host.NewServer(cfgFor("catalog"), st, host.Deps{})
	if err != nil {
		t.Fatalf("catalog server: %v", err)
	}

	inv := catalogclient.InvokerFunc(func(ctx context.Context, req envelope.Request) (envelope.Response, error) {
		return catalogSrv.Handle(ctx, req), nil
	})

	side := inmemory.New()
	rec := metrics.New()

	orderSrv, err := host.NewServer(cfgFor("order"), st, host.Deps{Products: catalogclient.New(inv), SideEffects: side, Recorder: rec})
	if err != nil {
		t.Fatalf("order server: %v", err)
	}

	resp := orderSrv.Handle(t.Context(), envelope.Request{
		Method: "POST", Path: "/api/orders", CorrelationID: "c-1",
		Body: json.RawMessage(`{"userId":7,"shippingAddress":"1 Main St","orderItems":[{"productId":1,"quantity":2}]}`),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create order: %+v", resp)
	}

	p, _ := st.Catalog.Product(t.Context(), 1)
	if p.Stock != 3 {
		t.Fatalf("stock=%d", p.Stock)
	}

	if evs := side.Events(); len(evs) != 1 || evs[0].Topic != "order.created" {
		t.Fatalf("events=%+v", evs)
	}

	dup := orderSrv.Handle(t.Context(), envelope.Request{
		Method: "POST", Path: "/api/orders", CorrelationID: "c-1",
		Body: json.RawMessage(`{"userId":7,"shippingAddress":"1 Main St","orderItems":[{"productId":1,"quantity":2}]}`),
	})
	if dup.StatusCode != http.StatusConflict {
		t.Fatalf("redelivery must be rejected: %+v", dup)
	}
}

func TestNewServer_AuthAndPublicRoutes(t *testing.T) {
	cfg := cfgFor("catalog")
	cfg.Auth = config.Auth{
		Tokens: map[string]config.Principal{"s3cret": {Subject: "gateway", Role: "Admin"}},
		Public: []string{"GET /api/products"},
	}

	srv, err := host.NewServer(cfg, stores(), host.Deps{})
	if err != nil {
		t.Fatalf("server: %v", err)
	}

	if resp := srv.Handle(t.Context(), envelope.Request{Method: "GET", Path: "/api/products", CorrelationID: "c-1"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("public route: %+v", resp)
	}

	if resp := srv.Handle(t.Context(), envelope.Request{Method: "GET", Path: "/api/products/1", CorrelationID: "c-2"}); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("protected route without token: %+v", resp)
	}

	resp := srv.Handle(t.Context(), envelope.Request{
		Method: "GET", Path: "/api/products/1", CorrelationID: "c-3",
		Headers: map[string]string{envelope.HeaderAuthorization: "Bearer s3cret"},
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("authorized request should reach the handler: %+v", resp)
	}
}

func TestNewServer_RateLimit(t *testing.T) {
	cfg := cfgFor("identity")
	cfg.Limit = config.RateLimit{RPS: 0.001, Burst: 1}

	srv, err := host.NewServer(cfg, stores(), host.Deps{})
	if err != nil {
		t.Fatalf("server: %v", err)
	}

	srv.Handle(t.Context(), envelope.Request{Method: "GET", Path: "/api/users", CorrelationID: "c-1"})

	if resp := srv.Handle(t.Context(), envelope.Request{Method: "GET", Path: "/api/users", CorrelationID: "c-2"}); resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("want 429, got %+v", resp)
	}
}

func TestNewServer_MissingCollaborators(t *testing.T) {
	if _, err := host.NewServer(cfgFor("order"), stores(), host.Deps{}); err == nil {
		t.Fatalf("order without catalog client must fail")
	}

	if _, err := host.NewServer(cfgFor("billing"), stores(), host.Deps{}); err == nil {
		t.Fatalf("unknown service must fail")
	}
}

func TestNew_ValidatesConfig(t *testing.T) {
	if _, err := host.New(config.Default(), nil); err == nil {
		t.Fatalf("config without service must be rejected")
	}

	if _, err := host.New(cfgFor("catalog"), nil); err != nil {
		t.Fatalf("new: %v", err)
	}
}

// brokerChannel records what is published on the service channel.
type brokerChannel struct {
	mu   sync.Mutex
	msgs []struct {
		key string
		msg amqp.Publishing
	}
}

func (*brokerChannel) Qos(int, int, bool) error { return nil }

func (*brokerChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	return amqp.Queue{Name: name}, nil
}

func (*brokerChannel) ConsumeWithContext(context.Context, string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return make(chan amqp.Delivery), nil
}

func (b *brokerChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.msgs = append(b.msgs, struct {
		key string
		msg amqp.Publishing
	}{key, msg})

	return nil
}

func TestNewServer_StockRetryGoesToCatalogQueue(t *testing.T) {
	st := stores()
	st.Catalog.(*memory.Catalog).Put(catalog.Product{ID: 7, Name: "Desk", Price: decimal.RequireFromString("150"), Stock: 4, IsAvailable: true})

	catalogSrv, err := host.NewServer(cfgFor("catalog"), st, host.Deps{})
	if err != nil {
		t.Fatalf("catalog server: %v", err)
	}

	// Lookups succeed, every stock adjustment fails.
	inv := catalogclient.InvokerFunc(func(ctx context.Context, req envelope.Request) (envelope.Response, error) {
		if req.Method == http.MethodPatch {
			return envelope.Failure(req.CorrelationID, http.StatusInternalServerError, "Internal server error"), nil
		}

		return catalogSrv.Handle(ctx, req), nil
	})

	events := inmemory.New()
	ch := &brokerChannel{}

	orderSrv, err := host.NewServer(cfgFor("order"), st, host.Deps{
		Products:     catalogclient.New(inv),
		SideEffects:  events,
		StockRetry:   host.StockRetry(ch),
		RetryReplyTo: "amq.gen-order-replies",
	})
	if err != nil {
		t.Fatalf("order server: %v", err)
	}

	resp := orderSrv.Handle(t.Context(), envelope.Request{
		Method: "POST", Path: "/api/orders", CorrelationID: "c-7",
		Body: json.RawMessage(`{"userId":2,"orderItems":[{"productId":7,"quantity":3}]}`),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create order: %+v", resp)
	}

	if jobs := events.Jobs(); len(jobs) != 0 {
		t.Fatalf("retry went to the event transport: %+v", jobs)
	}

	if evs := events.Events(); len(evs) != 1 {
		t.Fatalf("events=%+v", evs)
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if len(ch.msgs) != 1 {
		t.Fatalf("broker messages=%d", len(ch.msgs))
	}

	m := ch.msgs[0]
	if m.key != "api.catalog.request" || m.msg.ReplyTo != "amq.gen-order-replies" {
		t.Fatalf("retry routed to %q reply_to=%q", m.key, m.msg.ReplyTo)
	}

	var cmd envelope.Request
	if err := json.Unmarshal(m.msg.Body, &cmd); err != nil || cmd.Method != http.MethodPatch || cmd.Path != "/api/products/7/stock" || string(cmd.Body) != "-3" {
		t.Fatalf("retry command=%+v err=%v", cmd, err)
	}

	if p, _ := st.Catalog.Product(t.Context(), 7); p.Stock != 4 {
		t.Fatalf("stock=%d", p.Stock)
	}
}
