package order_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/next-trace/scg-api-bus/contract/envelope"
	"github.com/next-trace/scg-api-bus/memory"
	"github.com/next-trace/scg-api-bus/order"
	"github.com/next-trace/scg-api-bus/router"
	"github.com/next-trace/scg-api-bus/servicebus"
)

func newOrderServer(t *testing.T) *servicebus.Server {
	t.Helper()

	cat := newFakeCatalog(snapshot(1, "Laptop", "999.99", 10))
	s := order.NewService(memory.NewOrders(), cat)

	table, err := router.New(order.Routes(s)...)
	if err != nil {
		t.Fatalf("routes: %v", err)
	}

	return servicebus.New(order.ServiceName, table)
}

func TestRoutes_CreateAndFetch(t *testing.T) {
	srv := newOrderServer(t)

	resp := srv.Handle(t.Context(), envelope.Request{
		Method:        "POST",
		Path:          "/api/orders",
		Body:          json.RawMessage(`{"userId":1,"shippingAddress":"1 Main St","orderItems":[{"productId":1,"quantity":2}]}`),
		CorrelationID: "c-1",
	})
	if resp.StatusCode != http.StatusCreated || resp.CorrelationID != "c-1" {
		t.Fatalf("create=%d %q", resp.StatusCode, resp.Message())
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(resp.Data, &raw); err != nil {
		t.Fatalf("data: %v", err)
	}

	if string(raw["totalAmount"]) != `"1999.98"` || string(raw["status"]) != `"Pending"` {
		t.Fatalf("total=%s status=%s", raw["totalAmount"], raw["status"])
	}

	if _, ok := raw["orderItems"]; !ok {
		t.Fatalf("orderItems missing: %s", resp.Data)
	}

	var created order.Order
	if err := resp.DecodeData(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	got := srv.Handle(t.Context(), envelope.Request{Method: "GET", Path: "/api/orders/1"})
	if got.StatusCode != http.StatusOK {
		t.Fatalf("get=%d", got.StatusCode)
	}

	byUser := srv.Handle(t.Context(), envelope.Request{Method: "GET", Path: "/api/orders/user/1"})

	var list []order.Order
	if err := byUser.DecodeData(&list); err != nil || len(list) != 1 || list[0].ID != created.ID {
		t.Fatalf("by user=%s err=%v", byUser.Data, err)
	}

	upd := srv.Handle(t.Context(), envelope.Request{
		Method: "PUT",
		Path:   "/api/orders/1/status",
		Body:   json.RawMessage(`{"status":"Processing"}`),
	})
	if upd.StatusCode != http.StatusOK {
		t.Fatalf("status=%d %q", upd.StatusCode, upd.Message())
	}

	del := srv.Handle(t.Context(), envelope.Request{Method: "DELETE", Path: "/api/orders/1"})
	if del.StatusCode != http.StatusNoContent || string(del.Data) != "null" {
		t.Fatalf("delete=%d %s", del.StatusCode, del.Data)
	}
}

func TestRoutes_Errors(t *testing.T) {
	srv := newOrderServer(t)

	cases := []struct {
		req    envelope.Request
		status int
		msg    string
	}{
		{envelope.Request{Method: "GET", Path: "/api/orders/user/abc"}, 400, "Invalid user ID"},
		{envelope.Request{Method: "GET", Path: "/api/orders/-1"}, 400, "Invalid order ID"},
		{envelope.Request{Method: "PATCH", Path: "/api/orders"}, 405, "Method PATCH not allowed"},
		{envelope.Request{Method: "POST", Path: "/api/orders", Body: json.RawMessage(`{"userId":`)}, 400, "Invalid request body"},
		{envelope.Request{Method: "POST", Path: "/api/orders", Body: json.RawMessage(`{"userId":1,"orderItems":[{"productId":99999,"quantity":1}]}`)}, 400, "Product with ID 99999 not found"},
		{envelope.Request{Method: "GET", Path: "/api/orders/12"}, 404, "Order with ID 12 not found"},
	}

	for _, tc := range cases {
		resp := srv.Handle(t.Context(), tc.req)
		if resp.StatusCode != tc.status || resp.Message() != tc.msg {
			t.Fatalf("%s %s: got %d %q, want %d %q", tc.req.Method, tc.req.Path, resp.StatusCode, resp.Message(), tc.status, tc.msg)
		}
	}
}
