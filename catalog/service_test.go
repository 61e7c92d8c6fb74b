package catalog_test

import (
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/next-trace/scg-api-bus/catalog"
	"github.com/next-trace/scg-api-bus/contract/envelope"
	berr "github.com/next-trace/scg-api-bus/contract/errors"
	"github.com/next-trace/scg-api-bus/memory"
	"github.com/next-trace/scg-api-bus/router"
	"github.com/next-trace/scg-api-bus/servicebus"
)

var now = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*catalog.Service, *memory.Catalog) {
	t.Helper()

	repo := memory.NewCatalog()
	repo.Put(catalog.Product{ID: 1, Name: "Laptop", Price: decimal.RequireFromString("999.99"), Stock: 10, Category: "Electronics", IsAvailable: true})

	s := catalog.NewService(repo, nil)
	s.SetClock(func() time.Time { return now })

	return s, repo
}

func TestAdjustStock_NeverNegative(t *testing.T) {
	s, _ := newService(t)

	stock, err := s.AdjustStock(t.Context(), 1, -4)
	if err != nil || stock != 6 {
		t.Fatalf("stock=%d err=%v", stock, err)
	}

	_, err = s.AdjustStock(t.Context(), 1, -7)
	if berr.Status(err) != http.StatusBadRequest || berr.Message(err) != "Insufficient stock for product 1: adjustment -7" {
		t.Fatalf("over-decrement: %d %q", berr.Status(err), berr.Message(err))
	}

	p, _ := s.Get(t.Context(), 1)
	if p.Stock != 6 {
		t.Fatalf("failed adjustment changed stock to %d", p.Stock)
	}

	if _, err := s.AdjustStock(t.Context(), 42, 1); berr.Message(err) != "Product with ID 42 not found" {
		t.Fatalf("missing product: %v", err)
	}
}

func TestAdjustStock_ConcurrentDecrementsStopAtZero(t *testing.T) {
	s, _ := newService(t)

	var wg sync.WaitGroup

	for range 25 {
		wg.Add(1)

		go func() {
			defer wg.Done()
			_, _ = s.AdjustStock(t.Context(), 1, -1)
		}()
	}

	wg.Wait()

	p, _ := s.Get(t.Context(), 1)
	if p.Stock != 0 {
		t.Fatalf("stock=%d", p.Stock)
	}
}

func TestCreateAndUpdate(t *testing.T) {
	s, _ := newService(t)

	p, err := s.Create(t.Context(), catalog.ProductInput{
		Name: " Mouse ", Price: decimal.RequireFromString("25.50"), Stock: 5, Category: "Electronics",
		Tags: []string{"USB", " wireless", "usb"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if p.Name != "Mouse" || !p.IsAvailable || len(p.Tags) != 2 || p.Tags[0] != "usb" || p.Tags[1] != "wireless" {
		t.Fatalf("product=%+v", p)
	}

	if _, err := s.Create(t.Context(), catalog.ProductInput{Price: decimal.NewFromInt(1)}); berr.Message(err) != "Product name is required" {
		t.Fatalf("nameless: %v", err)
	}

	off := false
	price := decimal.RequireFromString("19.99")

	u, err := s.Update(t.Context(), p.ID, catalog.ProductUpdate{IsAvailable: &off, Price: &price})
	if err != nil || u.IsAvailable || !u.Price.Equal(price) || u.Name != "Mouse" {
		t.Fatalf("update=%+v err=%v", u, err)
	}

	neg := -1
	if _, err := s.Update(t.Context(), p.ID, catalog.ProductUpdate{Stock: &neg}); berr.Status(err) != http.StatusBadRequest {
		t.Fatalf("negative stock accepted: %v", err)
	}

	byCat, _ := s.List(t.Context(), catalog.Filter{Category: "electronics"})
	if len(byCat) != 2 {
		t.Fatalf("category listing=%d", len(byCat))
	}

	if err := s.Delete(t.Context(), p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := s.Get(t.Context(), p.ID); berr.Status(err) != http.StatusNotFound {
		t.Fatalf("deleted product visible: %v", err)
	}
}

func TestDiscountWindow(t *testing.T) {
	s, _ := newService(t)

	dp := decimal.RequireFromString("899.99")
	start, end := now.Add(-time.Hour), now.Add(time.Hour)

	p, err := s.SetDiscount(t.Context(), 1, catalog.DiscountInput{DiscountPrice: &dp, DiscountStart: &start, DiscountEnd: &end})
	if err != nil || !p.HasDiscount {
		t.Fatalf("active discount=%+v err=%v", p, err)
	}

	later := now.Add(2 * time.Hour)
	p, _ = s.SetDiscount(t.Context(), 1, catalog.DiscountInput{DiscountPrice: &dp, DiscountStart: &later})

	if p.HasDiscount {
		t.Fatalf("future discount reported active")
	}

	tooHigh := decimal.RequireFromString("1000")
	if _, err := s.SetDiscount(t.Context(), 1, catalog.DiscountInput{DiscountPrice: &tooHigh}); berr.Status(err) != http.StatusBadRequest {
		t.Fatalf("discount above price accepted: %v", err)
	}

	if _, err := s.SetDiscount(t.Context(), 1, catalog.DiscountInput{DiscountStart: &end, DiscountEnd: &start}); berr.Status(err) != http.StatusBadRequest {
		t.Fatalf("inverted window accepted: %v", err)
	}
}

func TestReviews(t *testing.T) {
	s, _ := newService(t)

	r1, err := s.AddReview(t.Context(), 1, catalog.ReviewInput{UserID: 1, UserName: "ann", Rating: 5, Comment: "great"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if _, err := s.AddReview(t.Context(), 1, catalog.ReviewInput{UserID: 2, Rating: 2}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if _, err := s.AddReview(t.Context(), 1, catalog.ReviewInput{UserID: 3, Rating: 6}); berr.Message(err) != "Rating must be between 1 and 5" {
		t.Fatalf("rating 6: %v", err)
	}

	p, _ := s.Get(t.Context(), 1)
	if p.ReviewCount != 2 || p.AverageRating != 3.5 {
		t.Fatalf("aggregates count=%d avg=%v", p.ReviewCount, p.AverageRating)
	}

	four := 4

	upd, err := s.UpdateReview(t.Context(), 1, r1.ID, catalog.ReviewUpdate{Rating: &four})
	if err != nil || upd.Rating != 4 || upd.Comment != "great" {
		t.Fatalf("update=%+v err=%v", upd, err)
	}

	if err := s.DeleteReview(t.Context(), 1, r1.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if err := s.DeleteReview(t.Context(), 1, r1.ID); berr.Message(err) != "Review with ID 1 not found" {
		t.Fatalf("second delete: %v", err)
	}

	rs, _ := s.Reviews(t.Context(), 1)
	if len(rs) != 1 {
		t.Fatalf("reviews=%d", len(rs))
	}
}

func TestAddTags(t *testing.T) {
	s, _ := newService(t)

	p, err := s.AddTags(t.Context(), 1, []string{"Sale", "sale", "new"})
	if err != nil || len(p.Tags) != 2 || p.Tags[0] != "new" {
		t.Fatalf("tags=%v err=%v", p.Tags, err)
	}

	if _, err := s.AddTags(t.Context(), 1, []string{" "}); berr.Status(err) != http.StatusBadRequest {
		t.Fatalf("empty tags accepted: %v", err)
	}
}

func newCatalogServer(t *testing.T) *servicebus.Server {
	t.Helper()

	s, _ := newService(t)

	return servicebus.New(catalog.ServiceName, router.MustNew(catalog.Routes(s)...),
		servicebus.WithDedup(memory.NewDedup(), time.Hour))
}

func TestRoutes_StockPatch(t *testing.T) {
	srv := newCatalogServer(t)

	bad := srv.Handle(t.Context(), envelope.Request{Method: "PATCH", Path: "/api/products/1/stock", Body: json.RawMessage(`"abc"`), CorrelationID: "c-1"})
	if bad.StatusCode != http.StatusBadRequest || bad.Message() != "Invalid stock quantity" {
		t.Fatalf("malformed=%d %q", bad.StatusCode, bad.Message())
	}

	ok := srv.Handle(t.Context(), envelope.Request{
		Method: "PATCH", Path: "/api/products/1/stock", Body: json.RawMessage(`-3`),
		CorrelationID: "c-2", IdempotencyKey: "order-1-product-1",
	})
	if ok.StatusCode != http.StatusOK {
		t.Fatalf("patch=%d %q", ok.StatusCode, ok.Message())
	}

	var out struct {
		Message string `json:"message"`
		Stock   int    `json:"stock"`
	}
	if err := ok.DecodeData(&out); err != nil || out.Stock != 7 || out.Message != "Stock updated successfully" {
		t.Fatalf("reply=%+v err=%v", out, err)
	}

	// A retried adjustment with the same key is rejected before touching stock.
	dup := srv.Handle(t.Context(), envelope.Request{
		Method: "PATCH", Path: "/api/products/1/stock", Body: json.RawMessage(`-3`),
		CorrelationID: "c-3", IdempotencyKey: "order-1-product-1",
	})
	if dup.StatusCode != http.StatusConflict {
		t.Fatalf("dup=%d", dup.StatusCode)
	}

	get := srv.Handle(t.Context(), envelope.Request{Method: "GET", Path: "/api/products/1"})

	var p catalog.Product
	if err := get.DecodeData(&p); err != nil || p.Stock != 7 {
		t.Fatalf("product=%+v err=%v", p, err)
	}
}

func TestRoutes_Errors(t *testing.T) {
	srv := newCatalogServer(t)

	cases := []struct {
		req    envelope.Request
		status int
		msg    string
	}{
		{envelope.Request{Method: "GET", Path: "/api/products/abc"}, 400, "Invalid product ID"},
		{envelope.Request{Method: "PUT", Path: "/api/products/1/reviews/x", Body: json.RawMessage(`{}`)}, 400, "Invalid review ID"},
		{envelope.Request{Method: "GET", Path: "/api/products/99999"}, 404, "Product with ID 99999 not found"},
		{envelope.Request{Method: "PATCH", Path: "/api/products/1/stock"}, 400, "Request body is required"},
		{envelope.Request{Method: "POST", Path: "/api/products/1/stock", Body: json.RawMessage(`1`)}, 405, "Method POST not allowed"},
		{envelope.Request{Method: "GET", Path: "/api/widgets"}, 404, "Invalid path"},
	}

	for _, tc := range cases {
		resp := srv.Handle(t.Context(), tc.req)
		if resp.StatusCode != tc.status || resp.Message() != tc.msg {
			t.Fatalf("%s %s: got %d %q, want %d %q", tc.req.Method, tc.req.Path, resp.StatusCode, resp.Message(), tc.status, tc.msg)
		}
	}

	cat := srv.Handle(t.Context(), envelope.Request{Method: "GET", Path: "/api/products/category/electronics"})

	var ps []catalog.Product
	if err := cat.DecodeData(&ps); err != nil || len(ps) != 1 {
		t.Fatalf("by category=%s err=%v", cat.Data, err)
	}
}
