package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/next-trace/scg-api-bus/metrics"
)

func TestObserveRequest(t *testing.T) {
	rec := metrics.New()

	rec.ObserveRequest("order", "POST", "/api/orders", 201, 5*time.Millisecond)
	rec.ObserveRequest("order", "POST", "/api/orders", 201, 7*time.Millisecond)
	rec.ObserveRequest("order", "GET", "/api/orders/{id:int}", 404, time.Millisecond)

	const want = `
# HELP scg_requests_total Request envelopes handled, by route and status code.
# TYPE scg_requests_total counter
scg_requests_total{method="GET",route="/api/orders/{id:int}",service="order",status="404"} 1
scg_requests_total{method="POST",route="/api/orders",service="order",status="201"} 2
`
	if err := testutil.GatherAndCompare(rec.Registry(), strings.NewReader(want), "scg_requests_total"); err != nil {
		t.Fatalf("requests: %v", err)
	}
}

func TestBreakerAndDeliveries(t *testing.T) {
	rec := metrics.New()

	rec.SetBreakerState("catalog", 2)
	rec.ObserveDelivery("api.order.request", "acked")

	if n := testutil.CollectAndCount(rec.Registry(), "scg_breaker_state", "scg_deliveries_total"); n != 2 {
		t.Fatalf("series=%d", n)
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var rec *metrics.Recorder

	rec.ObserveRequest("x", "GET", "/api/x", 200, time.Second)
	rec.SetBreakerState("x", 1)
	rec.ObserveDelivery("q", "acked")
}

func TestHandlerServesExposition(t *testing.T) {
	rec := metrics.New()
	rec.ObserveRequest("catalog", "GET", "/api/products", 200, time.Millisecond)

	w := httptest.NewRecorder()
	rec.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "scg_request_duration_seconds") {
		t.Fatalf("code=%d body=%s", w.Code, w.Body.String())
	}
}
