// Package metrics exposes Prometheus instruments for request handling and remote calls.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scg"

// Recorder owns the instruments of one process. The zero value is not usable; use New.
type Recorder struct {
	reg        *prometheus.Registry
	requests   *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	breaker    *prometheus.GaugeVec
	deliveries *prometheus.CounterVec
}

// New registers all instruments on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Request envelopes handled, by route and status code.",
		}, []string{"service", "method", "route", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time spent handling a request envelope.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "method", "route"}),
		breaker: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}, []string{"name"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Broker deliveries settled, by outcome.",
		}, []string{"queue", "outcome"}),
	}

	r.reg.MustRegister(
		r.requests,
		r.durations,
		r.breaker,
		r.deliveries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// ObserveRequest records one handled request. route is the matched pattern, or "unmatched".
func (r *Recorder) ObserveRequest(service, method, route string, status int, elapsed time.Duration) {
	if r == nil {
		return
	}

	r.requests.WithLabelValues(service, method, route, strconv.Itoa(status)).Inc()
	r.durations.WithLabelValues(service, method, route).Observe(elapsed.Seconds())
}

// SetBreakerState records the numeric state of a named circuit breaker.
func (r *Recorder) SetBreakerState(name string, state int) {
	if r == nil {
		return
	}

	r.breaker.WithLabelValues(name).Set(float64(state))
}

// ObserveDelivery counts a settled broker delivery (acked, requeued, dead_lettered).
func (r *Recorder) ObserveDelivery(queue, outcome string) {
	if r == nil {
		return
	}

	r.deliveries.WithLabelValues(queue, outcome).Inc()
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
