package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

// Outcome labels used by the order counters.
const (
	OutcomeSuccess           = "success"
	OutcomeValidation        = "validation"
	OutcomeInsufficientStock = "insufficient_stock"
	OutcomeConflict          = "conflict"
	OutcomeNotFound          = "not_found"
	OutcomeForbidden         = "forbidden"
	OutcomeInvalidState      = "invalid_state"
	OutcomeTransient         = "transient"
)

type Metrics struct {
	Requests         *prometheus.CounterVec
	LatencyMS        *prometheus.HistogramVec
	Checkouts        *prometheus.CounterVec
	CheckoutDuration prometheus.Histogram
	Cancellations    *prometheus.CounterVec
	OutboxPublished  *prometheus.CounterVec
	gatherer         prometheus.Gatherer
}

// New registers every collector on reg. Passing a fresh prometheus.NewRegistry keeps tests isolated.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_total",
			Help:      "Checkout attempts by outcome.",
		}, []string{"outcome"}),
		CheckoutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkout_duration_seconds",
			Help:      "Time spent placing an order, transaction included.",
			Buckets:   prometheus.DefBuckets,
		}),
		Cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_cancellations_total",
			Help:      "Order cancellation attempts by outcome.",
		}, []string{"outcome"}),
		OutboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_total",
			Help:      "Outbox events handled by the publisher.",
		}, []string{"event_type", "result"}),
		gatherer: reg,
	}

	reg.MustRegister(m.Requests, m.LatencyMS, m.Checkouts, m.CheckoutDuration, m.Cancellations, m.OutboxPublished)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request count and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		m.LatencyMS.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
	})
}
