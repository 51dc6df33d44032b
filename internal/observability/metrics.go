package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the HTTP layer and the billing domain.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	billsFinalized  *prometheus.CounterVec
	billsCancelled  *prometheus.CounterVec
	billFailures    *prometheus.CounterVec
	einvoiceResults *prometheus.CounterVec
}

// NewMetrics initialises the registry and every collector.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mediggs_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mediggs_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	finalized := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mediggs_bills_finalized_total",
		Help: "Bills finalized, by bill type.",
	}, []string{"type"})
	cancelled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mediggs_bills_cancelled_total",
		Help: "Finalized bills cancelled, by bill type.",
	}, []string{"type"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mediggs_bill_failures_total",
		Help: "Bill lifecycle operations that failed, by operation and reason.",
	}, []string{"operation", "reason"})
	einvoice := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mediggs_einvoice_submissions_total",
		Help: "E-invoice submission attempts by outcome.",
	}, []string{"outcome"})
	registry.MustRegister(requests, duration, finalized, cancelled, failures, einvoice)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		billsFinalized:  finalized,
		billsCancelled:  cancelled,
		billFailures:    failures,
		einvoiceResults: einvoice,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency per route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// RecordBillFinalized counts a finalized bill.
func (m *Metrics) RecordBillFinalized(billType string) {
	if m == nil {
		return
	}
	m.billsFinalized.WithLabelValues(billType).Inc()
}

// RecordBillCancelled counts a cancelled bill.
func (m *Metrics) RecordBillCancelled(billType string) {
	if m == nil {
		return
	}
	m.billsCancelled.WithLabelValues(billType).Inc()
}

// RecordBillFailure counts a failed finalize or cancel.
func (m *Metrics) RecordBillFailure(operation, reason string) {
	if m == nil {
		return
	}
	m.billFailures.WithLabelValues(operation, reason).Inc()
}

// RecordEInvoiceOutcome counts one submission attempt.
func (m *Metrics) RecordEInvoiceOutcome(outcome string) {
	if m == nil {
		return
	}
	m.einvoiceResults.WithLabelValues(outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
