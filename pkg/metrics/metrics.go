package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/apperr"
)

// Metrics holds the service collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errorsTotal     *prometheus.CounterVec

	cyclesTotal   *prometheus.CounterVec
	deletedTotal  prometheus.Counter
	cycleDuration prometheus.Histogram
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "HTTP requests by method and status",
			},
			[]string{"method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_request_errors_total",
				Help: "Error responses by error code and type",
			},
			[]string{"code", "type"},
		),
		cyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_reconciliation_cycles_total",
				Help: "Reconciliation cycles by result",
			},
			[]string{"result"},
		),
		deletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "order_reconciliation_deleted_total",
			Help: "Stale pending orders deleted by reconciliation",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "order_reconciliation_cycle_duration_seconds",
			Help:    "Duration of reconciliation cycles",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.errorsTotal,
		m.cyclesTotal,
		m.deletedTotal,
		m.cycleDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ErrorWritten counts an error response written by the guard
func (m *Metrics) ErrorWritten(info apperr.ExceptionInfo) {
	m.errorsTotal.WithLabelValues(info.ErrorCode, info.ErrorType).Inc()
}

// CycleCompleted records one reconciliation cycle
func (m *Metrics) CycleCompleted(deleted int, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.cyclesTotal.WithLabelValues(result).Inc()
	m.deletedTotal.Add(float64(deleted))
	m.cycleDuration.Observe(duration.Seconds())
}

// Middleware records the count and latency of every request
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		m.requestsTotal.WithLabelValues(r.Method, strconv.Itoa(rw.status)).Inc()
		m.requestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
