package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP surface, the
// cache and the billing ledger.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Histogram
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	enrollments     *prometheus.CounterVec
	cancellations   prometheus.Counter
	payments        *prometheus.CounterVec
	paymentAmount   *prometheus.CounterVec
	voids           prometheus.Counter
	conflicts       *prometheus.CounterVec
	overdueMarked   prometheus.Counter
	delinquentMoved prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	m := &MetricsService{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		cacheLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_latency_seconds",
			Help:    "Latency for cache lookups",
			Buckets: prometheus.DefBuckets,
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total cache hits",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total cache misses",
		}),
		enrollments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_enrollments_created_total",
			Help: "Enrollments created by modality",
		}, []string{"modality"}),
		cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_enrollments_cancelled_total",
			Help: "Enrollments cancelled",
		}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_payments_confirmed_total",
			Help: "Confirmed payments by kind and method",
		}, []string{"kind", "method"}),
		paymentAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_payments_confirmed_amount",
			Help: "Sum of confirmed payment amounts by kind",
		}, []string{"kind"}),
		voids: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_payments_voided_total",
			Help: "Voided payments",
		}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_concurrent_modifications_total",
			Help: "Operations rejected because of lock contention",
		}, []string{"operation"}),
		overdueMarked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_installments_marked_overdue_total",
			Help: "Installments moved to OVERDUE by the sweep",
		}),
		delinquentMoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_enrollments_marked_delinquent_total",
			Help: "Enrollments moved to DELINQUENT by the sweep",
		}),
	}

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(m.requestDuration, m.requestTotal, m.cacheLatency, m.cacheHits, m.cacheMisses,
		m.enrollments, m.cancellations, m.payments, m.paymentAmount, m.voids, m.conflicts, m.overdueMarked, m.delinquentMoved, goroutines)

	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// RecordEnrollment counts a created enrollment.
func (m *MetricsService) RecordEnrollment(modality string) {
	if m == nil {
		return
	}
	m.enrollments.WithLabelValues(modality).Inc()
}

// RecordCancellation counts a cancelled enrollment.
func (m *MetricsService) RecordCancellation() {
	if m == nil {
		return
	}
	m.cancellations.Inc()
}

// RecordPayment counts a confirmed payment and its amount.
func (m *MetricsService) RecordPayment(kind, method string, amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(kind, method).Inc()
	m.paymentAmount.WithLabelValues(kind).Add(amount.InexactFloat64())
}

// RecordVoid counts a voided payment.
func (m *MetricsService) RecordVoid() {
	if m == nil {
		return
	}
	m.voids.Inc()
}

// RecordConflict counts an operation rejected by lock contention.
func (m *MetricsService) RecordConflict(operation string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(operation).Inc()
}

// RecordOverdueSweep counts the rows changed by an overdue sweep.
func (m *MetricsService) RecordOverdueSweep(installments, enrollments int64) {
	if m == nil {
		return
	}
	m.overdueMarked.Add(float64(installments))
	m.delinquentMoved.Add(float64(enrollments))
}
