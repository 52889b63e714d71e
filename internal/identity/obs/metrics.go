// Package obs holds the Prometheus collectors of the identity service.
package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "identity"

// Metrics groups every collector. A nil *Metrics is valid and records
// nothing, so services can be built without observability in tests.
type Metrics struct {
	reg prometheus.Gatherer

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	quotaDecisions  *prometheus.CounterVec
	refreshOutcomes *prometheus.CounterVec
	signinOutcomes  *prometheus.CounterVec
	auditWrites     *prometheus.CounterVec
	auditDegraded   prometheus.Gauge
	housekeeping    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg. A fresh
// registry is created when reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		reg: reg,
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		quotaDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_decisions_total",
			Help:      "Upload quota decisions by plan and result.",
		}, []string{"plan", "result"}),
		refreshOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Refresh token exchanges by result.",
		}, []string{"result"}),
		signinOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signin_total",
			Help:      "Signin attempts by result.",
		}, []string{"result"}),
		auditWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_writes_total",
			Help:      "Audit log writes by result.",
		}, []string{"result"}),
		auditDegraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audit_degraded",
			Help:      "1 while audit entries cannot be persisted.",
		}),
		housekeeping: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "housekeeping_deleted_total",
			Help:      "Rows pruned by housekeeping, by table.",
		}, []string{"table"}),
	}
	reg.MustRegister(
		m.httpInFlight, m.httpRequestsTotal, m.httpRequestDuration,
		m.quotaDecisions, m.refreshOutcomes, m.signinOutcomes,
		m.auditWrites, m.auditDegraded, m.housekeeping,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) QuotaDecision(plan, result string) {
	if m == nil {
		return
	}
	m.quotaDecisions.WithLabelValues(plan, result).Inc()
}

func (m *Metrics) RefreshOutcome(result string) {
	if m == nil {
		return
	}
	m.refreshOutcomes.WithLabelValues(result).Inc()
}

func (m *Metrics) SigninOutcome(result string) {
	if m == nil {
		return
	}
	m.signinOutcomes.WithLabelValues(result).Inc()
}

func (m *Metrics) AuditWrite(result string) {
	if m == nil {
		return
	}
	m.auditWrites.WithLabelValues(result).Inc()
}

func (m *Metrics) SetAuditDegraded(degraded bool) {
	if m == nil {
		return
	}
	if degraded {
		m.auditDegraded.Set(1)
		return
	}
	m.auditDegraded.Set(0)
}

func (m *Metrics) HousekeepingDeleted(table string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.housekeeping.WithLabelValues(table).Add(float64(n))
}

// Instrument measures request count, latency and in-flight requests. The
// route label is the matched mux pattern, so path parameters do not blow
// up cardinality.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(sw.code)
		m.httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.code = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}
