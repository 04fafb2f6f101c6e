// Package metrics holds the prometheus collectors of the portal core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "school_portal"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ScoreWrites         *prometheus.CounterVec
	CASRetries          *prometheus.CounterVec
	Verifications       *prometheus.CounterVec
	RequestTransitions  *prometheus.CounterVec
	NotificationsStored *prometheus.CounterVec
	PushDeliveries      *prometheus.CounterVec
	LoginFailures       prometheus.Counter
	CacheLookups        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry. Process and Go runtime
// collectors are included when withRuntime is set.
func New(withRuntime bool) *Metrics {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewGoCollector(),
		)
	}

	m := &Metrics{
		registry: reg,
		ScoreWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grade_score_writes_total",
			Help:      "Score writes by outcome.",
		}, []string{"outcome"}),
		CASRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cas_retries_total",
			Help:      "Conditional write retries by operation.",
		}, []string{"op"}),
		Verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grade_verifications_total",
			Help:      "Verify calls by result (transitioned, noop).",
		}, []string{"result"}),
		RequestTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_request_transitions_total",
			Help:      "Document request status transitions.",
		}, []string{"from", "to"}),
		NotificationsStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_stored_total",
			Help:      "Persisted notifications by type.",
		}, []string{"type"}),
		PushDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_deliveries_total",
			Help:      "Push attempts by result (sent, failed, error, skipped).",
		}, []string{"result"}),
		LoginFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_failures_total",
			Help:      "Failed login attempts.",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grade_cache_lookups_total",
			Help:      "Student grade view cache lookups by result.",
		}, []string{"result"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		m.ScoreWrites,
		m.CASRetries,
		m.Verifications,
		m.RequestTransitions,
		m.NotificationsStored,
		m.PushDeliveries,
		m.LoginFailures,
		m.CacheLookups,
		m.HTTPDuration,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ScoreWrite(outcome string) {
	if m != nil {
		m.ScoreWrites.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Retry(op string) {
	if m != nil {
		m.CASRetries.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) Verification(result string) {
	if m != nil {
		m.Verifications.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Transition(from, to string) {
	if m != nil {
		m.RequestTransitions.WithLabelValues(from, to).Inc()
	}
}

func (m *Metrics) NotificationStored(kind string) {
	if m != nil {
		m.NotificationsStored.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Push(result string, n int) {
	if m != nil && n > 0 {
		m.PushDeliveries.WithLabelValues(result).Add(float64(n))
	}
}

func (m *Metrics) LoginFailure() {
	if m != nil {
		m.LoginFailures.Inc()
	}
}

func (m *Metrics) CacheLookup(result string) {
	if m != nil {
		m.CacheLookups.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ObserveHTTP(method, route, status string, seconds float64) {
	if m != nil {
		m.HTTPDuration.WithLabelValues(method, route, status).Observe(seconds)
	}
}
