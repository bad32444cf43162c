package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/guard/core/incident"
	"github.com/dmitrymomot/guard/core/logger"
	"github.com/dmitrymomot/guard/core/session"
	"github.com/dmitrymomot/guard/pkg/ratelimiter"
)

const namespace = "guard"

// Metrics holds the security counters and HTTP instrumentation.
type Metrics struct {
	gatherer prometheus.Gatherer

	sessions     *prometheus.CounterVec
	csrf         *prometheus.CounterVec
	rateLimit    *prometheus.CounterVec
	logEntries   *prometheus.CounterVec
	logRotations *prometheus.CounterVec
	incidents    *prometheus.CounterVec
	alerts       *prometheus.CounterVec
	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. A nil reg gets a
// fresh registry, which Handler then serves.
func New(reg *prometheus.Registry) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		gatherer: reg,
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events.",
		}, []string{"event"}),
		csrf: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "csrf_tokens_total",
			Help:      "CSRF tokens issued and validation outcomes.",
		}, []string{"result"}),
		rateLimit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Rate limit decisions per action.",
		}, []string{"action", "result"}),
		logEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_entries_total",
			Help:      "Entries written to the secure log.",
		}, []string{"channel", "level"}),
		logRotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_rotations_total",
			Help:      "Secure log file rotations.",
		}, []string{"channel"}),
		incidents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_total",
			Help:      "Incidents recorded.",
		}, []string{"severity"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incident_alerts_total",
			Help:      "Incident alert delivery outcomes.",
		}, []string{"result"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "In-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "status"}),
	}

	for _, c := range []prometheus.Collector{
		m.sessions, m.csrf, m.rateLimit, m.logEntries, m.logRotations,
		m.incidents, m.alerts, m.httpInFlight, m.httpRequests, m.httpDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// SessionHooks counts session lifecycle events.
func (m *Metrics) SessionHooks() session.Hooks {
	inc := func(event string) func(context.Context, session.Session) {
		c := m.sessions.WithLabelValues(event)
		return func(context.Context, session.Session) { c.Inc() }
	}
	return session.Hooks{
		OnCreate:  inc("created"),
		OnRotate:  inc("rotated"),
		OnExpire:  inc("expired"),
		OnDestroy: inc("destroyed"),
	}
}

// CSRFIssued counts an issued token.
func (m *Metrics) CSRFIssued() {
	m.csrf.WithLabelValues("issued").Inc()
}

// CSRFValidated counts a validation outcome.
func (m *Metrics) CSRFValidated(valid bool) {
	result := "rejected"
	if valid {
		result = "accepted"
	}
	m.csrf.WithLabelValues(result).Inc()
}

// RateLimitDecision counts one decision. err is the error returned by
// Limiter.Allow, if any.
func (m *Metrics) RateLimitDecision(action string, res *ratelimiter.Result, err error) {
	result := "error"
	switch {
	case err != nil:
	case res.Allowed():
		result = "allowed"
	default:
		result = "rejected"
	}
	m.rateLimit.WithLabelValues(action, result).Inc()
}

// LogWriteHook returns a logger.WithWriteHook callback.
func (m *Metrics) LogWriteHook() func(logger.Entry, bool) {
	return func(e logger.Entry, rotated bool) {
		m.logEntries.WithLabelValues(e.Channel, e.Level.String()).Inc()
		if rotated {
			m.logRotations.WithLabelValues(e.Channel).Inc()
		}
	}
}

// IncidentHooks counts incidents and alert outcomes.
func (m *Metrics) IncidentHooks() incident.Hooks {
	return incident.Hooks{
		OnIncident: func(inc incident.Incident) {
			m.incidents.WithLabelValues(inc.Severity).Inc()
		},
		OnAlert: func(_ incident.Incident, err error) {
			result := "sent"
			switch {
			case errors.Is(err, incident.ErrAlertDropped):
				result = "dropped"
			case err != nil:
				result = "failed"
			}
			m.alerts.WithLabelValues(result).Inc()
		},
	}
}

// Instrument records in-flight requests, request counts and latencies.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		m.httpDuration.WithLabelValues(r.Method, status).Observe(time.Since(start).Seconds())
		m.httpRequests.WithLabelValues(r.Method, status).Inc()
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

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
