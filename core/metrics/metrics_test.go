package metrics_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/guard/core/incident"
	"github.com/dmitrymomot/guard/core/logger"
	"github.com/dmitrymomot/guard/core/metrics"
	"github.com/dmitrymomot/guard/core/session"
	"github.com/dmitrymomot/guard/pkg/ratelimiter"
)

func newMetrics(t *testing.T) (*metrics.Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	return m, reg
}

func counter(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metricLoop:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metricLoop
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestNew_DuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := metrics.New(reg)
	require.NoError(t, err)
	_, err = metrics.New(reg)
	assert.Error(t, err)
}

func TestSessionHooks(t *testing.T) {
	t.Parallel()

	m, reg := newMetrics(t)
	h := m.SessionHooks()
	ctx := context.Background()
	h.OnCreate(ctx, session.Session{})
	h.OnCreate(ctx, session.Session{})
	h.OnRotate(ctx, session.Session{})
	h.OnExpire(ctx, session.Session{})
	h.OnDestroy(ctx, session.Session{})

	assert.Equal(t, 2.0, counter(t, reg, "guard_session_events_total", map[string]string{"event": "created"}))
	assert.Equal(t, 1.0, counter(t, reg, "guard_session_events_total", map[string]string{"event": "rotated"}))
	assert.Equal(t, 1.0, counter(t, reg, "guard_session_events_total", map[string]string{"event": "expired"}))
	assert.Equal(t, 1.0, counter(t, reg, "guard_session_events_total", map[string]string{"event": "destroyed"}))
}

func TestCSRFAndRateLimit(t *testing.T) {
	t.Parallel()

	m, reg := newMetrics(t)
	m.CSRFIssued()
	m.CSRFValidated(true)
	m.CSRFValidated(false)
	m.CSRFValidated(false)

	assert.Equal(t, 1.0, counter(t, reg, "guard_csrf_tokens_total", map[string]string{"result": "issued"}))
	assert.Equal(t, 1.0, counter(t, reg, "guard_csrf_tokens_total", map[string]string{"result": "accepted"}))
	assert.Equal(t, 2.0, counter(t, reg, "guard_csrf_tokens_total", map[string]string{"result": "rejected"}))

	limiter := ratelimiter.New(ratelimiter.NewMemoryStore())
	limit := ratelimiter.Limit{MaxRequests: 1, Window: time.Minute}
	for range 2 {
		res, err := limiter.Allow(context.Background(), "192.0.2.1", "login", limit)
		m.RateLimitDecision("login", res, err)
	}
	m.RateLimitDecision("login", nil, ratelimiter.ErrStoreUnavailable)

	assert.Equal(t, 1.0, counter(t, reg, "guard_rate_limit_decisions_total", map[string]string{"action": "login", "result": "allowed"}))
	assert.Equal(t, 1.0, counter(t, reg, "guard_rate_limit_decisions_total", map[string]string{"action": "login", "result": "rejected"}))
	assert.Equal(t, 1.0, counter(t, reg, "guard_rate_limit_decisions_total", map[string]string{"action": "login", "result": "error"}))
}

func TestLogWriteHook(t *testing.T) {
	t.Parallel()

	m, reg := newMetrics(t)
	l, err := logger.New(t.TempDir(), "app",
		logger.WithMaxFileSize(1),
		logger.WithWriteHook(m.LogWriteHook()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	ctx := context.Background()
	l.Info(ctx, "one", nil)
	l.Warning(ctx, "two", nil)

	assert.Equal(t, 1.0, counter(t, reg, "guard_log_entries_total", map[string]string{"channel": "app", "level": "INFO"}))
	assert.Equal(t, 1.0, counter(t, reg, "guard_log_entries_total", map[string]string{"channel": "app", "level": "WARNING"}))
	assert.Equal(t, 2.0, counter(t, reg, "guard_log_rotations_total", map[string]string{"channel": "app"}))
}

func TestIncidentHooks(t *testing.T) {
	t.Parallel()

	m, reg := newMetrics(t)
	h := m.IncidentHooks()
	h.OnIncident(incident.Incident{Severity: "CRITICAL"})
	h.OnAlert(incident.Incident{}, nil)
	h.OnAlert(incident.Incident{}, errors.New("smtp down"))
	h.OnAlert(incident.Incident{}, fmt.Errorf("%w: queue full", incident.ErrAlertDropped))

	assert.Equal(t, 1.0, counter(t, reg, "guard_incidents_total", map[string]string{"severity": "CRITICAL"}))
	for _, result := range []string{"sent", "failed", "dropped"} {
		assert.Equal(t, 1.0, counter(t, reg, "guard_incident_alerts_total", map[string]string{"result": result}), result)
	}
}

func TestInstrumentAndHandler(t *testing.T) {
	t.Parallel()

	m, reg := newMetrics(t)
	h := m.Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusOK)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, 1.0, counter(t, reg, "guard_http_requests_total", map[string]string{"method": "GET", "status": "418"}))
	n, err := testutil.GatherAndCount(reg, "guard_http_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var body []byte
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err = io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "guard_http_requests_total")
}
