// Package metrics exposes Prometheus counters for the security components.
// Each component reports through its own hook type, so the components do not
// import Prometheus:
//
//	m, err := metrics.New(nil)
//	sessions := session.NewManager(store, session.WithHooks(m.SessionHooks()))
//	log, err := logger.New(dir, "app", logger.WithWriteHook(m.LogWriteHook()))
//	esc := incident.NewEscalator(st, alerter, incident.WithHooks(m.IncidentHooks()))
//	mux.Handle("GET /metrics", m.Handler())
package metrics
