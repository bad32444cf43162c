// Package incident turns critical log entries into durable incident records
// and alerts an administrator about them.
//
// An Escalator plugs into the secure logger. Every entry at CRITICAL or above
// is saved as an open Incident, then an alert is queued for a background
// dispatcher that sends it through an Alerter, usually an EmailAlerter:
//
//	store := incident.NewFileStore(filepath.Join(logDir, "incidents"))
//	alerter, err := incident.NewEmailAlerter(sender, "security@example.com")
//	esc := incident.NewEscalator(store, alerter, incident.WithLogger(slog.Default()))
//	g.Go(esc.Run(ctx))
//
//	log, err := logger.New(logDir, "app", logger.WithEscalator(esc))
//
// Alert delivery is throttled, each send is bounded by a timeout, and alerts
// that do not fit in the queue are dropped and logged. Incidents are persisted
// before Escalate returns regardless of alert outcome.
//
// FileStore writes one JSON document per incident, named after its ULID, into
// a directory created with mode 0700.
package incident
