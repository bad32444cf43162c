package incident

import (
	"context"
	"time"
)

// Store persists incidents.
type Store interface {
	// Save creates or replaces the incident with inc.ID.
	Save(ctx context.Context, inc Incident) error
	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (Incident, error)
	// List returns matching incidents, newest first.
	List(ctx context.Context, f Filter) ([]Incident, error)
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Status   Status
	Severity string
	Channel  string
	Since    time.Time
	Until    time.Time
	Limit    int
}

func (f Filter) match(inc Incident) bool {
	if f.Status != "" && inc.Status != f.Status {
		return false
	}
	if f.Severity != "" && inc.Severity != f.Severity {
		return false
	}
	if f.Channel != "" && inc.Channel != f.Channel {
		return false
	}
	if !f.Since.IsZero() && inc.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && inc.Timestamp.After(f.Until) {
		return false
	}
	return true
}
