package incident

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Status is the lifecycle state of an incident.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Incident is the persisted record of a critical log entry.
type Incident struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	Status    Status         `json:"status"`
	Severity  string         `json:"severity"`
	Channel   string         `json:"channel,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	ClosedAt  *time.Time     `json:"closed_at,omitempty"`
}

// IsOpen reports whether the incident still awaits handling.
func (i Incident) IsOpen() bool {
	return i.Status != StatusClosed
}

// idSource produces ULIDs that sort in creation order even within one millisecond.
type idSource struct {
	mu      sync.Mutex
	entropy io.Reader
}

func newIDSource() *idSource {
	return &idSource{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (s *idSource) next(t time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}

// validID guards file names built from ids.
func validID(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}
