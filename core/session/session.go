package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"maps"
	"time"

	"github.com/google/uuid"
)

// tokenBytes is the entropy of a session token (256 bits).
const tokenBytes = 32

// Session is one logical client session.
type Session struct {
	// ID is stable for the whole lifetime of the session.
	ID uuid.UUID `json:"id"`

	// Token is the public identifier carried by the cookie. It rotates
	// periodically while ID and Attributes stay the same.
	Token string `json:"token"`

	// Attributes holds application values such as user id or role.
	Attributes map[string]any `json:"attributes,omitempty"`

	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	RotatedAt      time.Time `json:"rotated_at"`
}

// Get returns an attribute value.
func (s Session) Get(key string) (any, bool) {
	v, ok := s.Attributes[key]
	return v, ok
}

// GetString returns an attribute as a string, or "" if missing or not a string.
func (s Session) GetString(key string) string {
	v, _ := s.Attributes[key].(string)
	return v
}

// IsZero reports whether s is the zero session.
func (s Session) IsZero() bool {
	return s.ID == uuid.Nil
}

// Clone returns a copy that shares no attribute map with s.
func (s Session) Clone() Session {
	s.Attributes = maps.Clone(s.Attributes)
	return s
}

// IdleSince returns how long the session has been inactive at now.
func (s Session) IdleSince(now time.Time) time.Duration {
	return now.Sub(s.LastActivityAt)
}

func newSession(now time.Time) (Session, error) {
	token, err := generateToken()
	if err != nil {
		return Session{}, err
	}
	return Session{
		ID:             uuid.New(),
		Token:          token,
		Attributes:     make(map[string]any),
		CreatedAt:      now,
		LastActivityAt: now,
		RotatedAt:      now,
	}, nil
}

// generateToken creates a cryptographically secure random token using 32 bytes (256 bits)
// encoded as base64 URL-safe string without padding.
func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Join(ErrTokenGeneration, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// wellFormed reports whether token could have been produced by generateToken.
// Anything else is treated as an unknown session without touching the store.
func wellFormed(token string) bool {
	if len(token) != base64.RawURLEncoding.EncodedLen(tokenBytes) {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(token)
	return err == nil
}
