package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps sessions in process memory. Suitable for single-instance
// deployments and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]Session
	byToken map[string]uuid.UUID
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[uuid.UUID]Session),
		byToken: make(map[string]uuid.UUID),
	}
}

func (s *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.byID[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return sess.Clone(), nil
}

func (s *MemoryStore) GetByToken(_ context.Context, token string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byToken[token]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s.byID[id].Clone(), nil
}

func (s *MemoryStore) Create(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saveLocked(sess)
	return nil
}

func (s *MemoryStore) Save(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.byID[sess.ID]
	if !ok {
		return ErrNotFound
	}
	if prev.Token != sess.Token {
		return ErrTokenChanged
	}
	s.saveLocked(sess)
	return nil
}

func (s *MemoryStore) Rotate(_ context.Context, oldToken string, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byToken[oldToken]; !ok || id != sess.ID {
		return ErrNotFound
	}
	if s.byID[sess.ID].Token != oldToken {
		return ErrNotFound
	}
	delete(s.byToken, oldToken)
	s.saveLocked(sess)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.byToken, sess.Token)
	delete(s.byID, id)
	return nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, sess := range s.byID {
		if sess.LastActivityAt.Before(cutoff) {
			delete(s.byToken, sess.Token)
			delete(s.byID, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *MemoryStore) saveLocked(sess Session) {
	if prev, ok := s.byID[sess.ID]; ok && prev.Token != sess.Token {
		delete(s.byToken, prev.Token)
	}
	s.byID[sess.ID] = sess.Clone()
	s.byToken[sess.Token] = sess.ID
}
