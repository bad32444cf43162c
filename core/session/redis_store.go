package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/guard/pkg/secrets"
)

// DefaultRedisPrefix namespaces session keys.
const DefaultRedisPrefix = "session:"

const maxTxRetries = 3

// RedisStore keeps sessions in Redis so every instance sees the same state.
// Two keys exist per session: {prefix}id:{id} holds the payload and
// {prefix}token:{token} points at the id. Both expire after the idle timeout.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	cipher *secrets.Cipher
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithRedisPrefix overrides the key prefix.
func WithRedisPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithCipher encrypts payloads at rest with AES-GCM.
func WithCipher(c *secrets.Cipher) RedisStoreOption {
	return func(s *RedisStore) {
		s.cipher = c
	}
}

// NewRedisStore creates a Redis-backed store. ttl should match the manager's
// idle timeout; it defaults to DefaultIdleTimeout.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration, opts ...RedisStoreOption) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultIdleTimeout
	}
	s := &RedisStore{client: client, prefix: DefaultRedisPrefix, ttl: ttl}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) GetByID(ctx context.Context, id uuid.UUID) (Session, error) {
	data, err := s.client.Get(ctx, s.idKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	return s.decode(data)
}

// GetByToken ignores index entries whose session has since moved to another token.
func (s *RedisStore) GetByToken(ctx context.Context, token string) (Session, error) {
	raw, err := s.client.Get(ctx, s.tokenKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return Session{}, ErrNotFound
	}

	sess, err := s.GetByID(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if sess.Token != token {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

func (s *RedisStore) Create(ctx context.Context, sess Session) error {
	data, err := s.encode(sess)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.idKey(sess.ID), data, s.ttl)
	pipe.Set(ctx, s.tokenKey(sess.Token), sess.ID.String(), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// Save is a check-and-set on the payload key. Another instance rotating the
// token between our read and write aborts the transaction.
func (s *RedisStore) Save(ctx context.Context, sess Session) error {
	data, err := s.encode(sess)
	if err != nil {
		return err
	}
	idKey := s.idKey(sess.ID)

	err = s.watch(ctx, func(tx *redis.Tx) error {
		if err := s.checkToken(ctx, tx, idKey, sess.Token); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, idKey, data, s.ttl)
			pipe.Expire(ctx, s.tokenKey(sess.Token), s.ttl)
			return nil
		})
		return err
	}, idKey)
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrTokenChanged) {
		return fmt.Errorf("save session: %w", err)
	}
	return err
}

// Rotate watches the old token key and the payload so two instances rotating
// the same session cannot both succeed.
func (s *RedisStore) Rotate(ctx context.Context, oldToken string, sess Session) error {
	data, err := s.encode(sess)
	if err != nil {
		return err
	}
	oldKey := s.tokenKey(oldToken)
	idKey := s.idKey(sess.ID)

	err = s.watch(ctx, func(tx *redis.Tx) error {
		owner, err := tx.Get(ctx, oldKey).Result()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if owner != sess.ID.String() {
			return ErrNotFound
		}
		if err := s.checkToken(ctx, tx, idKey, oldToken); err != nil {
			if errors.Is(err, ErrTokenChanged) {
				return ErrNotFound
			}
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, oldKey)
			pipe.Set(ctx, idKey, data, s.ttl)
			pipe.Set(ctx, s.tokenKey(sess.Token), sess.ID.String(), s.ttl)
			return nil
		})
		return err
	}, oldKey, idKey)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrNotFound
	}
	return err
}

// checkToken fails unless the payload at idKey exists and carries token.
func (s *RedisStore) checkToken(ctx context.Context, tx *redis.Tx, idKey, token string) error {
	raw, err := tx.Get(ctx, idKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	stored, err := s.decode(raw)
	if err != nil {
		return err
	}
	if stored.Token != token {
		return ErrTokenChanged
	}
	return nil
}

// watch runs fn in an optimistic transaction, retrying when a watched key
// changed before EXEC.
func (s *RedisStore) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	var err error
	for range maxTxRetries {
		err = s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

func (s *RedisStore) Delete(ctx context.Context, id uuid.UUID) error {
	sess, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return s.client.Del(ctx, s.idKey(id), s.tokenKey(sess.Token)).Err()
}

// DeleteExpired is a no-op; keys expire in Redis after the idle timeout.
func (s *RedisStore) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (s *RedisStore) encode(sess Session) ([]byte, error) {
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	if s.cipher == nil {
		return data, nil
	}
	return s.cipher.Seal(data)
}

func (s *RedisStore) decode(data []byte) (Session, error) {
	if s.cipher != nil {
		plain, err := s.cipher.Open(data)
		if err != nil {
			return Session{}, errors.Join(ErrCorruptSession, err)
		}
		data = plain
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, errors.Join(ErrCorruptSession, err)
	}
	return sess, nil
}

func (s *RedisStore) idKey(id uuid.UUID) string {
	return s.prefix + "id:" + id.String()
}

func (s *RedisStore) tokenKey(token string) string {
	return s.prefix + "token:" + token
}
