package ratelimiter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces rate limit keys.
const DefaultRedisPrefix = "ratelimit:"

// slidingWindowScript prunes, counts and conditionally records in one round trip.
// Scores are unix microseconds. ARGV[2] is the exclusive lower bound of the
// window, formatted by the caller so no number passes through Lua's float
// formatting.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = ARGV[1]
local cutoff = ARGV[2]
local limit = tonumber(ARGV[3])
local member = ARGV[4]
local ttl = ARGV[5]

redis.call('ZREMRANGEBYSCORE', key, '-inf', cutoff)

local count = redis.call('ZCARD', key)
local admitted = 0
if count < limit then
	redis.call('ZADD', key, now, member)
	count = count + 1
	admitted = 1
end

redis.call('PEXPIRE', key, ttl)

local oldest = -1
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
	oldest = tonumber(first[2])
end

return {admitted, count, oldest}
`)

// RedisStore implements Store on Redis sorted sets, shared across instances.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
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

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: DefaultRedisPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hit runs the sliding window script for key.
func (s *RedisStore) Hit(ctx context.Context, key string, now time.Time, limit Limit) (Window, error) {
	nowMicros := now.UnixMicro()
	res, err := slidingWindowScript.Run(ctx, s.client,
		[]string{s.prefix + key},
		strconv.FormatInt(nowMicros, 10),
		"("+strconv.FormatInt(nowMicros-limit.Window.Microseconds(), 10),
		limit.MaxRequests,
		uuid.NewString(),
		(limit.Window + time.Second).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Window{}, fmt.Errorf("sliding window script: %w", err)
	}
	if len(res) != 3 {
		return Window{}, fmt.Errorf("sliding window script: unexpected reply length %d", len(res))
	}

	w := Window{
		Admitted: res[0] == 1,
		Count:    int(res[1]),
	}
	if res[2] >= 0 {
		w.Oldest = time.UnixMicro(res[2]).UTC()
	}
	return w, nil
}

// Reset deletes the window for key.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}
