package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// allowScript prunes, counts and appends in one step so concurrent instances
// cannot both admit the last slot.
//
// KEYS[1] window key; ARGV[1] now (ms); ARGV[2] window (ms); ARGV[3] limit;
// ARGV[4] member.
var allowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', tonumber(ARGV[1]) - tonumber(ARGV[2]))
local n = redis.call('ZCARD', KEYS[1])
if n >= tonumber(ARGV[3]) then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

// Redis is a sliding-window limiter shared across instances.
type Redis struct {
	client redis.UniversalClient
	cfg    Config
	prefix string
	now    func() time.Time
}

// NewRedis creates a Redis-backed limiter. Keys are "{prefix}:ratelimit:{key}".
func NewRedis(client redis.UniversalClient, prefix string, cfg Config) (*Redis, error) {
	if client == nil {
		return nil, fmt.Errorf("ratelimit: redis client is required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "leadflow"
	}
	return &Redis{client: client, cfg: cfg, prefix: prefix, now: time.Now}, nil
}

func (r *Redis) key(k string) string {
	return r.prefix + ":ratelimit:" + k
}

// Allow reports whether key may send another message now and records it if so.
func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	now := r.now().UnixMilli()
	res, err := allowScript.Run(ctx, r.client,
		[]string{r.key(key)},
		now, r.cfg.Window.Milliseconds(), r.cfg.Limit, uuid.NewString(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("ratelimit: allow %q: %w", key, err)
	}
	return res == 1, nil
}

// Count returns the number of messages inside the current window for key.
func (r *Redis) Count(ctx context.Context, key string) (int, error) {
	min := r.now().Add(-r.cfg.Window).UnixMilli()
	n, err := r.client.ZCount(ctx, r.key(key), fmt.Sprintf("(%d", min), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("ratelimit: count %q: %w", key, err)
	}
	return int(n), nil
}

// Forget drops the window for key.
func (r *Redis) Forget(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("ratelimit: forget %q: %w", key, err)
	}
	return nil
}
