package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gatekeeper/internal/model"

	"github.com/redis/go-redis/v9"
)

// hitScript increments the counter and starts its window on the first hit.
// It returns {count, remaining window in ms}.
var hitScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore shares counters between gatekeeper instances. Each counter is a
// Redis key that expires with its window.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	prefix = strings.Trim(prefix, ":")
	if prefix == "" {
		prefix = "gatekeeper"
	}
	return &RedisStore{client: client, prefix: prefix + ":ratelimit"}
}

func (s *RedisStore) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (model.RateCounter, error) {
	res, err := hitScript.Run(ctx, s.client, []string{s.prefix + ":" + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return model.RateCounter{}, fmt.Errorf("redis hit %s: %w", key, err)
	}
	if len(res) != 2 {
		return model.RateCounter{}, fmt.Errorf("redis hit %s: unexpected reply %v", key, res)
	}

	left := time.Duration(res[1]) * time.Millisecond
	return model.RateCounter{
		Key:         key,
		WindowStart: now.Add(left - window),
		Count:       uint(res[0]),
	}, nil
}
