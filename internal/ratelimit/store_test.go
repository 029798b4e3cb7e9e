package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_HitResetsExpiredCounter(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	c, _ := store.Hit(ctx, "ip:a", time.Minute, epoch)
	assert.Equal(t, uint(1), c.Count)
	c, _ = store.Hit(ctx, "ip:a", time.Minute, epoch.Add(59*time.Second))
	assert.Equal(t, uint(2), c.Count)
	assert.Equal(t, epoch, c.WindowStart)

	c, _ = store.Hit(ctx, "ip:a", time.Minute, epoch.Add(time.Minute))
	assert.Equal(t, uint(1), c.Count)
	assert.Equal(t, epoch.Add(time.Minute), c.WindowStart)
}

func TestMemoryStore_Sweep(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, _ = store.Hit(ctx, "ip:old", time.Minute, epoch)
	_, _ = store.Hit(ctx, "ip:new", time.Minute, epoch.Add(50*time.Second))
	require.Equal(t, 2, store.Len())

	removed, err := store.Sweep(ctx, epoch.Add(70*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, store.Len())

	c, _ := store.Hit(ctx, "ip:new", time.Minute, epoch.Add(80*time.Second))
	assert.Equal(t, uint(2), c.Count, "sweep must not touch live counters")
}

func testRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("GATEKEEPER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("GATEKEEPER_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}
	return client
}

func TestRedisStore_Hit(t *testing.T) {
	client := testRedisClient(t)
	store := NewRedisStore(client, "gatekeeper-test")
	ctx := context.Background()
	key := "ip:" + uuid.NewString()
	now := time.Now()

	c, err := store.Hit(ctx, key, time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, uint(1), c.Count)

	c, err = store.Hit(ctx, key, time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, uint(2), c.Count)
	assert.WithinDuration(t, now, c.WindowStart, time.Second)

	ttl, err := client.PTTL(ctx, "gatekeeper-test:ratelimit:"+key).Result()
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Minute)
}
