package ratelimit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gatekeeper/internal/clock"
	"gatekeeper/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestLimiter(limits Limits) (*Limiter, *clock.Fake, *MemoryStore) {
	clk := clock.NewFake(epoch)
	store := NewMemoryStore()
	return NewLimiter(store, limits, clk), clk, store
}

func TestAdmit_ThresholdEnforcement(t *testing.T) {
	limiter, _, _ := newTestLimiter(DefaultLimits)
	ctx := context.Background()

	for i := 1; i <= 100; i++ {
		dec, err := limiter.Admit(ctx, "10.0.0.1", "")
		require.NoError(t, err)
		require.True(t, dec.Allowed, "call %d should be allowed", i)
		assert.Equal(t, uint(100-i), dec.Remaining)
	}

	dec, err := limiter.Admit(ctx, "10.0.0.1", "")
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, ScopeIP, dec.Scope)
	assert.LessOrEqual(t, dec.RetryAfterSeconds(), 900)
	assert.Equal(t, 900, dec.RetryAfterSeconds())
}

func TestAdmit_RetryAfterShrinksWithWindow(t *testing.T) {
	limiter, clk, _ := newTestLimiter(Limits{Window: time.Minute, IPMax: 1, OrgMax: 10})
	ctx := context.Background()

	_, err := limiter.Admit(ctx, "10.0.0.1", "")
	require.NoError(t, err)

	clk.Advance(20500 * time.Millisecond)
	dec, err := limiter.Admit(ctx, "10.0.0.1", "")
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, 39500*time.Millisecond, dec.RetryAfter)
	assert.Equal(t, 40, dec.RetryAfterSeconds())
}

func TestAdmit_WindowReset(t *testing.T) {
	limiter, clk, _ := newTestLimiter(Limits{Window: 15 * time.Minute, IPMax: 3, OrgMax: 10})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := limiter.Admit(ctx, "10.0.0.1", "")
		require.NoError(t, err)
	}
	dec, _ := limiter.Admit(ctx, "10.0.0.1", "")
	require.False(t, dec.Allowed)

	clk.Advance(15 * time.Minute)
	dec, err := limiter.Admit(ctx, "10.0.0.1", "")
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, uint(2), dec.Remaining)
}

func TestAdmit_OrgLimitIndependentOfIP(t *testing.T) {
	limiter, _, _ := newTestLimiter(Limits{Window: time.Minute, IPMax: 100, OrgMax: 2})
	ctx := context.Background()

	_, _ = limiter.Admit(ctx, "10.0.0.1", "org-1")
	_, _ = limiter.Admit(ctx, "10.0.0.2", "org-1")

	dec, err := limiter.Admit(ctx, "10.0.0.3", "org-1")
	require.NoError(t, err)
	assert.False(t, dec.Allowed, "org limit should deny although the IP is fresh")
	assert.Equal(t, ScopeOrg, dec.Scope)

	dec, err = limiter.Admit(ctx, "10.0.0.3", "org-2")
	require.NoError(t, err)
	assert.True(t, dec.Allowed, "other organizations are unaffected")
}

func TestAdmit_IPLimitIndependentOfOrg(t *testing.T) {
	limiter, _, _ := newTestLimiter(Limits{Window: time.Minute, IPMax: 2, OrgMax: 1000})
	ctx := context.Background()

	_, _ = limiter.Admit(ctx, "10.0.0.1", "org-1")
	_, _ = limiter.Admit(ctx, "10.0.0.1", "org-2")

	dec, err := limiter.Admit(ctx, "10.0.0.1", "org-3")
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, ScopeIP, dec.Scope)
}

func TestAdmit_DeniedRequestStillCountsOtherScope(t *testing.T) {
	limiter, _, store := newTestLimiter(Limits{Window: time.Minute, IPMax: 100, OrgMax: 1})
	ctx := context.Background()

	_, _ = limiter.Admit(ctx, "10.0.0.1", "org-1")
	dec, _ := limiter.Admit(ctx, "10.0.0.1", "org-1")
	require.False(t, dec.Allowed)

	counter, err := store.Hit(ctx, model.IPKey("10.0.0.1"), time.Minute, epoch)
	require.NoError(t, err)
	assert.Equal(t, uint(3), counter.Count, "the IP counter was hit by both calls")
}

func TestAdmit_BothScopesDenyReportsLongestWait(t *testing.T) {
	limiter, clk, _ := newTestLimiter(Limits{Window: time.Minute, IPMax: 1, OrgMax: 1})
	ctx := context.Background()

	_, _ = limiter.Admit(ctx, "10.0.0.1", "")
	clk.Advance(30 * time.Second)
	_, _ = limiter.Admit(ctx, "10.0.0.2", "org-1")

	dec, err := limiter.Admit(ctx, "10.0.0.1", "org-1")
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, ScopeIP, dec.Scope)
	assert.Equal(t, 60, dec.RetryAfterSeconds())
}

func TestAdmit_ConcurrentHitsDoNotOvershoot(t *testing.T) {
	limiter, _, _ := newTestLimiter(Limits{Window: time.Minute, IPMax: 100, OrgMax: 1000})
	ctx := context.Background()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 400; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dec, err := limiter.Admit(ctx, "10.0.0.1", "")
			if err == nil && dec.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), allowed.Load())
}

type failingStore struct{}

func (failingStore) Hit(context.Context, string, time.Duration, time.Time) (model.RateCounter, error) {
	return model.RateCounter{}, errors.New("store down")
}

func TestAdmit_StoreErrorIsReturned(t *testing.T) {
	limiter := NewLimiter(failingStore{}, DefaultLimits, clock.NewFake(epoch))
	dec, err := limiter.Admit(context.Background(), "10.0.0.1", "org-1")
	assert.Error(t, err)
	assert.True(t, dec.Allowed)
}

// orgFailStore counts IP keys in memory and fails every organization key.
type orgFailStore struct {
	ip *MemoryStore
}

func (s orgFailStore) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (model.RateCounter, error) {
	if strings.HasPrefix(key, "org:") {
		return model.RateCounter{}, errors.New("org store down")
	}
	return s.ip.Hit(ctx, key, window, now)
}

func TestAdmit_IPDenialSurvivesOrgStoreError(t *testing.T) {
	limiter := NewLimiter(orgFailStore{ip: NewMemoryStore()}, Limits{Window: time.Minute, IPMax: 1, OrgMax: 10}, clock.NewFake(epoch))
	ctx := context.Background()

	dec, err := limiter.Admit(ctx, "10.0.0.1", "org-1")
	assert.Error(t, err)
	assert.True(t, dec.Allowed)

	dec, err = limiter.Admit(ctx, "10.0.0.1", "org-1")
	assert.Error(t, err)
	assert.False(t, dec.Allowed, "the IP scope was evaluated and denies")
	assert.Equal(t, ScopeIP, dec.Scope)
	assert.Equal(t, 60, dec.RetryAfterSeconds())
}
