package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"gatekeeper/internal/clock"
	"gatekeeper/internal/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSweeper struct{}

func (failingSweeper) Sweep(context.Context, time.Time) (int, error) {
	return 0, errors.New("boom")
}

type sweepCounts map[string]int

func (s sweepCounts) Swept(store string, n int) { s[store] += n }

func TestRunOnce(t *testing.T) {
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	store := ratelimit.NewMemoryStore()
	ctx := context.Background()
	_, _ = store.Hit(ctx, "ip:a", time.Minute, start)
	_, _ = store.Hit(ctx, "ip:b", time.Minute, start)

	counts := sweepCounts{}
	s := NewScheduler("@every 1m", []Job{
		{Name: "broken", Sweeper: failingSweeper{}},
		{Name: "ratelimit", Sweeper: store},
	}, clk, nil, counts)

	// We can't easily test the cron timing itself, so run the job directly.
	s.RunOnce()
	assert.Equal(t, 2, store.Len())

	clk.Advance(time.Minute)
	s.RunOnce()
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 2, counts["ratelimit"])
	_, recorded := counts["broken"]
	assert.False(t, recorded, "failed sweeps are not counted")
}

func TestStart(t *testing.T) {
	s := NewScheduler("@every 1h", []Job{{Name: "ratelimit", Sweeper: ratelimit.NewMemoryStore()}}, nil, nil, nil)
	require.NoError(t, s.Start())
	s.Stop()

	bad := NewScheduler("not a schedule", []Job{{Name: "ratelimit", Sweeper: ratelimit.NewMemoryStore()}}, nil, nil, nil)
	assert.Error(t, bad.Start())
}
