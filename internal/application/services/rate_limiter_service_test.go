package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	impl "github.com/avatarctic/ratelimit-planes/internal/application/services"
	"github.com/avatarctic/ratelimit-planes/internal/core/domain/policy"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/counters"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/registry"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// epoch is aligned to a 60s boundary so offsets read as seconds into the window.
var epoch = time.Unix(6000, 0)

func newFixedWindow(clk *testClock) (*impl.RateLimiterService, *registry.VersionedPolicyRegistry) {
	reg := registry.NewVersionedPolicyRegistry(policy.Defaults{Limit: 100, WindowSeconds: 60}, nil)
	store := counters.NewWindowedCounterStore(8, counters.WithClock(clk.Now))
	return impl.NewRateLimiterService(reg, store, nil, impl.WithRateLimiterClock(clk.Now)), reg
}

func TestRateLimiter_DeniesLimitPlusOne(t *testing.T) {
	clk := &testClock{t: epoch}
	rl, reg := newFixedWindow(clk)
	require.True(t, reg.Update(policy.Policy{TenantID: "acme", Version: 1, Limit: 5, WindowSeconds: 60}))

	for i := 0; i < 5; i++ {
		assert.True(t, rl.IsAllowed("acme"), "request %d", i+1)
	}
	assert.False(t, rl.IsAllowed("acme"))
}

func TestRateLimiter_ReadmitsAfterWindowBoundary(t *testing.T) {
	clk := &testClock{t: epoch.Add(59 * time.Second)}
	rl, reg := newFixedWindow(clk)
	reg.Update(policy.Policy{TenantID: "acme", Version: 1, Limit: 1, WindowSeconds: 60})

	require.True(t, rl.IsAllowed("acme"))
	require.False(t, rl.IsAllowed("acme"))

	clk.Set(epoch.Add(60 * time.Second))
	assert.True(t, rl.IsAllowed("acme"))
}

func TestRateLimiter_ThreePerMinuteScenario(t *testing.T) {
	clk := &testClock{t: epoch}
	rl, reg := newFixedWindow(clk)
	reg.Update(policy.Policy{TenantID: "acme", Version: 1, Limit: 3, WindowSeconds: 60})
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d := rl.Decide(ctx, "acme")
		require.True(t, d.Allowed)
		require.Equal(t, int64(i), d.Count)
	}

	clk.Set(epoch.Add(10 * time.Second))
	d := rl.Decide(ctx, "acme")
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(4), d.Count)
	assert.Equal(t, 3, d.Policy.Limit)
	assert.Equal(t, 60, d.Policy.WindowSeconds)
	assert.Equal(t, epoch.Add(60*time.Second), d.ResetAt)
	assert.Equal(t, 0, d.Remaining())

	clk.Set(epoch.Add(61 * time.Second))
	d = rl.Decide(ctx, "acme")
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Count)
}

func TestRateLimiter_DeniedRequestsStillCount(t *testing.T) {
	clk := &testClock{t: epoch}
	rl, reg := newFixedWindow(clk)
	reg.Update(policy.Policy{TenantID: "acme", Version: 1, Limit: 1, WindowSeconds: 60})
	ctx := context.Background()

	rl.Decide(ctx, "acme")
	rl.Decide(ctx, "acme")
	d := rl.Decide(ctx, "acme")
	assert.Equal(t, int64(3), d.Count)
}

func TestRateLimiter_UsesDefaultPolicyForUnknownTenant(t *testing.T) {
	clk := &testClock{t: epoch}
	rl, _ := newFixedWindow(clk)

	d := rl.Decide(context.Background(), "unknown")
	assert.True(t, d.Allowed)
	assert.Equal(t, 100, d.Policy.Limit)
	assert.Equal(t, int64(0), d.Policy.Version)
}

func TestRateLimiter_TenantsAreIsolated(t *testing.T) {
	clk := &testClock{t: epoch}
	rl, reg := newFixedWindow(clk)
	reg.Update(policy.Policy{TenantID: "a", Version: 1, Limit: 1, WindowSeconds: 60})
	reg.Update(policy.Policy{TenantID: "b", Version: 1, Limit: 1, WindowSeconds: 60})

	require.True(t, rl.IsAllowed("a"))
	require.False(t, rl.IsAllowed("a"))
	assert.True(t, rl.IsAllowed("b"))
}

func TestRateLimiter_ConcurrentAdmitsExactlyLimit(t *testing.T) {
	clk := &testClock{t: epoch}
	rl, reg := newFixedWindow(clk)
	reg.Update(policy.Policy{TenantID: "acme", Version: 1, Limit: 50, WindowSeconds: 60})

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.IsAllowed("acme") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
}

func TestTokenBucket_RefillsContinuously(t *testing.T) {
	clk := &testClock{t: epoch}
	reg := registry.NewVersionedPolicyRegistry(policy.Defaults{}, nil)
	reg.Update(policy.Policy{TenantID: "acme", Version: 1, Limit: 2, WindowSeconds: 10})
	tb := impl.NewTokenBucketLimiter(reg, nil, clk.Now)
	ctx := context.Background()

	require.True(t, tb.Decide(ctx, "acme").Allowed)
	require.True(t, tb.Decide(ctx, "acme").Allowed)
	d := tb.Decide(ctx, "acme")
	require.False(t, d.Allowed)
	assert.Equal(t, int64(3), d.Count)
	assert.True(t, d.ResetAt.After(epoch))

	// 2 tokens per 10s: one token is back after 5s
	clk.Set(epoch.Add(5 * time.Second))
	assert.True(t, tb.Decide(ctx, "acme").Allowed)
	assert.False(t, tb.Decide(ctx, "acme").Allowed)
}

func TestTokenBucket_RebuildsOnNewPolicyVersion(t *testing.T) {
	clk := &testClock{t: epoch}
	reg := registry.NewVersionedPolicyRegistry(policy.Defaults{}, nil)
	reg.Update(policy.Policy{TenantID: "acme", Version: 1, Limit: 1, WindowSeconds: 60})
	tb := impl.NewTokenBucketLimiter(reg, nil, clk.Now)

	require.True(t, tb.IsAllowed("acme"))
	require.False(t, tb.IsAllowed("acme"))

	reg.Update(policy.Policy{TenantID: "acme", Version: 2, Limit: 3, WindowSeconds: 60})
	d := tb.Decide(context.Background(), "acme")
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(2), d.Policy.Version)
}
