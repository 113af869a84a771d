package registry_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avatarctic/ratelimit-planes/internal/core/domain/policy"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/registry"
)

func newRegistry() *registry.VersionedPolicyRegistry {
	return registry.NewVersionedPolicyRegistry(policy.Defaults{Limit: 100, WindowSeconds: 60}, nil)
}

func TestGet_FallsBackToDefault(t *testing.T) {
	r := newRegistry()
	p := r.Get("acme")
	assert.Equal(t, "acme", p.TenantID)
	assert.Equal(t, 100, p.Limit)
	assert.Equal(t, 60, p.WindowSeconds)
	assert.Equal(t, int64(0), p.Version)
	assert.Equal(t, 0, r.Count())
}

func TestUpdate_NewerReplacesOlderIgnored(t *testing.T) {
	r := newRegistry()
	require.True(t, r.Update(policy.Policy{TenantID: "acme", Version: 2, Limit: 20, WindowSeconds: 60}))
	require.False(t, r.Update(policy.Policy{TenantID: "acme", Version: 1, Limit: 10, WindowSeconds: 60}))

	got := r.Get("acme")
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, 20, got.Limit)
}

func TestUpdate_EqualVersionIsNoOp(t *testing.T) {
	r := newRegistry()
	require.True(t, r.Update(policy.Policy{TenantID: "acme", Version: 5, Limit: 10, WindowSeconds: 60}))
	applied := r.AppliedTotal()

	assert.False(t, r.Update(policy.Policy{TenantID: "acme", Version: 5, Limit: 999, WindowSeconds: 60}))
	assert.Equal(t, 10, r.Get("acme").Limit)
	assert.Equal(t, applied, r.AppliedTotal())
	assert.Equal(t, 1, r.Count())
}

func TestUpdate_RejectsInvalid(t *testing.T) {
	r := newRegistry()
	assert.False(t, r.Update(policy.Policy{TenantID: "", Version: 1, Limit: 1, WindowSeconds: 1}))
	assert.False(t, r.Update(policy.Policy{TenantID: "acme", Version: 1, Limit: 0, WindowSeconds: 1}))
	assert.Equal(t, 0, r.Count())
}

func TestUpdate_PushedOverrideReplacesDefault(t *testing.T) {
	r := newRegistry()
	assert.Equal(t, 100, r.Get("beta").Limit)
	r.Update(policy.Policy{TenantID: "beta", Version: 1, Limit: 7, WindowSeconds: 30})
	got := r.Get("beta")
	assert.Equal(t, 7, got.Limit)
	assert.Equal(t, 30, got.WindowSeconds)
}

func TestUpdate_ConcurrentConvergesOnHighestVersion(t *testing.T) {
	r := newRegistry()
	var wg sync.WaitGroup
	for v := int64(1); v <= 200; v++ {
		wg.Add(1)
		go func(v int64) {
			defer wg.Done()
			r.Update(policy.Policy{TenantID: "acme", Version: v, Limit: int(v), WindowSeconds: 60})
		}(v)
	}
	wg.Wait()

	got := r.Get("acme")
	assert.Equal(t, int64(200), got.Version)
	assert.Equal(t, 1, r.Count())
}

func TestSnapshot_SortedByTenant(t *testing.T) {
	r := newRegistry()
	for _, id := range []string{"c", "a", "b"} {
		r.Update(policy.Policy{TenantID: id, Version: 1, Limit: 1, WindowSeconds: 1})
	}
	snap := r.Snapshot()
	require.Len(t, snap, 3)
	for i, want := range []string{"a", "b", "c"} {
		assert.Equal(t, want, snap[i].TenantID, fmt.Sprintf("position %d", i))
	}
}
