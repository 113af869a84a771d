package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/avatarctic/ratelimit-planes/internal/core/domain/policy"
	"github.com/avatarctic/ratelimit-planes/internal/core/ports"
	"golang.org/x/sync/singleflight"
)

var sf singleflight.Group

// Utility helpers
func cacheSetSilently(c ports.Cache, ctx context.Context, key string, v any, ttl time.Duration) {
	if c == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = c.Set(ctx, key, b, ttl)
}

func cacheGet[T any](c ports.Cache, ctx context.Context, key string) (*T, bool) {
	if c == nil {
		return nil, false
	}
	b, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, false
	}
	return &v, true
}

// loadFullListWithSingleflight coalesces a full-list load using singleflight, caches the
// full list and optional count, and returns the list. The loader should fetch the
// complete list when called. When fresh is set, a load that it reports as overtaken by
// a write is returned to callers but never left in the cache.
func loadFullListWithSingleflight[T any](cache ports.Cache, ctx context.Context, sfKey, listKey, countKey string, ttl time.Duration, fresh func() bool, loader func() ([]T, error)) ([]T, error) {
	if cache != nil {
		if v, ok := cacheGet[[]T](cache, ctx, listKey); ok {
			return *v, nil
		}
	}
	res, err, _ := sf.Do(sfKey, func() (any, error) {
		if cache != nil {
			if v, ok := cacheGet[[]T](cache, ctx, listKey); ok {
				return *v, nil
			}
		}
		all, err := loader()
		if err != nil {
			return nil, err
		}
		if cache != nil && (fresh == nil || fresh()) {
			cacheSetSilently(cache, ctx, listKey, all, ttl)
			if countKey != "" {
				cacheSetSilently(cache, ctx, countKey, len(all), ttl)
			}
			if fresh != nil && !fresh() {
				// a write landed between the check and the set
				_ = cache.Delete(ctx, listKey)
				if countKey != "" {
					_ = cache.Delete(ctx, countKey)
				}
			}
		}
		return all, nil
	})
	if err != nil {
		return nil, err
	}
	all, ok := res.([]T)
	if !ok {
		return nil, fmt.Errorf("unexpected type from singleflight result")
	}
	return all, nil
}

const (
	policiesAllKey   = "policies:all"
	policiesCountKey = "policies:count"
)

func policyTenantKey(tenantID string) string { return "policy:tenant:" + tenantID }

// CachingPolicyRepository decorates a PolicyRepository with cache-aside. Only the
// current-policy reads are cached; the list read is the data planes' pull path and
// is coalesced so a fleet polling at once costs one query per TTL.
type CachingPolicyRepository struct {
	inner ports.PolicyRepository
	cache ports.Cache
	ttl   time.Duration
	// writes counts committed writes; a list load started before a write must not
	// repopulate the cache with what it read.
	writes atomic.Uint64
}

func NewCachingPolicyRepository(inner ports.PolicyRepository, cache ports.Cache, ttl time.Duration) *CachingPolicyRepository {
	return &CachingPolicyRepository{inner: inner, cache: cache, ttl: ttl}
}

func (c *CachingPolicyRepository) invalidate(ctx context.Context, p *policy.Policy) {
	if c.cache == nil {
		return
	}
	c.writes.Add(1)
	cacheSetSilently(c.cache, ctx, policyTenantKey(p.TenantID), p, c.ttl)
	// Invalidate full-list / count caches
	_ = c.cache.Delete(ctx, policiesAllKey)
	_ = c.cache.Delete(ctx, policiesCountKey)
}

func (c *CachingPolicyRepository) Create(ctx context.Context, p *policy.Policy) error {
	if err := c.inner.Create(ctx, p); err != nil {
		return err
	}
	c.invalidate(ctx, p)
	return nil
}

func (c *CachingPolicyRepository) Save(ctx context.Context, p *policy.Policy) error {
	if err := c.inner.Save(ctx, p); err != nil {
		if errors.Is(err, policy.ErrVersionConflict) && c.cache != nil {
			// another writer moved ahead; the next read must reach the store
			_ = c.cache.Delete(ctx, policyTenantKey(p.TenantID))
		}
		return err
	}
	c.invalidate(ctx, p)
	return nil
}

// GetByTenant feeds the read-modify-write path of updates; a stale hit costs one
// version conflict, which also evicts the entry.
func (c *CachingPolicyRepository) GetByTenant(ctx context.Context, tenantID string) (*policy.Policy, error) {
	if v, ok := cacheGet[policy.Policy](c.cache, ctx, policyTenantKey(tenantID)); ok {
		return v, nil
	}
	p, err := c.inner.GetByTenant(ctx, tenantID)
	if err == nil {
		cacheSetSilently(c.cache, ctx, policyTenantKey(tenantID), p, c.ttl)
	}
	return p, err
}

func (c *CachingPolicyRepository) GetVersion(ctx context.Context, tenantID string, version int64) (*policy.Policy, error) {
	return c.inner.GetVersion(ctx, tenantID, version)
}

func (c *CachingPolicyRepository) ListVersions(ctx context.Context, tenantID string) ([]*policy.Policy, error) {
	return c.inner.ListVersions(ctx, tenantID)
}

func (c *CachingPolicyRepository) List(ctx context.Context) ([]*policy.Policy, error) {
	gen := c.writes.Load()
	fresh := func() bool { return c.writes.Load() == gen }
	return loadFullListWithSingleflight(c.cache, ctx, "policies:list", policiesAllKey, policiesCountKey, c.ttl, fresh, func() ([]*policy.Policy, error) {
		return c.inner.List(ctx)
	})
}

func (c *CachingPolicyRepository) Count(ctx context.Context) (int, error) {
	if v, ok := cacheGet[int](c.cache, ctx, policiesCountKey); ok {
		return *v, nil
	}
	gen := c.writes.Load()
	n, err := c.inner.Count(ctx)
	if err == nil && c.writes.Load() == gen {
		cacheSetSilently(c.cache, ctx, policiesCountKey, n, c.ttl)
	}
	return n, err
}
