package registry

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/ratelimit-planes/internal/core/domain/policy"
)

const defaultShards = 32

type shard struct {
	mu       sync.RWMutex
	policies map[string]policy.Policy
}

// VersionedPolicyRegistry caches per-tenant policies and merges updates with
// last-writer-wins-by-version. Tenants are sharded so the sync agent merging one
// tenant never blocks admission lookups for another.
type VersionedPolicyRegistry struct {
	shards   []*shard
	mask     uint64
	defaults policy.Defaults
	logger   *logrus.Logger

	tenants atomic.Int64
	applied atomic.Uint64
}

// NewVersionedPolicyRegistry creates an empty registry falling back to defaults.
func NewVersionedPolicyRegistry(defaults policy.Defaults, logger *logrus.Logger) *VersionedPolicyRegistry {
	r := &VersionedPolicyRegistry{
		shards:   make([]*shard, defaultShards),
		mask:     defaultShards - 1,
		defaults: defaults,
		logger:   logger,
	}
	for i := range r.shards {
		r.shards[i] = &shard{policies: make(map[string]policy.Policy)}
	}
	return r
}

func (r *VersionedPolicyRegistry) shardFor(tenantID string) *shard {
	return r.shards[xxhash.Sum64String(tenantID)&r.mask]
}

// Get returns the cached policy for tenantID or the default policy.
func (r *VersionedPolicyRegistry) Get(tenantID string) policy.Policy {
	sh := r.shardFor(tenantID)
	sh.mu.RLock()
	p, ok := sh.policies[tenantID]
	sh.mu.RUnlock()
	if ok {
		return p
	}
	return r.defaults.For(tenantID)
}

// Lookup returns the cached override only.
func (r *VersionedPolicyRegistry) Lookup(tenantID string) (policy.Policy, bool) {
	sh := r.shardFor(tenantID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	p, ok := sh.policies[tenantID]
	return p, ok
}

// Update applies p if it is newer than the cached version. Equal or older versions and
// invalid records are dropped and false is returned.
func (r *VersionedPolicyRegistry) Update(p policy.Policy) bool {
	if err := p.Validate(); err != nil {
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"tenant_id": p.TenantID, "version": p.Version}).WithError(err).Warn("policy registry: rejected invalid policy")
		}
		return false
	}

	sh := r.shardFor(p.TenantID)
	sh.mu.Lock()
	current, exists := sh.policies[p.TenantID]
	if exists && !p.Supersedes(current) {
		sh.mu.Unlock()
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"tenant_id": p.TenantID, "incoming_version": p.Version, "current_version": current.Version}).Debug("policy registry: stale update discarded")
		}
		return false
	}
	sh.policies[p.TenantID] = p
	sh.mu.Unlock()

	if !exists {
		r.tenants.Add(1)
	}
	r.applied.Add(1)
	if r.logger != nil {
		r.logger.WithFields(logrus.Fields{"tenant_id": p.TenantID, "version": p.Version, "limit": p.Limit, "window": p.WindowSeconds}).Info("policy updated")
	}
	return true
}

// Count returns the number of tenants with a cached override.
func (r *VersionedPolicyRegistry) Count() int {
	return int(r.tenants.Load())
}

// AppliedTotal counts updates that replaced or created an entry.
func (r *VersionedPolicyRegistry) AppliedTotal() uint64 {
	return r.applied.Load()
}

// Defaults returns the fallback used for unknown tenants.
func (r *VersionedPolicyRegistry) Defaults() policy.Defaults {
	return r.defaults
}

// Snapshot copies every cached override, sorted by tenant.
func (r *VersionedPolicyRegistry) Snapshot() []policy.Policy {
	out := make([]policy.Policy, 0, r.Count())
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, p := range sh.policies {
			out = append(out, p)
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}
