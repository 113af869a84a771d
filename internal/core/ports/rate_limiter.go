package ports

import (
	"context"
	"time"

	"github.com/avatarctic/ratelimit-planes/internal/core/domain/policy"
)

// CounterStore holds per-key fixed-window counters. Implementations must make
// Increment atomic per key and must be safe for concurrent use.
type CounterStore interface {
	// Increment adds one to the live counter for key, creating it with an expiry of
	// now+windowSeconds when absent or expired, and returns the post-increment value.
	Increment(key string, windowSeconds int) int64
	// Peek returns the live count for key, or 0 when absent or expired.
	Peek(key string) int64
}

// PolicyRegistry is the data plane's local cache of per-tenant policies.
type PolicyRegistry interface {
	// Get returns the tenant's policy or the process-wide default. Never fails.
	Get(tenantID string) policy.Policy
	// Update applies p when no policy is cached for the tenant or the cached one has a
	// strictly smaller version. It reports whether p was applied.
	Update(p policy.Policy) bool
	// Count is the number of tenants with a cached override.
	Count() int
	// Snapshot lists every cached override.
	Snapshot() []policy.Policy
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed     bool
	Count       int64
	Policy      policy.Policy
	WindowStart time.Time
	ResetAt     time.Time
}

// Remaining is the number of further requests the window admits (never negative).
func (d Decision) Remaining() int {
	r := int64(d.Policy.Limit) - d.Count
	if r < 0 {
		return 0
	}
	return int(r)
}

// RateLimiter produces admission decisions from local state only.
// Implementations MUST be safe for concurrent use and MUST NOT perform network I/O.
type RateLimiter interface {
	// IsAllowed consumes one request unit for the tenant and reports whether it is permitted.
	IsAllowed(tenantID string) bool
	// Decide is IsAllowed with the full decision context.
	Decide(ctx context.Context, tenantID string) Decision
}
