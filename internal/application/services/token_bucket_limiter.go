package services

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/avatarctic/ratelimit-planes/internal/core/domain/policy"
	"github.com/avatarctic/ratelimit-planes/internal/core/ports"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type bucket struct {
	policy  policy.Policy
	limiter *rate.Limiter
}

// TokenBucketLimiter is the opt-in alternative to RateLimiterService. Each tenant gets
// a bucket of capacity limit refilled at limit/window tokens per second. Unlike the
// fixed window, a denied request does not consume a token.
type TokenBucketLimiter struct {
	registry ports.PolicyRegistry
	buckets  sync.Map // tenantID -> *bucket
	now      func() time.Time
	logger   *logrus.Logger
}

// NewTokenBucketLimiter creates the limiter; a nil now uses the wall clock.
func NewTokenBucketLimiter(registry ports.PolicyRegistry, logger *logrus.Logger, now func() time.Time) *TokenBucketLimiter {
	if now == nil {
		now = time.Now
	}
	return &TokenBucketLimiter{registry: registry, now: now, logger: logger}
}

func newBucket(p policy.Policy, now time.Time) *bucket {
	every := rate.Limit(float64(p.Limit) / float64(p.WindowSeconds))
	l := rate.NewLimiter(every, p.Limit)
	// start full at the caller's clock, not the wall clock
	l.SetLimitAt(now, every)
	return &bucket{policy: p, limiter: l}
}

func (l *TokenBucketLimiter) bucketFor(p policy.Policy, now time.Time) *bucket {
	if v, ok := l.buckets.Load(p.TenantID); ok {
		b := v.(*bucket)
		if b.policy.Version == p.Version && b.policy.Limit == p.Limit && b.policy.WindowSeconds == p.WindowSeconds {
			return b
		}
		nb := newBucket(p, now)
		if l.buckets.CompareAndSwap(p.TenantID, b, nb) {
			return nb
		}
		v, _ = l.buckets.Load(p.TenantID)
		return v.(*bucket)
	}
	v, _ := l.buckets.LoadOrStore(p.TenantID, newBucket(p, now))
	return v.(*bucket)
}

// IsAllowed implements ports.RateLimiter.
func (l *TokenBucketLimiter) IsAllowed(tenantID string) bool {
	return l.Decide(context.Background(), tenantID).Allowed
}

// Decide implements ports.RateLimiter. Count reports the tokens in use after the decision.
func (l *TokenBucketLimiter) Decide(_ context.Context, tenantID string) ports.Decision {
	p := l.registry.Get(tenantID)
	now := l.now()
	b := l.bucketFor(p, now)

	allowed := b.limiter.AllowN(now, 1)
	tokens := b.limiter.TokensAt(now)
	used := int64(p.Limit) - int64(math.Floor(tokens))
	if !allowed {
		// the rejected request is reported but not charged
		used = int64(p.Limit) + 1
	}

	missing := float64(p.Limit) - tokens
	refill := time.Duration(missing / float64(b.limiter.Limit()) * float64(time.Second))
	if l.logger != nil {
		l.logger.WithFields(logrus.Fields{"tenant_id": tenantID, "tokens": tokens, "limit": p.Limit, "allowed": allowed}).Debug("token bucket state")
	}
	return ports.Decision{
		Allowed:     allowed,
		Count:       used,
		Policy:      p,
		WindowStart: now,
		ResetAt:     now.Add(refill),
	}
}
