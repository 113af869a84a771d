package services

import (
	"context"
	"time"

	"github.com/avatarctic/ratelimit-planes/internal/core/domain/policy"
	"github.com/avatarctic/ratelimit-planes/internal/core/ports"
	"github.com/sirupsen/logrus"
)

// RateLimiterService implements the fixed-window limiter: resolve the tenant's
// policy, increment the counter of the current clock-aligned window, and admit
// while the post-increment count is within the limit. Denied requests still
// consume quota.
type RateLimiterService struct {
	registry ports.PolicyRegistry
	counters ports.CounterStore
	now      func() time.Time
	logger   *logrus.Logger
}

// RateLimiterOption customises a rate limiter.
type RateLimiterOption func(*RateLimiterService)

// WithRateLimiterClock overrides the wall clock used for window selection.
func WithRateLimiterClock(now func() time.Time) RateLimiterOption {
	return func(s *RateLimiterService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewRateLimiterService(registry ports.PolicyRegistry, counters ports.CounterStore, logger *logrus.Logger, opts ...RateLimiterOption) *RateLimiterService {
	s := &RateLimiterService{registry: registry, counters: counters, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsAllowed implements ports.RateLimiter.
func (s *RateLimiterService) IsAllowed(tenantID string) bool {
	return s.Decide(context.Background(), tenantID).Allowed
}

// Decide implements ports.RateLimiter.
func (s *RateLimiterService) Decide(_ context.Context, tenantID string) ports.Decision {
	p := s.registry.Get(tenantID)
	now := s.now()
	idx := p.WindowIndex(now)
	count := s.counters.Increment(policy.CounterKey(tenantID, idx), p.WindowSeconds)

	start := p.WindowStart(now)
	d := ports.Decision{
		Allowed:     count <= int64(p.Limit),
		Count:       count,
		Policy:      p,
		WindowStart: start,
		ResetAt:     start.Add(p.Window()),
	}
	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{"tenant_id": tenantID, "count": count, "limit": p.Limit, "window": p.WindowSeconds, "allowed": d.Allowed}).Debug("rate limiter window state")
	}
	return d
}
