package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/avatarctic/ratelimit-planes/internal/core/domain/policy"
	"github.com/avatarctic/ratelimit-planes/internal/core/ports"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrInvalidRequest marks a caller input defect. It is never a capacity decision.
var ErrInvalidRequest = errors.New("invalid request")

// AdmissionService wires inbound requests to the rate limiter it owns and exposes
// the policy ingress shared by the pull, push, file and channel paths.
type AdmissionService struct {
	limiter  ports.RateLimiter
	registry ports.PolicyRegistry
	metrics  ports.MetricsRecorder
	now      func() time.Time
	logger   *logrus.Logger
}

func NewAdmissionService(limiter ports.RateLimiter, registry ports.PolicyRegistry, metrics ports.MetricsRecorder, logger *logrus.Logger) *AdmissionService {
	return &AdmissionService{limiter: limiter, registry: registry, metrics: metrics, now: time.Now, logger: logger}
}

// SetClock overrides the clock used to compute Retry-After.
func (s *AdmissionService) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Handle decides one request. Only a missing tenant identifier is an error.
func (s *AdmissionService) Handle(ctx context.Context, tenantID, requestID string) (*ports.AdmissionResult, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantId is required", ErrInvalidRequest)
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}

	d := s.limiter.Decide(ctx, tenantID)
	if s.metrics != nil {
		s.metrics.ObserveDecision(d.Allowed)
	}

	res := &ports.AdmissionResult{
		TenantID:      tenantID,
		RequestID:     requestID,
		Allowed:       d.Allowed,
		Count:         d.Count,
		Remaining:     d.Remaining(),
		Limit:         d.Policy.Limit,
		WindowSeconds: d.Policy.WindowSeconds,
		PolicyVersion: d.Policy.Version,
		ResetAt:       d.ResetAt,
	}
	if !d.Allowed {
		res.RetryAfter = retryAfterSeconds(d.ResetAt, s.now())
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{"tenant_id": tenantID, "request_id": requestID, "count": d.Count, "limit": d.Policy.Limit}).Debug("admission denied")
		}
	}
	return res, nil
}

func retryAfterSeconds(reset, now time.Time) int {
	secs := int(math.Ceil(reset.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// UpdateConfig validates p and hands it to the registry's version merge. The merge
// outcome is deliberately not returned.
func (s *AdmissionService) UpdateConfig(_ context.Context, p policy.Policy, source string) error {
	if err := p.Validate(); err != nil {
		return err
	}
	applied := s.registry.Update(p)
	if s.metrics != nil {
		s.metrics.ObservePolicyUpdate(source, applied)
	}
	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{"tenant_id": p.TenantID, "version": p.Version, "source": source, "applied": applied}).Debug("policy update received")
	}
	return nil
}

// PolicyCount is the number of cached overrides.
func (s *AdmissionService) PolicyCount() int {
	return s.registry.Count()
}

// Policies lists the cached overrides.
func (s *AdmissionService) Policies() []policy.Policy {
	return s.registry.Snapshot()
}
