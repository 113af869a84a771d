package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avatarctic/ratelimit-planes/internal/core/domain/audit"
	"github.com/avatarctic/ratelimit-planes/internal/core/domain/policy"
	"github.com/avatarctic/ratelimit-planes/internal/core/ports"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Control plane errors, mapped to HTTP status codes by the handlers.
var (
	ErrPolicyNotFound  = policy.ErrNotFound
	ErrPolicyExists    = policy.ErrAlreadyExists
	ErrVersionNotFound = policy.ErrVersionNotFound
)

// maxSaveAttempts bounds optimistic retries when concurrent writers race on a tenant.
const maxSaveAttempts = 3

// PolicyService is the authority for policy versions. Every committed write is
// audited and announced on the event publisher so it can be pushed to data planes.
type PolicyService struct {
	repo   ports.PolicyRepository
	audit  ports.AuditService
	events ports.PolicyEventPublisher
	now    func() time.Time
	logger *logrus.Logger
}

func NewPolicyService(repo ports.PolicyRepository, auditService ports.AuditService, events ports.PolicyEventPublisher, logger *logrus.Logger) *PolicyService {
	return &PolicyService{
		repo:   repo,
		audit:  auditService,
		events: events,
		now:    time.Now,
		logger: logger,
	}
}

func (s *PolicyService) CreatePolicy(ctx context.Context, req *policy.CreatePolicyRequest) (*policy.Policy, error) {
	now := s.now().UTC()
	p := &policy.Policy{
		ID:            "policy-" + uuid.NewString(),
		TenantID:      strings.TrimSpace(req.TenantID),
		Version:       1,
		Limit:         req.Limit,
		WindowSeconds: req.Window,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, p); err != nil {
		if errors.Is(err, policy.ErrAlreadyExists) {
			return nil, fmt.Errorf("tenant '%s': %w", p.TenantID, ErrPolicyExists)
		}
		return nil, fmt.Errorf("failed to create policy: %w", err)
	}

	s.recordAudit(ctx, audit.ActionCreatePolicy, p, req.UserID, fmt.Sprintf("limit=%d, window=%d", p.Limit, p.WindowSeconds))
	s.announce(policy.ChangeCreated, p)
	return p, nil
}

func (s *PolicyService) UpdatePolicy(ctx context.Context, tenantID string, req *policy.UpdatePolicyRequest) (*policy.Policy, error) {
	next, err := s.commitNext(ctx, tenantID, func(current *policy.Policy) (*policy.Policy, error) {
		np := *current
		if req.Limit != nil {
			np.Limit = *req.Limit
		}
		if req.Window != nil {
			np.WindowSeconds = *req.Window
		}
		return &np, nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, audit.ActionUpdatePolicy, next, req.UserID, fmt.Sprintf("version=%d", next.Version))
	s.announce(policy.ChangeUpdated, next)
	return next, nil
}

// RollbackPolicy issues a new version (current+1) carrying the limits of TargetVersion.
// History is never rewritten, so data planes always see a strictly increasing version.
func (s *PolicyService) RollbackPolicy(ctx context.Context, tenantID string, req *policy.RollbackPolicyRequest) (*policy.Policy, error) {
	target, err := s.repo.GetVersion(ctx, tenantID, req.TargetVersion)
	if err != nil {
		return nil, err
	}

	next, err := s.commitNext(ctx, tenantID, func(current *policy.Policy) (*policy.Policy, error) {
		np := *current
		np.Limit = target.Limit
		np.WindowSeconds = target.WindowSeconds
		return &np, nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, audit.ActionRollbackPolicy, next, req.UserID, fmt.Sprintf("to version %d: %s", req.TargetVersion, req.Reason))
	s.announce(policy.ChangeRolledBack, next)
	return next, nil
}

// commitNext reads the current version, applies mutate and saves the result as
// version+1, retrying when another writer got there first.
func (s *PolicyService) commitNext(ctx context.Context, tenantID string, mutate func(*policy.Policy) (*policy.Policy, error)) (*policy.Policy, error) {
	var lastErr error
	for attempt := 1; attempt <= maxSaveAttempts; attempt++ {
		current, err := s.repo.GetByTenant(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		next, err := mutate(current)
		if err != nil {
			return nil, err
		}
		next.Version = current.Version + 1
		next.UpdatedAt = s.now().UTC()
		if err := next.Validate(); err != nil {
			return nil, err
		}

		err = s.repo.Save(ctx, next)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, policy.ErrVersionConflict) {
			return nil, fmt.Errorf("failed to save policy: %w", err)
		}
		lastErr = err
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{"tenant_id": tenantID, "version": next.Version, "attempt": attempt}).Debug("policy version conflict; retrying")
		}
	}
	return nil, fmt.Errorf("failed to save policy after %d attempts: %w", maxSaveAttempts, lastErr)
}

func (s *PolicyService) GetPolicy(ctx context.Context, tenantID string) (*policy.Policy, error) {
	return s.repo.GetByTenant(ctx, tenantID)
}

func (s *PolicyService) GetPolicyVersion(ctx context.Context, tenantID string, version int64) (*policy.Policy, error) {
	return s.repo.GetVersion(ctx, tenantID, version)
}

func (s *PolicyService) ListVersions(ctx context.Context, tenantID string) ([]*policy.Policy, error) {
	versions, err := s.repo.ListVersions(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, ErrPolicyNotFound
	}
	return versions, nil
}

func (s *PolicyService) ListPolicies(ctx context.Context) ([]*policy.Policy, error) {
	return s.repo.List(ctx)
}

// CountPolicies is the number of tenants with a current policy.
func (s *PolicyService) CountPolicies(ctx context.Context) (int, error) {
	n, err := s.repo.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count policies: %w", err)
	}
	return n, nil
}

// Audit failures are logged and never undo a committed write.
func (s *PolicyService) recordAudit(ctx context.Context, action audit.Action, p *policy.Policy, userID, changes string) {
	if s.audit == nil {
		return
	}
	err := s.audit.LogAction(ctx, &audit.CreateAuditEntryRequest{
		Action:     action,
		ResourceID: p.ID,
		TenantID:   p.TenantID,
		UserID:     userID,
		Changes:    changes,
	})
	if err != nil && s.logger != nil {
		s.logger.WithFields(logrus.Fields{"tenant_id": p.TenantID, "action": action}).WithError(err).Warn("failed to audit policy change")
	}
}

func (s *PolicyService) announce(kind policy.ChangeKind, p *policy.Policy) {
	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{"tenant_id": p.TenantID, "version": p.Version, "limit": p.Limit, "window": p.WindowSeconds, "change": kind}).Info("policy committed")
	}
	if s.events != nil {
		s.events.PolicyChanged(policy.ChangeEvent{Kind: kind, Policy: *p})
	}
}
