package services

import (
	"context"
	"time"

	"github.com/avatarctic/ratelimit-planes/internal/core/domain/audit"
	"github.com/avatarctic/ratelimit-planes/internal/core/ports"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type AuditService struct {
	repo   ports.AuditRepository
	now    func() time.Time
	logger *logrus.Logger
}

func NewAuditService(repo ports.AuditRepository, logger *logrus.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		now:    time.Now,
		logger: logger,
	}
}

type auditCtxKey struct{}

// WithAuditDisabled marks ctx so that LogAction skips recording. Used by the
// reconciler, whose re-pushes are not user actions.
func WithAuditDisabled(ctx context.Context) context.Context {
	return context.WithValue(ctx, auditCtxKey{}, false)
}

// AuditEnabled reports whether ctx allows auditing. Defaults to true.
func (s *AuditService) AuditEnabled(ctx context.Context) bool {
	if enabled, ok := ctx.Value(auditCtxKey{}).(bool); ok {
		return enabled
	}
	return true
}

func (s *AuditService) LogAction(ctx context.Context, req *audit.CreateAuditEntryRequest) error {
	if !s.AuditEnabled(ctx) {
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{"tenant_id": req.TenantID, "action": req.Action}).Debug("audit disabled; skipping entry")
		}
		return nil
	}

	entry := &audit.AuditEntry{
		ID:         uuid.New(),
		Action:     req.Action,
		ResourceID: req.ResourceID,
		TenantID:   req.TenantID,
		UserID:     req.UserID,
		Changes:    req.Changes,
		Timestamp:  s.now().UTC(),
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{"tenant_id": req.TenantID, "user_id": req.UserID, "action": req.Action}).WithError(err).Error("failed to record audit entry")
		}
		return err
	}
	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{"tenant_id": req.TenantID, "user_id": req.UserID, "action": req.Action, "resource_id": req.ResourceID}).Debug("audit entry recorded")
	}
	return nil
}

func (s *AuditService) GetAuditLog(ctx context.Context, filter *audit.AuditFilter) ([]*audit.AuditEntry, int, error) {
	entries, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	total, err := s.repo.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}
