package ports

import (
	"context"

	"github.com/avatarctic/ratelimit-planes/internal/core/domain/audit"
)

// AuditRepository defines the interface for audit entry storage
type AuditRepository interface {
	Create(ctx context.Context, entry *audit.AuditEntry) error
	List(ctx context.Context, filter *audit.AuditFilter) ([]*audit.AuditEntry, error)
	Count(ctx context.Context, filter *audit.AuditFilter) (int, error)
}

// AuditService defines the interface for audit logging business logic
type AuditService interface {
	LogAction(ctx context.Context, req *audit.CreateAuditEntryRequest) error
	GetAuditLog(ctx context.Context, filter *audit.AuditFilter) ([]*audit.AuditEntry, int, error)
}
