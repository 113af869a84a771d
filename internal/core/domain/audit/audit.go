package audit

import (
	"time"

	"github.com/google/uuid"
)

type AuditEntry struct {
	ID         uuid.UUID `json:"id"`
	Action     Action    `json:"action"`
	ResourceID string    `json:"resourceId"`
	TenantID   string    `json:"tenantId"`
	UserID     string    `json:"userId"`
	Changes    string    `json:"changes"`
	Timestamp  time.Time `json:"timestamp"`
}

type Action string

const (
	ActionCreatePolicy   Action = "CREATE_RATE_LIMIT_POLICY"
	ActionUpdatePolicy   Action = "UPDATE_RATE_LIMIT_POLICY"
	ActionRollbackPolicy Action = "ROLLBACK_RATE_LIMIT_POLICY"
)

// CreateAuditEntryRequest represents the request to record an audit entry
type CreateAuditEntryRequest struct {
	Action     Action `json:"action"`
	ResourceID string `json:"resourceId"`
	TenantID   string `json:"tenantId"`
	UserID     string `json:"userId"`
	Changes    string `json:"changes"`
}

// AuditFilter narrows audit queries. Zero values match everything.
type AuditFilter struct {
	TenantID string     `json:"tenantId,omitempty"`
	Action   *Action    `json:"action,omitempty"`
	Since    *time.Time `json:"since,omitempty"`
	Limit    int        `json:"limit"`
	Offset   int        `json:"offset"`
}

// Matches reports whether e passes the filter (pagination is applied by the caller).
func (f *AuditFilter) Matches(e *AuditEntry) bool {
	if f == nil {
		return true
	}
	if f.TenantID != "" && e.TenantID != f.TenantID {
		return false
	}
	if f.Action != nil && e.Action != *f.Action {
		return false
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	return true
}
