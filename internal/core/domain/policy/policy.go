package policy

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidPolicy is returned when a policy record fails validation.
	ErrInvalidPolicy = errors.New("invalid policy")
	ErrNotFound      = errors.New("policy not found")
	ErrAlreadyExists = errors.New("policy already exists")
	// ErrVersionNotFound is returned for a version absent from a tenant's history.
	ErrVersionNotFound = errors.New("policy version not found")
	// ErrVersionConflict means another writer stored the next version first.
	ErrVersionConflict = errors.New("policy version conflict")
)

// Policy is one tenant's admission rule. Version is assigned by the control plane
// and orders updates; arrival order never matters.
type Policy struct {
	ID            string    `json:"id" db:"id" yaml:"id"`
	TenantID      string    `json:"tenantId" db:"tenant_id" yaml:"tenantId"`
	Version       int64     `json:"version" db:"version" yaml:"version"`
	Limit         int       `json:"limit" db:"request_limit" yaml:"limit"`
	WindowSeconds int       `json:"window" db:"window_seconds" yaml:"window"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at" yaml:"createdAt,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt" db:"updated_at" yaml:"updatedAt,omitempty"`
}

// Validate checks the fields every policy must carry.
func (p *Policy) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil policy", ErrInvalidPolicy)
	}
	if strings.TrimSpace(p.TenantID) == "" {
		return fmt.Errorf("%w: tenantId is required", ErrInvalidPolicy)
	}
	if p.Limit <= 0 || p.WindowSeconds <= 0 {
		return fmt.Errorf("%w: limit and window must be positive", ErrInvalidPolicy)
	}
	if p.Version < 0 {
		return fmt.Errorf("%w: version must not be negative", ErrInvalidPolicy)
	}
	return nil
}

// Window returns the policy window as a duration.
func (p Policy) Window() time.Duration {
	return time.Duration(p.WindowSeconds) * time.Second
}

// Supersedes reports whether p should replace current under last-writer-wins-by-version.
// Equal versions never supersede, which keeps retransmissions idempotent.
func (p Policy) Supersedes(current Policy) bool {
	return p.Version > current.Version
}

// WindowIndex is floor(t / window) in whole seconds.
func (p Policy) WindowIndex(t time.Time) int64 {
	return WindowIndex(t, p.WindowSeconds)
}

// WindowIndex computes the fixed-window index of t for the given window length.
func WindowIndex(t time.Time, windowSeconds int) int64 {
	if windowSeconds <= 0 {
		windowSeconds = 1
	}
	secs := t.Unix()
	w := int64(windowSeconds)
	idx := secs / w
	// floor for instants before the epoch
	if secs%w != 0 && secs < 0 {
		idx--
	}
	return idx
}

// WindowStart returns the instant the window containing t began.
func (p Policy) WindowStart(t time.Time) time.Time {
	return time.Unix(p.WindowIndex(t)*int64(p.WindowSeconds), 0)
}

// CounterKey derives the counter key for tenantID in the window containing t.
func CounterKey(tenantID string, windowIndex int64) string {
	return fmt.Sprintf("%s:%d", tenantID, windowIndex)
}

// Defaults describes the process-wide fallback applied to tenants without an override.
type Defaults struct {
	Limit         int
	WindowSeconds int
}

const (
	DefaultLimit         = 100
	DefaultWindowSeconds = 60
)

// For returns the default policy for tenantID. Version 0 loses to any authority-issued policy.
func (d Defaults) For(tenantID string) Policy {
	limit, window := d.Limit, d.WindowSeconds
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindowSeconds
	}
	return Policy{TenantID: tenantID, Limit: limit, WindowSeconds: window}
}

// UpdatePolicyRequest is a partial update issued against the control plane.
type UpdatePolicyRequest struct {
	Limit  *int   `json:"limit,omitempty"`
	Window *int   `json:"window,omitempty"`
	UserID string `json:"userId"`
}

// CreatePolicyRequest defines a tenant's first policy.
type CreatePolicyRequest struct {
	TenantID string `json:"tenantId"`
	Limit    int    `json:"limit"`
	Window   int    `json:"window"`
	UserID   string `json:"userId"`
}

// RollbackPolicyRequest re-issues an older version's limits as a new version.
type RollbackPolicyRequest struct {
	TargetVersion int64  `json:"targetVersion"`
	Reason        string `json:"reason"`
	UserID        string `json:"userId"`
}

// ChangeKind names what produced a new policy version.
type ChangeKind string

const (
	ChangeCreated    ChangeKind = "created"
	ChangeUpdated    ChangeKind = "updated"
	ChangeRolledBack ChangeKind = "rolled_back"
)

// ChangeEvent is emitted on the control plane after a policy version is committed.
type ChangeEvent struct {
	Kind   ChangeKind
	Policy Policy
}
