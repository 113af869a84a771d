package ports

import (
	"context"
	"time"

	"github.com/avatarctic/ratelimit-planes/internal/core/domain/policy"
)

// Policy update sources, used for logging and metrics labels.
const (
	SourcePull = "pull"
	SourcePush = "push"
	SourceFile = "file"
	SourceBus  = "channel"
)

// AdmissionResult is what the admission endpoint reports back to a caller.
type AdmissionResult struct {
	TenantID      string    `json:"tenantId"`
	RequestID     string    `json:"requestId"`
	Allowed       bool      `json:"allowed"`
	Count         int64     `json:"count"`
	Remaining     int       `json:"remaining"`
	Limit         int       `json:"limit"`
	WindowSeconds int       `json:"window"`
	PolicyVersion int64     `json:"policyVersion"`
	ResetAt       time.Time `json:"resetAt"`
	// RetryAfter is the number of seconds until the current window resets; only set on deny.
	RetryAfter int `json:"retryAfter,omitempty"`
}

// AdmissionService is the request-facing facade of a data plane.
type AdmissionService interface {
	Handle(ctx context.Context, tenantID, requestID string) (*AdmissionResult, error)
	// UpdateConfig feeds a policy into the registry. It acknowledges without telling
	// the caller whether the policy was applied or superseded.
	UpdateConfig(ctx context.Context, p policy.Policy, source string) error
	PolicyCount() int
	Policies() []policy.Policy
}

// PolicyUpdater is the narrow ingress shared by every policy source (pull, push, file, channel).
type PolicyUpdater interface {
	UpdateConfig(ctx context.Context, p policy.Policy, source string) error
}
