package ports

import (
	"context"
	"time"

	"github.com/avatarctic/ratelimit-planes/internal/core/domain/policy"
)

// PolicySource is the read-only pull contract of the control plane.
type PolicySource interface {
	FetchPolicies(ctx context.Context) ([]policy.Policy, error)
	// Endpoint identifies the upstream for logs and the status surface.
	Endpoint() string
}

// SyncResult summarises one pull-and-merge cycle.
type SyncResult struct {
	Fetched  int           `json:"fetched"`
	Applied  int           `json:"applied"`
	Duration time.Duration `json:"duration"`
}

// SyncStatus is the observable state of the policy sync agent.
type SyncStatus struct {
	State               string    `json:"state"`
	Endpoint            string    `json:"endpoint"`
	Interval            string    `json:"interval"`
	LastAttempt         time.Time `json:"lastAttempt,omitempty"`
	LastSuccess         time.Time `json:"lastSuccess,omitempty"`
	LastError           string    `json:"lastError,omitempty"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastFetched         int       `json:"lastFetched"`
	LastApplied         int       `json:"lastApplied"`
}

// PolicySyncer is the control surface of the background sync agent.
type PolicySyncer interface {
	Run(ctx context.Context) error
	SyncNow(ctx context.Context) (SyncResult, error)
	Status() SyncStatus
}
