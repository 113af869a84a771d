package ports

import (
	"context"

	"github.com/avatarctic/ratelimit-planes/internal/core/domain/policy"
)

// PolicyRepository persists the authoritative policy set and its version history.
type PolicyRepository interface {
	// Create stores the first version of a tenant's policy.
	Create(ctx context.Context, p *policy.Policy) error
	// Save stores p as the new current version. It fails when p.Version is not exactly
	// one greater than the stored version, so concurrent writers cannot both win.
	Save(ctx context.Context, p *policy.Policy) error
	GetByTenant(ctx context.Context, tenantID string) (*policy.Policy, error)
	GetVersion(ctx context.Context, tenantID string, version int64) (*policy.Policy, error)
	ListVersions(ctx context.Context, tenantID string) ([]*policy.Policy, error)
	List(ctx context.Context) ([]*policy.Policy, error)
	Count(ctx context.Context) (int, error)
}

// PolicyService is the control plane's business logic over PolicyRepository.
type PolicyService interface {
	CreatePolicy(ctx context.Context, req *policy.CreatePolicyRequest) (*policy.Policy, error)
	UpdatePolicy(ctx context.Context, tenantID string, req *policy.UpdatePolicyRequest) (*policy.Policy, error)
	RollbackPolicy(ctx context.Context, tenantID string, req *policy.RollbackPolicyRequest) (*policy.Policy, error)
	GetPolicy(ctx context.Context, tenantID string) (*policy.Policy, error)
	GetPolicyVersion(ctx context.Context, tenantID string, version int64) (*policy.Policy, error)
	ListVersions(ctx context.Context, tenantID string) ([]*policy.Policy, error)
	ListPolicies(ctx context.Context) ([]*policy.Policy, error)
	CountPolicies(ctx context.Context) (int, error)
}

// PolicyPusher delivers one policy to every data plane it knows about.
type PolicyPusher interface {
	Push(ctx context.Context, p *policy.Policy) error
}

// PolicyPublisher broadcasts a policy on a shared channel.
type PolicyPublisher interface {
	Publish(ctx context.Context, p *policy.Policy) error
}

// PolicyEventPublisher announces committed policy changes to in-process subscribers.
type PolicyEventPublisher interface {
	PolicyChanged(evt policy.ChangeEvent)
}
