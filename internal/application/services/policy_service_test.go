package services_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	impl "github.com/avatarctic/ratelimit-planes/internal/application/services"
	"github.com/avatarctic/ratelimit-planes/internal/core/domain/audit"
	"github.com/avatarctic/ratelimit-planes/internal/core/domain/policy"
	"github.com/avatarctic/ratelimit-planes/test/mocks"
)

// versionStore backs PolicyRepositoryMock with a tenant -> history map.
type versionStore struct {
	history map[string][]policy.Policy
}

func newVersionStore() *versionStore {
	return &versionStore{history: map[string][]policy.Policy{}}
}

func (s *versionStore) repo() *mocks.PolicyRepositoryMock {
	return &mocks.PolicyRepositoryMock{
		CreateFn: func(ctx context.Context, p *policy.Policy) error {
			if _, ok := s.history[p.TenantID]; ok {
				return policy.ErrAlreadyExists
			}
			s.history[p.TenantID] = []policy.Policy{*p}
			return nil
		},
		SaveFn: func(ctx context.Context, p *policy.Policy) error {
			h := s.history[p.TenantID]
			if len(h) == 0 {
				return policy.ErrNotFound
			}
			if p.Version != h[len(h)-1].Version+1 {
				return policy.ErrVersionConflict
			}
			s.history[p.TenantID] = append(h, *p)
			return nil
		},
		GetByTenantFn: func(ctx context.Context, tenantID string) (*policy.Policy, error) {
			h := s.history[tenantID]
			if len(h) == 0 {
				return nil, fmt.Errorf("tenant %s: %w", tenantID, policy.ErrNotFound)
			}
			p := h[len(h)-1]
			return &p, nil
		},
		GetVersionFn: func(ctx context.Context, tenantID string, version int64) (*policy.Policy, error) {
			for _, p := range s.history[tenantID] {
				if p.Version == version {
					p := p
					return &p, nil
				}
			}
			return nil, policy.ErrVersionNotFound
		},
		ListVersionsFn: func(ctx context.Context, tenantID string) ([]*policy.Policy, error) {
			var out []*policy.Policy
			for _, p := range s.history[tenantID] {
				p := p
				out = append(out, &p)
			}
			return out, nil
		},
	}
}

func newPolicyService() (*impl.PolicyService, *versionStore, *mocks.PolicyEventsMock, *[]*audit.CreateAuditEntryRequest) {
	store := newVersionStore()
	events := &mocks.PolicyEventsMock{}
	var audited []*audit.CreateAuditEntryRequest
	auditSvc := &mocks.AuditServiceMock{LogActionFn: func(ctx context.Context, req *audit.CreateAuditEntryRequest) error {
		audited = append(audited, req)
		return nil
	}}
	return impl.NewPolicyService(store.repo(), auditSvc, events, nil), store, events, &audited
}

func TestCreatePolicy_StartsAtVersionOne(t *testing.T) {
	svc, _, events, audited := newPolicyService()

	p, err := svc.CreatePolicy(context.Background(), &policy.CreatePolicyRequest{TenantID: "acme", Limit: 10, Window: 60, UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Version)
	assert.NotEmpty(t, p.ID)
	require.Len(t, events.Snapshot(), 1)
	assert.Equal(t, policy.ChangeCreated, events.Snapshot()[0].Kind)
	require.Len(t, *audited, 1)
	assert.Equal(t, audit.ActionCreatePolicy, (*audited)[0].Action)
	assert.Equal(t, "limit=10, window=60", (*audited)[0].Changes)
}

func TestCreatePolicy_RejectsNonPositiveLimits(t *testing.T) {
	svc, _, events, _ := newPolicyService()
	_, err := svc.CreatePolicy(context.Background(), &policy.CreatePolicyRequest{TenantID: "acme", Limit: 0, Window: 60})
	require.ErrorIs(t, err, policy.ErrInvalidPolicy)
	assert.Empty(t, events.Snapshot())
}

func TestCreatePolicy_DuplicateTenant(t *testing.T) {
	svc, _, _, _ := newPolicyService()
	ctx := context.Background()
	_, err := svc.CreatePolicy(ctx, &policy.CreatePolicyRequest{TenantID: "acme", Limit: 1, Window: 1})
	require.NoError(t, err)
	_, err = svc.CreatePolicy(ctx, &policy.CreatePolicyRequest{TenantID: "acme", Limit: 1, Window: 1})
	require.ErrorIs(t, err, impl.ErrPolicyExists)
}

func TestUpdatePolicy_PartialUpdateBumpsVersion(t *testing.T) {
	svc, _, events, _ := newPolicyService()
	ctx := context.Background()
	_, err := svc.CreatePolicy(ctx, &policy.CreatePolicyRequest{TenantID: "acme", Limit: 10, Window: 60})
	require.NoError(t, err)

	limit := 25
	p, err := svc.UpdatePolicy(ctx, "acme", &policy.UpdatePolicyRequest{Limit: &limit})
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.Version)
	assert.Equal(t, 25, p.Limit)
	assert.Equal(t, 60, p.WindowSeconds)
	assert.Equal(t, policy.ChangeUpdated, events.Snapshot()[1].Kind)
}

func TestUpdatePolicy_UnknownTenant(t *testing.T) {
	svc, _, _, _ := newPolicyService()
	limit := 1
	_, err := svc.UpdatePolicy(context.Background(), "ghost", &policy.UpdatePolicyRequest{Limit: &limit})
	require.ErrorIs(t, err, impl.ErrPolicyNotFound)
}

func TestUpdatePolicy_RetriesVersionConflict(t *testing.T) {
	store := newVersionStore()
	repo := store.repo()
	save := repo.SaveFn
	conflicts := 1
	repo.SaveFn = func(ctx context.Context, p *policy.Policy) error {
		if conflicts > 0 {
			conflicts--
			return policy.ErrVersionConflict
		}
		return save(ctx, p)
	}
	store.history["acme"] = []policy.Policy{{ID: "p", TenantID: "acme", Version: 1, Limit: 1, WindowSeconds: 1}}
	svc := impl.NewPolicyService(repo, nil, nil, nil)

	limit := 2
	p, err := svc.UpdatePolicy(context.Background(), "acme", &policy.UpdatePolicyRequest{Limit: &limit})
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.Version)
}

func TestRollbackPolicy_IssuesNewVersionWithOldLimits(t *testing.T) {
	svc, store, events, audited := newPolicyService()
	ctx := context.Background()
	_, err := svc.CreatePolicy(ctx, &policy.CreatePolicyRequest{TenantID: "acme", Limit: 10, Window: 60})
	require.NoError(t, err)
	limit := 500
	_, err = svc.UpdatePolicy(ctx, "acme", &policy.UpdatePolicyRequest{Limit: &limit})
	require.NoError(t, err)

	p, err := svc.RollbackPolicy(ctx, "acme", &policy.RollbackPolicyRequest{TargetVersion: 1, Reason: "too generous"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), p.Version)
	assert.Equal(t, 10, p.Limit)
	assert.Len(t, store.history["acme"], 3)
	assert.Equal(t, policy.ChangeRolledBack, events.Snapshot()[2].Kind)
	assert.Equal(t, "to version 1: too generous", (*audited)[2].Changes)
}

func TestRollbackPolicy_UnknownVersion(t *testing.T) {
	svc, _, _, _ := newPolicyService()
	ctx := context.Background()
	_, err := svc.CreatePolicy(ctx, &policy.CreatePolicyRequest{TenantID: "acme", Limit: 10, Window: 60})
	require.NoError(t, err)

	_, err = svc.RollbackPolicy(ctx, "acme", &policy.RollbackPolicyRequest{TargetVersion: 9})
	require.ErrorIs(t, err, impl.ErrVersionNotFound)
}

func TestCreatePolicy_AuditFailureDoesNotUndoWrite(t *testing.T) {
	store := newVersionStore()
	auditSvc := &mocks.AuditServiceMock{LogActionFn: func(ctx context.Context, req *audit.CreateAuditEntryRequest) error {
		return errors.New("audit down")
	}}
	svc := impl.NewPolicyService(store.repo(), auditSvc, nil, nil)

	_, err := svc.CreatePolicy(context.Background(), &policy.CreatePolicyRequest{TenantID: "acme", Limit: 1, Window: 1})
	require.NoError(t, err)
	assert.Len(t, store.history["acme"], 1)
}

func TestListVersions_EmptyHistoryIsNotFound(t *testing.T) {
	svc, _, _, _ := newPolicyService()
	_, err := svc.ListVersions(context.Background(), "ghost")
	require.ErrorIs(t, err, impl.ErrPolicyNotFound)
}

func TestCountPolicies(t *testing.T) {
	repo := &mocks.PolicyRepositoryMock{CountFn: func(ctx context.Context) (int, error) { return 4, nil }}
	svc := impl.NewPolicyService(repo, &mocks.AuditServiceMock{}, &mocks.PolicyEventsMock{}, nil)
	n, err := svc.CountPolicies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	repo.CountFn = func(ctx context.Context) (int, error) { return 0, errors.New("db down") }
	_, err = svc.CountPolicies(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count policies")
}
