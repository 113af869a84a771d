package repositories_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avatarctic/ratelimit-planes/internal/core/domain/policy"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/db"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/repositories"
)

func newSQLiteRepo(t *testing.T) *repositories.PolicyRepository {
	t.Helper()
	database, err := db.NewSQLiteDatabase(filepath.Join(t.TempDir(), "policies.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, database.Migrate())
	// a second run is a no-op
	require.NoError(t, database.Migrate())
	return repositories.NewPolicyRepository(database, nil)
}

func samplePolicy(tenant string) *policy.Policy {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &policy.Policy{ID: "policy-" + tenant, TenantID: tenant, Version: 1, Limit: 10, WindowSeconds: 60, CreatedAt: now, UpdatedAt: now}
}

func TestPolicyRepository_CreateAndGet(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, samplePolicy("acme")))
	got, err := repo.GetByTenant(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "policy-acme", got.ID)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, 10, got.Limit)
	assert.Equal(t, 60, got.WindowSeconds)
	assert.True(t, got.CreatedAt.Equal(samplePolicy("acme").CreatedAt))

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPolicyRepository_CreateDuplicate(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, samplePolicy("acme")))
	require.ErrorIs(t, repo.Create(ctx, samplePolicy("acme")), policy.ErrAlreadyExists)
}

func TestPolicyRepository_GetMissing(t *testing.T) {
	repo := newSQLiteRepo(t)
	_, err := repo.GetByTenant(context.Background(), "ghost")
	require.ErrorIs(t, err, policy.ErrNotFound)
	_, err = repo.GetVersion(context.Background(), "ghost", 1)
	require.ErrorIs(t, err, policy.ErrVersionNotFound)
}

func TestPolicyRepository_SaveRequiresNextVersion(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	p := samplePolicy("acme")
	require.NoError(t, repo.Create(ctx, p))

	v2 := *p
	v2.Version, v2.Limit = 2, 20
	require.NoError(t, repo.Save(ctx, &v2))

	stale := *p
	stale.Version, stale.Limit = 2, 99
	require.ErrorIs(t, repo.Save(ctx, &stale), policy.ErrVersionConflict)

	ghost := *samplePolicy("ghost")
	ghost.Version = 2
	require.ErrorIs(t, repo.Save(ctx, &ghost), policy.ErrNotFound)

	got, err := repo.GetByTenant(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, 20, got.Limit)
}

func TestPolicyRepository_VersionHistory(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	p := samplePolicy("acme")
	require.NoError(t, repo.Create(ctx, p))
	for v := int64(2); v <= 3; v++ {
		next := *p
		next.Version, next.Limit = v, int(v)*10
		require.NoError(t, repo.Save(ctx, &next))
	}

	versions, err := repo.ListVersions(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	for i, v := range versions {
		assert.Equal(t, int64(i+1), v.Version)
	}

	v2, err := repo.GetVersion(ctx, "acme", 2)
	require.NoError(t, err)
	assert.Equal(t, 20, v2.Limit)
}

func TestPolicyRepository_ListOrderedByTenant(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	empty, err := repo.List(ctx)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	for _, id := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, repo.Create(ctx, samplePolicy(id)))
	}
	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "alpha", all[0].TenantID)
	assert.Equal(t, "zeta", all[2].TenantID)
}
