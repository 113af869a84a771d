package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/ratelimit-planes/internal/core/domain/policy"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/db"
)

const policyColumns = `id, tenant_id, version, request_limit, window_seconds, created_at, updated_at`

// PolicyRepository stores the current policy per tenant plus every historical
// version. Queries are written with '?' placeholders and rebound per driver.
type PolicyRepository struct {
	db     *db.Database
	logger *logrus.Logger
}

// NewPolicyRepository creates a new SQL-backed policy repository
func NewPolicyRepository(database *db.Database, logger *logrus.Logger) *PolicyRepository {
	return &PolicyRepository{
		db:     database,
		logger: logger,
	}
}

func (r *PolicyRepository) q(query string) string {
	return r.db.DB.Rebind(query)
}

// Create stores version 1 of a tenant's policy.
func (r *PolicyRepository) Create(ctx context.Context, p *policy.Policy) error {
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		var n int
		if err := tx.GetContext(ctx, &n, r.q(`SELECT COUNT(*) FROM rate_limit_policies WHERE tenant_id = ?`), p.TenantID); err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("tenant %s: %w", p.TenantID, policy.ErrAlreadyExists)
		}
		if _, err := tx.ExecContext(ctx, r.q(`INSERT INTO rate_limit_policies (`+policyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`),
			p.ID, p.TenantID, p.Version, p.Limit, p.WindowSeconds, p.CreatedAt, p.UpdatedAt); err != nil {
			return err
		}
		return r.insertVersion(ctx, tx, p)
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("tenant %s: %w", p.TenantID, policy.ErrAlreadyExists)
	}
	if err != nil && !errors.Is(err, policy.ErrAlreadyExists) {
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"tenant_id": p.TenantID}).WithError(err).Error("db: failed to create policy")
		}
		return fmt.Errorf("failed to create policy: %w", err)
	}
	return err
}

// Save makes p the current version. The update only matches when the stored version
// is p.Version-1, which serialises concurrent writers without row locks.
func (r *PolicyRepository) Save(ctx context.Context, p *policy.Policy) error {
	p.UpdatedAt = p.UpdatedAt.UTC()
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, r.q(`
			UPDATE rate_limit_policies
			SET version = ?, request_limit = ?, window_seconds = ?, updated_at = ?
			WHERE tenant_id = ? AND version = ?`),
			p.Version, p.Limit, p.WindowSeconds, p.UpdatedAt, p.TenantID, p.Version-1)
		if err != nil {
			return fmt.Errorf("failed to update policy: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			var n int
			if err := tx.GetContext(ctx, &n, r.q(`SELECT COUNT(*) FROM rate_limit_policies WHERE tenant_id = ?`), p.TenantID); err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("tenant %s: %w", p.TenantID, policy.ErrNotFound)
			}
			return fmt.Errorf("tenant %s version %d: %w", p.TenantID, p.Version, policy.ErrVersionConflict)
		}
		return r.insertVersion(ctx, tx, p)
	})
}

func (r *PolicyRepository) insertVersion(ctx context.Context, tx *sqlx.Tx, p *policy.Policy) error {
	_, err := tx.ExecContext(ctx, r.q(`INSERT INTO rate_limit_policy_versions (`+policyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		p.ID, p.TenantID, p.Version, p.Limit, p.WindowSeconds, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to record policy version: %w", err)
	}
	return nil
}

func (r *PolicyRepository) GetByTenant(ctx context.Context, tenantID string) (*policy.Policy, error) {
	var p policy.Policy
	err := r.db.DB.GetContext(ctx, &p, r.q(`SELECT `+policyColumns+` FROM rate_limit_policies WHERE tenant_id = ?`), tenantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tenant %s: %w", tenantID, policy.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}
	return &p, nil
}

func (r *PolicyRepository) GetVersion(ctx context.Context, tenantID string, version int64) (*policy.Policy, error) {
	var p policy.Policy
	err := r.db.DB.GetContext(ctx, &p, r.q(`SELECT `+policyColumns+` FROM rate_limit_policy_versions WHERE tenant_id = ? AND version = ?`), tenantID, version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tenant %s version %d: %w", tenantID, version, policy.ErrVersionNotFound)
		}
		return nil, fmt.Errorf("failed to get policy version: %w", err)
	}
	return &p, nil
}

// ListVersions returns a tenant's history, oldest first.
func (r *PolicyRepository) ListVersions(ctx context.Context, tenantID string) ([]*policy.Policy, error) {
	var out []*policy.Policy
	err := r.db.DB.SelectContext(ctx, &out, r.q(`SELECT `+policyColumns+` FROM rate_limit_policy_versions WHERE tenant_id = ? ORDER BY version`), tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list policy versions: %w", err)
	}
	return out, nil
}

// List returns every tenant's current policy ordered by tenant.
func (r *PolicyRepository) List(ctx context.Context) ([]*policy.Policy, error) {
	out := []*policy.Policy{}
	if err := r.db.DB.SelectContext(ctx, &out, `SELECT `+policyColumns+` FROM rate_limit_policies ORDER BY tenant_id`); err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	return out, nil
}

func (r *PolicyRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.DB.GetContext(ctx, &n, `SELECT COUNT(*) FROM rate_limit_policies`); err != nil {
		return 0, fmt.Errorf("failed to count policies: %w", err)
	}
	return n, nil
}

func (r *PolicyRepository) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && r.logger != nil {
			r.logger.WithError(rbErr).Warn("db: rollback failed")
		}
		return err
	}
	return tx.Commit()
}

// isUniqueViolation detects a racing insert on Postgres, where the existence check
// and the insert are not serialised.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
