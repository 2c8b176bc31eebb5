package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/portalcore/portalcore/internal/tenant"
)

// MembershipRepository implements tenant.MembershipRepository
type MembershipRepository struct {
	q querier
}

// NewMembershipRepository creates a new membership repository
func NewMembershipRepository(db *DB) *MembershipRepository {
	return &MembershipRepository{q: db.pool}
}

const membershipColumns = `tenant_id, subject_id, email, role, status, created_at, updated_at`

// Get retrieves the membership of subjectID in tenantID
func (r *MembershipRepository) Get(ctx context.Context, tenantID, subjectID string) (*tenant.Membership, error) {
	var m tenant.Membership
	err := r.q.QueryRow(ctx, `
		SELECT `+membershipColumns+`
		FROM memberships
		WHERE tenant_id = $1 AND subject_id = $2
	`, tenantID, subjectID).Scan(
		&m.TenantID, &m.SubjectID, &m.Email, &m.Role, &m.Status, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tenant.ErrMembershipNotFound
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return &m, nil
}

// Upsert inserts or replaces the membership; created_at is preserved.
func (r *MembershipRepository) Upsert(ctx context.Context, m *tenant.Membership) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO memberships (`+membershipColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, subject_id) DO UPDATE SET
			email = EXCLUDED.email,
			role = EXCLUDED.role,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`, m.TenantID, m.SubjectID, m.Email, m.Role, m.Status, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert membership: %w", err)
	}
	return nil
}

// Delete removes a membership
func (r *MembershipRepository) Delete(ctx context.Context, tenantID, subjectID string) error {
	result, err := r.q.Exec(ctx, `
		DELETE FROM memberships
		WHERE tenant_id = $1 AND subject_id = $2
	`, tenantID, subjectID)
	if err != nil {
		return fmt.Errorf("failed to delete membership: %w", err)
	}
	if result.RowsAffected() == 0 {
		return tenant.ErrMembershipNotFound
	}
	return nil
}

// List retrieves memberships of a tenant, or of all tenants when tenantID is empty
func (r *MembershipRepository) List(ctx context.Context, tenantID string) ([]*tenant.Membership, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+membershipColumns+`
		FROM memberships
		WHERE $1 = '' OR tenant_id = $1
		ORDER BY tenant_id, created_at
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var members []*tenant.Membership
	for rows.Next() {
		var m tenant.Membership
		if err := rows.Scan(&m.TenantID, &m.SubjectID, &m.Email, &m.Role, &m.Status, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		members = append(members, &m)
	}
	return members, rows.Err()
}

// CountOwners counts active owners of a tenant
func (r *MembershipRepository) CountOwners(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `
		SELECT count(*) FROM memberships
		WHERE tenant_id = $1 AND role = 'owner' AND status = 'active'
	`, tenantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count owners: %w", err)
	}
	return n, nil
}
