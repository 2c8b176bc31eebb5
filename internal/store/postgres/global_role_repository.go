package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/portalcore/portalcore/internal/authz"
)

// GlobalRoleRepository implements authz.GlobalRoleRepository
type GlobalRoleRepository struct {
	q querier
}

// NewGlobalRoleRepository creates a new global role repository
func NewGlobalRoleRepository(db *DB) *GlobalRoleRepository {
	return &GlobalRoleRepository{q: db.pool}
}

// ListRoles retrieves the platform roles of a subject
func (r *GlobalRoleRepository) ListRoles(ctx context.Context, subjectID string) ([]string, error) {
	rows, err := r.q.Query(ctx, `
		SELECT role FROM global_roles
		WHERE subject_id = $1
		ORDER BY role
	`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list global roles: %w", err)
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("failed to scan global role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// Grant grants a platform role. Granting an existing role is a no-op.
func (r *GlobalRoleRepository) Grant(ctx context.Context, role *authz.GlobalRole) error {
	var grantedBy sql.NullString
	if role.GrantedBy != "" {
		grantedBy = sql.NullString{String: role.GrantedBy, Valid: true}
	}

	_, err := r.q.Exec(ctx, `
		INSERT INTO global_roles (subject_id, role, granted_by, granted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (subject_id, role) DO NOTHING
	`, role.SubjectID, role.Role, grantedBy, role.GrantedAt)
	if err != nil {
		return fmt.Errorf("failed to grant global role: %w", err)
	}
	return nil
}

// Revoke revokes a platform role
func (r *GlobalRoleRepository) Revoke(ctx context.Context, subjectID, role string) error {
	result, err := r.q.Exec(ctx, `
		DELETE FROM global_roles
		WHERE subject_id = $1 AND role = $2
	`, subjectID, role)
	if err != nil {
		return fmt.Errorf("failed to revoke global role: %w", err)
	}
	if result.RowsAffected() == 0 {
		return authz.ErrGlobalRoleNotFound
	}
	return nil
}
