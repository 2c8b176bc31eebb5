package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/portalcore/portalcore/internal/tenant"
)

// InvitationRepository implements tenant.InvitationRepository
type InvitationRepository struct {
	q querier
}

// NewInvitationRepository creates a new invitation repository
func NewInvitationRepository(db *DB) *InvitationRepository {
	return &InvitationRepository{q: db.pool}
}

const invitationColumns = `id, tenant_id, email, role, token_hash, invited_by, status, expires_at, accepted_by, accepted_at, created_at`

// Create stores a new invitation
func (r *InvitationRepository) Create(ctx context.Context, inv *tenant.Invitation) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO invitations (`+invitationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11)
	`,
		inv.ID, inv.TenantID, inv.Email, inv.Role, inv.TokenHash, inv.InvitedBy,
		inv.Status, inv.ExpiresAt, inv.AcceptedBy, inv.AcceptedAt, inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", err)
	}
	return nil
}

// Get retrieves an invitation of a tenant
func (r *InvitationRepository) Get(ctx context.Context, tenantID, id string) (*tenant.Invitation, error) {
	return r.getOne(ctx, `WHERE tenant_id = $1 AND id = $2`, tenantID, id)
}

// GetByTokenHash retrieves an invitation by the hash of its token
func (r *InvitationRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*tenant.Invitation, error) {
	return r.getOne(ctx, `WHERE token_hash = $1`, tokenHash)
}

// GetPendingByEmail retrieves the newest pending invitation for an email
func (r *InvitationRepository) GetPendingByEmail(ctx context.Context, tenantID, email string) (*tenant.Invitation, error) {
	return r.getOne(ctx, `
		WHERE tenant_id = $1 AND lower(email) = lower($2) AND status = 'pending'
		ORDER BY created_at DESC
		LIMIT 1
	`, tenantID, email)
}

func (r *InvitationRepository) getOne(ctx context.Context, where string, args ...any) (*tenant.Invitation, error) {
	row := r.q.QueryRow(ctx, `SELECT `+invitationColumns+` FROM invitations `+where, args...)
	inv, err := scanInvitation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tenant.ErrInvitationNotFound
		}
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return inv, nil
}

// ListPending lists pending invitations of a tenant, oldest first
func (r *InvitationRepository) ListPending(ctx context.Context, tenantID string) ([]*tenant.Invitation, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+invitationColumns+` FROM invitations
		WHERE tenant_id = $1 AND status = 'pending'
		ORDER BY created_at
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []*tenant.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}
	return invitations, rows.Err()
}

// Update persists the mutable fields of an invitation
func (r *InvitationRepository) Update(ctx context.Context, inv *tenant.Invitation) error {
	result, err := r.q.Exec(ctx, `
		UPDATE invitations SET
			status = $2,
			accepted_by = NULLIF($3, ''),
			accepted_at = $4
		WHERE id = $1
	`, inv.ID, inv.Status, inv.AcceptedBy, inv.AcceptedAt)
	if err != nil {
		return fmt.Errorf("failed to update invitation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return tenant.ErrInvitationNotFound
	}
	return nil
}

func scanInvitation(row pgx.Row) (*tenant.Invitation, error) {
	var (
		inv        tenant.Invitation
		acceptedBy sql.NullString
		acceptedAt sql.NullTime
	)
	if err := row.Scan(
		&inv.ID, &inv.TenantID, &inv.Email, &inv.Role, &inv.TokenHash, &inv.InvitedBy,
		&inv.Status, &inv.ExpiresAt, &acceptedBy, &acceptedAt, &inv.CreatedAt,
	); err != nil {
		return nil, err
	}
	inv.AcceptedBy = acceptedBy.String
	if acceptedAt.Valid {
		inv.AcceptedAt = &acceptedAt.Time
	}
	return &inv, nil
}
