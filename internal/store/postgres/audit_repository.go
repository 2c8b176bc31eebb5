package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/portalcore/portalcore/internal/audit"
)

// AuditRepository implements audit.Repository
type AuditRepository struct {
	q querier
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{q: db.pool}
}

// Append inserts an audit entry
func (r *AuditRepository) Append(ctx context.Context, e *audit.Entry) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO audit_log (
			id, actor_id, action, entity_type, entity_id, tenant_id,
			reason, before, after, metadata, created_at
		) VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10, $11)
	`,
		e.ID, e.ActorID, e.Action, e.EntityType, e.EntityID, e.TenantID,
		e.Reason, e.Before, e.After, e.Metadata, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// List retrieves audit entries matching filter, newest first
func (r *AuditRepository) List(ctx context.Context, filter audit.Filter) ([]*audit.Entry, error) {
	filter = filter.Normalized()

	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.TenantID != "" {
		add("tenant_id = $%d", filter.TenantID)
	}
	if filter.ActorID != "" {
		add("actor_id = $%d", filter.ActorID)
	}
	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if !filter.Since.IsZero() {
		add("created_at >= $%d", filter.Since)
	}

	query := `
		SELECT id, actor_id, action, entity_type, entity_id, tenant_id,
			reason, before, after, metadata, created_at
		FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*audit.Entry
	for rows.Next() {
		var (
			e                          audit.Entry
			entityID, tenantID, reason sql.NullString
		)
		if err := rows.Scan(
			&e.ID, &e.ActorID, &e.Action, &e.EntityType, &entityID, &tenantID,
			&reason, &e.Before, &e.After, &e.Metadata, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.EntityID = entityID.String
		e.TenantID = tenantID.String
		e.Reason = reason.String
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
