// Copyright 2026 The Portalcore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/portalcore/portalcore/internal/audit"
	"github.com/portalcore/portalcore/internal/authz"
	"github.com/portalcore/portalcore/internal/billing"
	"github.com/portalcore/portalcore/internal/tenant"
)

// Store implements tenant.Store on PostgreSQL. A Store bound to a
// transaction is handed to WithTenantLock callbacks.
type Store struct {
	db *DB
	q  querier
}

// NewStore creates a pool-backed store
func NewStore(db *DB) *Store {
	return &Store{db: db, q: db.pool}
}

// Tenants returns the tenant repository
func (s *Store) Tenants() tenant.Repository { return &TenantRepository{q: s.q} }

// Memberships returns the membership repository
func (s *Store) Memberships() tenant.MembershipRepository { return &MembershipRepository{q: s.q} }

// Invitations returns the invitation repository
func (s *Store) Invitations() tenant.InvitationRepository { return &InvitationRepository{q: s.q} }

// Invoices returns the invoice ledger
func (s *Store) Invoices() billing.InvoiceRepository { return &InvoiceRepository{q: s.q} }

// GlobalRoles returns the platform role repository
func (s *Store) GlobalRoles() authz.GlobalRoleRepository { return &GlobalRoleRepository{q: s.q} }

// AuditLog returns the audit repository
func (s *Store) AuditLog() audit.Repository { return &AuditRepository{q: s.q} }

// Usage derives headcount from active memberships plus open invitations.
func (s *Store) Usage(ctx context.Context, tenantID string) (*tenant.Usage, error) {
	u := &tenant.Usage{TenantID: tenantID}
	err := s.q.QueryRow(ctx, `
		WITH seats AS (
			SELECT role FROM memberships
			WHERE tenant_id = $1 AND status = 'active'
			UNION ALL
			SELECT role FROM invitations
			WHERE tenant_id = $1 AND status = 'pending' AND expires_at > now()
		)
		SELECT
			count(*) FILTER (WHERE role IN ('owner', 'admin', 'member')),
			count(*) FILTER (WHERE role = 'client')
		FROM seats
	`, tenantID).Scan(&u.TeamCount, &u.ClientsCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count usage: %w", err)
	}
	return u, nil
}

// CreateTenant inserts the tenant and its owner membership in one transaction.
func (s *Store) CreateTenant(ctx context.Context, t *tenant.Tenant, owner *tenant.Membership) error {
	return pgx.BeginFunc(ctx, s.q, func(tx pgx.Tx) error {
		if err := (&TenantRepository{q: tx}).Create(ctx, t); err != nil {
			return err
		}
		return (&MembershipRepository{q: tx}).Upsert(ctx, owner)
	})
}

// WithTenantLock locks the tenant row FOR UPDATE and runs fn in the same
// transaction. Nested calls run in a savepoint.
func (s *Store) WithTenantLock(ctx context.Context, tenantID string, fn func(ctx context.Context, tx tenant.Store) error) error {
	return pgx.BeginFunc(ctx, s.q, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx, `SELECT id FROM tenants WHERE id = $1 FOR UPDATE`, tenantID).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return tenant.ErrTenantNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock tenant: %w", err)
		}
		return fn(ctx, &Store{db: s.db, q: tx})
	})
}
