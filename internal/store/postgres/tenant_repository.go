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
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/portalcore/portalcore/internal/tenant"
)

// TenantRepository implements tenant.Repository
type TenantRepository struct {
	q querier
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *DB) *TenantRepository {
	return &TenantRepository{q: db.pool}
}

const tenantColumns = `id, name, plan, seats_purchased, stripe_customer_id, stripe_subscription_id, created_at, updated_at`

// Create creates a new tenant
func (r *TenantRepository) Create(ctx context.Context, t *tenant.Tenant) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO tenants (`+tenantColumns+`)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8)
	`,
		t.ID, t.Name, string(t.Plan), t.SeatsPurchased,
		t.StripeCustomerID, t.StripeSubscriptionID, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert tenant: %w", err)
	}
	return nil
}

// GetByID retrieves a tenant by ID
func (r *TenantRepository) GetByID(ctx context.Context, id string) (*tenant.Tenant, error) {
	return r.getBy(ctx, tenant.ByTenantID, id)
}

// GetBySubscriptionID retrieves the tenant holding a Stripe subscription
func (r *TenantRepository) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*tenant.Tenant, error) {
	if subscriptionID == "" {
		return nil, tenant.ErrTenantNotFound
	}
	return r.getBy(ctx, tenant.BySubscriptionID, subscriptionID)
}

// GetByCustomerID retrieves the tenant holding a Stripe customer
func (r *TenantRepository) GetByCustomerID(ctx context.Context, customerID string) (*tenant.Tenant, error) {
	if customerID == "" {
		return nil, tenant.ErrTenantNotFound
	}
	return r.getBy(ctx, tenant.ByCustomerID, customerID)
}

// field.String() is a fixed column name, never user input.
func (r *TenantRepository) getBy(ctx context.Context, field tenant.LookupField, value string) (*tenant.Tenant, error) {
	row := r.q.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE `+field.String()+` = $1`, value)
	t, err := scanTenant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tenant.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}

// List lists tenants, oldest first
func (r *TenantRepository) List(ctx context.Context, limit, offset int) ([]*tenant.Tenant, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.q.Query(ctx, `
		SELECT `+tenantColumns+` FROM tenants
		ORDER BY created_at, id
		LIMIT $1 OFFSET $2
	`, limit, max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*tenant.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// ApplyBilling writes the non-nil fields of upd in one statement, so a
// concurrent admission check sees either the old or the new plan.
func (r *TenantRepository) ApplyBilling(ctx context.Context, field tenant.LookupField, value string, upd tenant.BillingUpdate) (int64, error) {
	if value == "" {
		return 0, nil
	}

	var plan *string
	if upd.Plan != nil {
		p := string(*upd.Plan)
		plan = &p
	}

	result, err := r.q.Exec(ctx, `
		UPDATE tenants SET
			plan = COALESCE($2, plan),
			seats_purchased = COALESCE($3, seats_purchased),
			stripe_customer_id = COALESCE($4, stripe_customer_id),
			stripe_subscription_id = CASE WHEN $5::boolean THEN NULL ELSE COALESCE($6, stripe_subscription_id) END,
			updated_at = $7
		WHERE `+field.String()+` = $1
	`, value, plan, upd.SeatsPurchased, upd.CustomerID, upd.ClearSubscription, upd.SubscriptionID, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to apply billing update: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanTenant(row pgx.Row) (*tenant.Tenant, error) {
	var (
		t              tenant.Tenant
		plan           string
		customerID     sql.NullString
		subscriptionID sql.NullString
	)
	if err := row.Scan(
		&t.ID, &t.Name, &plan, &t.SeatsPurchased,
		&customerID, &subscriptionID, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.Plan = tenant.Plan(plan)
	t.StripeCustomerID = customerID.String
	t.StripeSubscriptionID = subscriptionID.String
	return &t, nil
}
