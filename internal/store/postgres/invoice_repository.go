package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/portalcore/portalcore/internal/billing"
)

// InvoiceRepository implements billing.InvoiceRepository
type InvoiceRepository struct {
	q querier
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db *DB) *InvoiceRepository {
	return &InvoiceRepository{q: db.pool}
}

// Insert records an invoice once; redelivery of the same provider invoice is a no-op.
func (r *InvoiceRepository) Insert(ctx context.Context, inv *billing.Invoice) (bool, error) {
	result, err := r.q.Exec(ctx, `
		INSERT INTO invoices (
			id, tenant_id, provider_invoice_id, subscription_id,
			amount_cents, currency, status, hosted_url, created_at
		) VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, NULLIF($8, ''), $9)
		ON CONFLICT (provider_invoice_id) DO NOTHING
	`,
		inv.ID, inv.TenantID, inv.ProviderInvoiceID, inv.SubscriptionID,
		inv.AmountCents, inv.Currency, inv.Status, inv.HostedURL, inv.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert invoice: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// ListByTenant lists a tenant's invoices, newest first
func (r *InvoiceRepository) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*billing.Invoice, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.q.Query(ctx, `
		SELECT id, tenant_id, provider_invoice_id, subscription_id,
			amount_cents, currency, status, hosted_url, created_at
		FROM invoices
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*billing.Invoice
	for rows.Next() {
		var (
			inv            billing.Invoice
			subscriptionID sql.NullString
			hostedURL      sql.NullString
		)
		if err := rows.Scan(
			&inv.ID, &inv.TenantID, &inv.ProviderInvoiceID, &subscriptionID,
			&inv.AmountCents, &inv.Currency, &inv.Status, &hostedURL, &inv.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		inv.SubscriptionID = subscriptionID.String
		inv.HostedURL = hostedURL.String
		invoices = append(invoices, &inv)
	}
	return invoices, rows.Err()
}
