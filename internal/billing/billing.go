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

package billing

import (
	"context"
	"errors"
	"time"

	"github.com/portalcore/portalcore/internal/tenant"
)

// Stripe event types the reconciler applies
const (
	EventCheckoutCompleted       = "checkout.session.completed"
	EventSubscriptionCreated     = "customer.subscription.created"
	EventSubscriptionUpdated     = "customer.subscription.updated"
	EventSubscriptionDeleted     = "customer.subscription.deleted"
	EventInvoicePaid             = "invoice.paid"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
)

// Metadata keys written on checkout sessions and subscriptions
const (
	MetadataTenantID = "tenant_id"
	MetadataPlan     = "plan"
	MetadataSeats    = "seats"
)

var (
	// ErrReconciliationDropped means an event could not be matched to a
	// tenant. It is logged and acknowledged so the provider stops retrying.
	ErrReconciliationDropped = errors.New("billing event does not match any tenant")
	ErrWebhookDisabled       = errors.New("billing webhooks are not configured")
	ErrInvalidSignature      = errors.New("invalid webhook signature")
	ErrMalformedPayload      = errors.New("malformed webhook payload")
	ErrCheckoutUnavailable   = errors.New("checkout is not configured")
	ErrPlanNotPurchasable    = errors.New("plan is not available for checkout")
)

// Invoice is an append-only ledger row. ProviderInvoiceID is unique.
type Invoice struct {
	ID                string    `json:"id"`
	TenantID          string    `json:"tenant_id"`
	ProviderInvoiceID string    `json:"provider_invoice_id"`
	SubscriptionID    string    `json:"subscription_id,omitempty"`
	AmountCents       int64     `json:"amount_cents"`
	Currency          string    `json:"currency"`
	Status            string    `json:"status"`
	HostedURL         string    `json:"hosted_url,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// InvoiceRepository persists the invoice ledger
type InvoiceRepository interface {
	// Insert stores inv unless its provider id is already present, and
	// reports whether a row was written.
	Insert(ctx context.Context, inv *Invoice) (bool, error)
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]*Invoice, error)
}

// TenantStore is the slice of tenant storage billing reads and writes.
type TenantStore interface {
	GetByID(ctx context.Context, id string) (*tenant.Tenant, error)
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (*tenant.Tenant, error)
	GetByCustomerID(ctx context.Context, customerID string) (*tenant.Tenant, error)
	ApplyBilling(ctx context.Context, field tenant.LookupField, value string, upd tenant.BillingUpdate) (int64, error)
}
