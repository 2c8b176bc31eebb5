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
	"fmt"
	"log/slog"
	"strconv"

	"github.com/portalcore/portalcore/internal/audit"
	"github.com/portalcore/portalcore/internal/observability/logger"
	"github.com/portalcore/portalcore/internal/tenant"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// SessionCreator creates Stripe Checkout Sessions
type SessionCreator interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// CustomerCreator creates Stripe customers
type CustomerCreator interface {
	New(params *stripe.CustomerParams) (*stripe.Customer, error)
}

// CheckoutConfig holds checkout redirect URLs
type CheckoutConfig struct {
	SuccessURL string
	CancelURL  string
}

// CheckoutRequest asks for a subscription checkout for one tenant.
type CheckoutRequest struct {
	TenantID string
	ActorID  string
	Email    string
	Plan     tenant.Plan
	Seats    int
}

// CheckoutSession is what the caller redirects the browser to.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CheckoutService starts subscription checkouts. It never changes plan or
// seats: the reconciler does once the provider confirms payment.
type CheckoutService struct {
	sessions    SessionCreator
	customers   CustomerCreator
	tenants     TenantStore
	catalog     *Catalog
	cfg         CheckoutConfig
	auditWriter audit.Writer
}

// NewCheckoutService creates a checkout service backed by the Stripe API.
func NewCheckoutService(apiKey string, tenants TenantStore, catalog *Catalog, cfg CheckoutConfig, auditWriter audit.Writer) *CheckoutService {
	sc := &client.API{}
	sc.Init(apiKey, nil)
	return NewCheckoutServiceWith(sc.CheckoutSessions, sc.Customers, tenants, catalog, cfg, auditWriter)
}

// NewCheckoutServiceWith creates a checkout service over explicit clients.
func NewCheckoutServiceWith(sessions SessionCreator, customers CustomerCreator, tenants TenantStore, catalog *Catalog, cfg CheckoutConfig, auditWriter audit.Writer) *CheckoutService {
	return &CheckoutService{
		sessions:    sessions,
		customers:   customers,
		tenants:     tenants,
		catalog:     catalog,
		cfg:         cfg,
		auditWriter: auditWriter,
	}
}

// Create starts a subscription checkout. The tenant id and plan are written
// to both the session and subscription metadata so every later event can be
// routed back to the tenant.
func (s *CheckoutService) Create(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if s == nil || s.sessions == nil {
		return nil, ErrCheckoutUnavailable
	}
	priceID, ok := s.catalog.Checkout[req.Plan]
	if !ok || req.Plan == tenant.PlanStarter {
		return nil, fmt.Errorf("%w: %q", ErrPlanNotPurchasable, req.Plan)
	}

	t, err := s.tenants.GetByID(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	customerID, err := s.ensureCustomer(ctx, t, req.Email)
	if err != nil {
		return nil, err
	}

	metadata := map[string]string{
		MetadataTenantID: t.ID,
		MetadataPlan:     string(req.Plan),
	}
	lineItems := []*stripe.CheckoutSessionLineItemParams{
		{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
	}
	if seatPrice, ok := s.catalog.SeatPrice(req.Plan); ok && req.Seats > 0 {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Price:    stripe.String(seatPrice),
			Quantity: stripe.Int64(int64(req.Seats)),
		})
		metadata[MetadataSeats] = strconv.Itoa(req.Seats)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(customerID),
		ClientReferenceID: stripe.String(t.ID),
		SuccessURL:        stripe.String(s.cfg.SuccessURL),
		CancelURL:         stripe.String(s.cfg.CancelURL),
		LineItems:         lineItems,
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	session, err := s.sessions.New(params)
	if err != nil {
		slog.ErrorContext(ctx, "stripe checkout session failed", logger.TenantID(t.ID), logger.Error(err))
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	s.auditWriter.Append(ctx, audit.Entry{
		ActorID:    req.ActorID,
		Action:     audit.ActionCheckoutCreated,
		EntityType: audit.EntityTenant,
		EntityID:   t.ID,
		TenantID:   t.ID,
		Metadata:   map[string]any{"plan": string(req.Plan), "seats": req.Seats, "checkout_session_id": session.ID},
	})
	return &CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

// ensureCustomer returns the tenant's provider customer, creating and
// recording one on first checkout.
func (s *CheckoutService) ensureCustomer(ctx context.Context, t *tenant.Tenant, email string) (string, error) {
	if t.StripeCustomerID != "" {
		return t.StripeCustomerID, nil
	}

	params := &stripe.CustomerParams{Name: stripe.String(t.Name)}
	if email != "" {
		params.Email = stripe.String(email)
	}
	params.Context = ctx
	params.AddMetadata(MetadataTenantID, t.ID)

	c, err := s.customers.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create stripe customer: %w", err)
	}
	if _, err := s.tenants.ApplyBilling(ctx, tenant.ByTenantID, t.ID, tenant.BillingUpdate{CustomerID: &c.ID}); err != nil {
		return "", fmt.Errorf("failed to record stripe customer: %w", err)
	}
	return c.ID, nil
}

// ListInvoices returns a tenant's invoice ledger, newest first.
func ListInvoices(ctx context.Context, repo InvoiceRepository, tenantID string, limit int) ([]*Invoice, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return repo.ListByTenant(ctx, tenantID, limit)
}
