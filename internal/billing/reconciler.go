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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/portalcore/portalcore/internal/audit"
	"github.com/portalcore/portalcore/internal/observability/logger"
	"github.com/portalcore/portalcore/internal/observability/metrics"
	"github.com/portalcore/portalcore/internal/observability/tracing"
	"github.com/portalcore/portalcore/internal/tenant"
	"github.com/stripe/stripe-go/v79"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Outcome labels for the webhook counter
const (
	OutcomeApplied = "applied"
	OutcomeIgnored = "ignored"
	OutcomeDropped = "dropped"
	OutcomeFailed  = "failed"
)

// Reconciler applies provider events to tenant billing state. Every
// application is an absolute set, so redelivery and reordering converge.
type Reconciler struct {
	tenants     TenantStore
	invoices    InvoiceRepository
	catalog     *Catalog
	auditWriter audit.Writer
	instruments *metrics.Instruments
	now         func() time.Time
}

// NewReconciler creates a new reconciler
func NewReconciler(tenants TenantStore, invoices InvoiceRepository, catalog *Catalog, auditWriter audit.Writer, instruments *metrics.Instruments) *Reconciler {
	if catalog == nil {
		catalog = &Catalog{Prices: map[string]Price{}}
	}
	return &Reconciler{
		tenants:     tenants,
		invoices:    invoices,
		catalog:     catalog,
		auditWriter: auditWriter,
		instruments: metrics.OrNoop(instruments),
		now:         time.Now,
	}
}

// Handle applies one event. Unhandled types return nil. Events that match
// no tenant return ErrReconciliationDropped.
func (r *Reconciler) Handle(ctx context.Context, event stripe.Event, verified bool) error {
	eventType := string(event.Type)
	ctx, span := tracing.Start(ctx, tracing.ScopeBilling, "Reconciler.Handle",
		trace.WithAttributes(
			attribute.String("billing.event_id", event.ID),
			attribute.String("billing.event_type", eventType),
			attribute.Bool("billing.verified", verified),
		))
	defer span.End()

	if !verified {
		slog.ErrorContext(ctx, "processing unverified billing event; webhook signature checks are disabled",
			logger.EventID(event.ID), logger.EventType(eventType), slog.Bool("verified", false))
	}

	start := r.now()
	fx, err := r.apply(ctx, event)
	r.instruments.ReconcileDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("type", eventType)))

	outcome := OutcomeApplied
	switch {
	case errors.Is(err, ErrReconciliationDropped):
		outcome = OutcomeDropped
		slog.WarnContext(ctx, "billing event dropped",
			logger.EventID(event.ID), logger.EventType(eventType), logger.Error(err))
		r.auditWriter.Append(ctx, audit.Entry{
			ActorID:    audit.ActorSystem,
			Action:     audit.ActionEventDropped,
			EntityType: audit.EntitySubscription,
			Reason:     err.Error(),
			Metadata:   map[string]any{"event_id": event.ID, "event_type": eventType, "verified": verified},
		})
	case err != nil:
		outcome = OutcomeFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconciliation failed")
		slog.ErrorContext(ctx, "billing event failed",
			logger.EventID(event.ID), logger.EventType(eventType), logger.Error(err))
	case fx == nil:
		outcome = OutcomeIgnored
	}
	r.instruments.WebhookEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", eventType),
		attribute.String("outcome", outcome),
	))
	if err != nil {
		return err
	}

	// Side effects run only after the state change committed and never
	// affect the acknowledgement.
	if fx != nil {
		fx.Metadata["event_id"] = event.ID
		fx.Metadata["event_type"] = eventType
		fx.Metadata["verified"] = verified
		r.auditWriter.Append(ctx, *fx)
	}
	return nil
}

func (r *Reconciler) apply(ctx context.Context, event stripe.Event) (*audit.Entry, error) {
	if event.Data == nil {
		return nil, nil
	}
	switch string(event.Type) {
	case EventCheckoutCompleted:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return r.applyCheckout(ctx, &s)
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		var s stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if s.Status == stripe.SubscriptionStatusCanceled || s.Status == stripe.SubscriptionStatusIncompleteExpired {
			return r.applyCancellation(ctx, &s)
		}
		return r.applySubscription(ctx, &s)
	case EventSubscriptionDeleted:
		var s stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return r.applyCancellation(ctx, &s)
	case EventInvoicePaid, EventInvoicePaymentSucceeded:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return r.applyInvoice(ctx, &inv)
	default:
		return nil, nil
	}
}

func (r *Reconciler) applyCheckout(ctx context.Context, s *stripe.CheckoutSession) (*audit.Entry, error) {
	tenantID := s.Metadata[MetadataTenantID]
	if tenantID == "" {
		tenantID = s.ClientReferenceID
	}
	customerID := customerOf(s.Customer)

	var upd tenant.BillingUpdate
	if customerID != "" {
		upd.CustomerID = &customerID
	}
	if s.Subscription != nil && s.Subscription.ID != "" {
		upd.SubscriptionID = &s.Subscription.ID
	}
	if plan, ok := tenant.ParsePlan(s.Metadata[MetadataPlan]); ok {
		upd.Plan = &plan
	}
	if n, err := strconv.Atoi(s.Metadata[MetadataSeats]); err == nil {
		seats := max(n, 1)
		upd.SeatsPurchased = &seats
	}

	var subscriptionID string
	if upd.SubscriptionID != nil {
		subscriptionID = *upd.SubscriptionID
	}
	id, err := r.locate(ctx, tenantID, subscriptionID, customerID, upd)
	if err != nil {
		return nil, err
	}
	return &audit.Entry{
		ActorID:    audit.ActorSystem,
		Action:     audit.ActionCheckoutCompleted,
		EntityType: audit.EntityTenant,
		EntityID:   id,
		TenantID:   id,
		After:      updateState(upd),
		Metadata:   map[string]any{"checkout_session_id": s.ID},
	}, nil
}

func (r *Reconciler) applySubscription(ctx context.Context, s *stripe.Subscription) (*audit.Entry, error) {
	plan, seats := r.catalog.Derive(lineItems(s))
	customerID := customerOf(s.Customer)

	upd := tenant.BillingUpdate{
		Plan:           &plan,
		SeatsPurchased: seats,
		SubscriptionID: &s.ID,
	}
	if customerID != "" {
		upd.CustomerID = &customerID
	}

	t, err := r.resolve(ctx, s.Metadata[MetadataTenantID], s.ID, customerID)
	if err != nil {
		return nil, err
	}
	if t.StripeSubscriptionID != "" && t.StripeSubscriptionID != s.ID {
		// The tenant moved to another subscription; only a completed
		// checkout or a cancellation of the current one switches it.
		slog.InfoContext(ctx, "ignoring update for a non-current subscription",
			logger.TenantID(t.ID), logger.SubscriptionID(s.ID),
			slog.String("current_subscription_id", t.StripeSubscriptionID))
		return nil, nil
	}
	if _, err := r.tenants.ApplyBilling(ctx, tenant.ByTenantID, t.ID, upd); err != nil {
		return nil, fmt.Errorf("failed to apply billing update: %w", err)
	}
	id := t.ID
	return &audit.Entry{
		ActorID:    audit.ActorSystem,
		Action:     audit.ActionSubscriptionSynced,
		EntityType: audit.EntitySubscription,
		EntityID:   s.ID,
		TenantID:   id,
		After:      updateState(upd),
		Metadata:   map[string]any{"status": string(s.Status)},
	}, nil
}

// applyCancellation downgrades to starter and clears the subscription but
// keeps the customer so the tenant can resubscribe. It is keyed on the
// subscription id so a stale cancellation cannot downgrade a newer subscription.
func (r *Reconciler) applyCancellation(ctx context.Context, s *stripe.Subscription) (*audit.Entry, error) {
	starter := tenant.PlanStarter
	upd := tenant.BillingUpdate{Plan: &starter, ClearSubscription: true}

	id := ""
	if t, err := r.tenants.GetBySubscriptionID(ctx, s.ID); err == nil {
		id = t.ID
	} else if !errors.Is(err, tenant.ErrTenantNotFound) {
		return nil, err
	}

	if id == "" {
		tenantID := s.Metadata[MetadataTenantID]
		if tenantID == "" {
			return nil, fmt.Errorf("%w: subscription %s", ErrReconciliationDropped, s.ID)
		}
		t, err := r.tenants.GetByID(ctx, tenantID)
		if errors.Is(err, tenant.ErrTenantNotFound) {
			return nil, fmt.Errorf("%w: tenant %s", ErrReconciliationDropped, tenantID)
		}
		if err != nil {
			return nil, err
		}
		if t.StripeSubscriptionID != "" && t.StripeSubscriptionID != s.ID {
			// The tenant already moved to another subscription.
			return nil, nil
		}
		id = t.ID
	}

	if _, err := r.tenants.ApplyBilling(ctx, tenant.ByTenantID, id, upd); err != nil {
		return nil, fmt.Errorf("failed to apply cancellation: %w", err)
	}
	return &audit.Entry{
		ActorID:    audit.ActorSystem,
		Action:     audit.ActionSubscriptionCancelled,
		EntityType: audit.EntitySubscription,
		EntityID:   s.ID,
		TenantID:   id,
		Before:     map[string]any{"subscription_id": s.ID},
		After:      updateState(upd),
		Metadata:   map[string]any{},
	}, nil
}

func (r *Reconciler) applyInvoice(ctx context.Context, inv *stripe.Invoice) (*audit.Entry, error) {
	subscriptionID := ""
	if inv.Subscription != nil {
		subscriptionID = inv.Subscription.ID
	}
	customerID := customerOf(inv.Customer)

	t, err := r.findTenant(ctx, subscriptionID, customerID)
	if err != nil {
		return nil, err
	}

	row := &Invoice{
		ID:                uuid.Must(uuid.NewV7()).String(),
		TenantID:          t.ID,
		ProviderInvoiceID: inv.ID,
		SubscriptionID:    subscriptionID,
		AmountCents:       inv.AmountPaid,
		Currency:          string(inv.Currency),
		Status:            string(inv.Status),
		HostedURL:         inv.HostedInvoiceURL,
		CreatedAt:         r.now().UTC(),
	}
	if inv.Created > 0 {
		row.CreatedAt = time.Unix(inv.Created, 0).UTC()
	}
	if row.Status == "" {
		row.Status = string(stripe.InvoiceStatusPaid)
	}

	inserted, err := r.invoices.Insert(ctx, row)
	if err != nil {
		return nil, fmt.Errorf("failed to record invoice: %w", err)
	}
	if !inserted {
		slog.DebugContext(ctx, "invoice already recorded", slog.String("provider_invoice_id", inv.ID))
		return nil, nil
	}
	return &audit.Entry{
		ActorID:    audit.ActorSystem,
		Action:     audit.ActionInvoiceRecorded,
		EntityType: audit.EntityInvoice,
		EntityID:   inv.ID,
		TenantID:   t.ID,
		After:      map[string]any{"amount_cents": row.AmountCents, "currency": row.Currency},
		Metadata:   map[string]any{},
	}, nil
}

// locate applies upd to the tenant named by tenantID, or else to the tenant
// holding subscriptionID, or else to the one holding customerID.
func (r *Reconciler) locate(ctx context.Context, tenantID, subscriptionID, customerID string, upd tenant.BillingUpdate) (string, error) {
	if tenantID != "" {
		n, err := r.tenants.ApplyBilling(ctx, tenant.ByTenantID, tenantID, upd)
		if err != nil {
			return "", fmt.Errorf("failed to apply billing update: %w", err)
		}
		if n > 0 {
			return tenantID, nil
		}
	}

	t, err := r.findTenant(ctx, subscriptionID, customerID)
	if err != nil {
		return "", err
	}
	if _, err := r.tenants.ApplyBilling(ctx, tenant.ByTenantID, t.ID, upd); err != nil {
		return "", fmt.Errorf("failed to apply billing update: %w", err)
	}
	return t.ID, nil
}

// resolve finds the tenant named by tenantID, falling back to the
// subscription and customer keys.
func (r *Reconciler) resolve(ctx context.Context, tenantID, subscriptionID, customerID string) (*tenant.Tenant, error) {
	if tenantID != "" {
		t, err := r.tenants.GetByID(ctx, tenantID)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, tenant.ErrTenantNotFound) {
			return nil, err
		}
	}
	return r.findTenant(ctx, subscriptionID, customerID)
}

func (r *Reconciler) findTenant(ctx context.Context, subscriptionID, customerID string) (*tenant.Tenant, error) {
	if subscriptionID != "" {
		t, err := r.tenants.GetBySubscriptionID(ctx, subscriptionID)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, tenant.ErrTenantNotFound) {
			return nil, err
		}
	}
	if customerID != "" {
		t, err := r.tenants.GetByCustomerID(ctx, customerID)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, tenant.ErrTenantNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: subscription=%q customer=%q", ErrReconciliationDropped, subscriptionID, customerID)
}

func lineItems(s *stripe.Subscription) []LineItem {
	if s.Items == nil {
		return nil
	}
	items := make([]LineItem, 0, len(s.Items.Data))
	for _, it := range s.Items.Data {
		if it == nil || it.Price == nil {
			continue
		}
		items = append(items, LineItem{PriceID: it.Price.ID, Quantity: it.Quantity})
	}
	return items
}

func customerOf(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func updateState(u tenant.BillingUpdate) map[string]any {
	m := map[string]any{}
	if u.Plan != nil {
		m["plan"] = string(*u.Plan)
	}
	if u.SeatsPurchased != nil {
		m["seats_purchased"] = *u.SeatsPurchased
	}
	if u.CustomerID != nil {
		m["stripe_customer_id"] = *u.CustomerID
	}
	if u.ClearSubscription {
		m["stripe_subscription_id"] = nil
	} else if u.SubscriptionID != nil {
		m["stripe_subscription_id"] = *u.SubscriptionID
	}
	return m
}
