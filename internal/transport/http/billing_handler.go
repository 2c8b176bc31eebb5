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

package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/portalcore/portalcore/internal/billing"
	"github.com/portalcore/portalcore/internal/tenant"
)

// maxWebhookBody caps the webhook payload read into memory
const maxWebhookBody = 64 << 10

// StripeWebhook verifies and applies a billing event. Events that match no
// tenant are acknowledged so the provider stops retrying; processing
// failures return 500 so it retries.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.verifier == nil || h.reconciler == nil {
		respondError(w, http.StatusServiceUnavailable, billing.ErrWebhookDisabled.Error())
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.security.WebhookRejected(ctx, "stripe", "payload too large")
			respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		respondError(w, http.StatusBadRequest, "failed to read payload")
		return
	}

	event, verified, err := h.verifier.Verify(payload, r.Header.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, billing.ErrWebhookDisabled):
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, billing.ErrInvalidSignature):
		h.security.WebhookRejected(ctx, "stripe", "invalid signature")
		respondError(w, http.StatusBadRequest, billing.ErrInvalidSignature.Error())
		return
	case err != nil:
		h.security.WebhookRejected(ctx, "stripe", "malformed payload")
		respondError(w, http.StatusBadRequest, billing.ErrMalformedPayload.Error())
		return
	}

	err = h.reconciler.Handle(ctx, event, verified)
	switch {
	case err == nil, errors.Is(err, billing.ErrReconciliationDropped):
		respondJSON(w, http.StatusOK, map[string]bool{"received": true})
	case errors.Is(err, billing.ErrMalformedPayload):
		respondError(w, http.StatusBadRequest, billing.ErrMalformedPayload.Error())
	default:
		writeError(w, r, err)
	}
}

// ListInvoices returns the scoped tenant's invoice ledger
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := billing.ListInvoices(r.Context(), h.invoices, GetTenantID(r.Context()), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, invoices)
}

// CheckoutRequest represents a plan purchase
type CheckoutRequest struct {
	Plan  string `json:"plan"`
	Seats int    `json:"seats"`
}

// CreateCheckout starts a subscription checkout for the scoped tenant.
// Plan and seats change only once the provider confirms payment.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	plan, ok := tenant.ParsePlan(req.Plan)
	if !ok || req.Seats < 0 {
		writeError(w, r, billing.ErrPlanNotPurchasable)
		return
	}

	ctx := r.Context()
	p := GetPrincipal(ctx)
	session, err := h.checkout.Create(ctx, billing.CheckoutRequest{
		TenantID: p.TenantID,
		ActorID:  p.SubjectID(),
		Email:    p.Identity.Email,
		Plan:     plan,
		Seats:    req.Seats,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, session)
}
