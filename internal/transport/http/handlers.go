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
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/portalcore/portalcore/internal/audit"
	"github.com/portalcore/portalcore/internal/authz"
	"github.com/portalcore/portalcore/internal/billing"
	"github.com/portalcore/portalcore/internal/impersonation"
	"github.com/portalcore/portalcore/internal/observability/logger"
	"github.com/portalcore/portalcore/internal/tenant"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxRequestBody = 1 << 20

// Dependencies are the services the handlers call into. Checkout may be
// nil when billing is not configured.
type Dependencies struct {
	Guards        *authz.Guards
	Roles         authz.SuperAdminChecker
	Tenants       *tenant.Service
	Invoices      billing.InvoiceRepository
	Verifier      *billing.Verifier
	Reconciler    *billing.Reconciler
	Checkout      *billing.CheckoutService
	Impersonation *impersonation.Service
	PlatformRoles *authz.Service
	AuditLog      audit.Repository
	Security      *logger.SecurityLogger
}

// Handler holds HTTP handlers and dependencies
type Handler struct {
	guards        *authz.Guards
	roles         authz.SuperAdminChecker
	tenants       *tenant.Service
	invoices      billing.InvoiceRepository
	verifier      *billing.Verifier
	reconciler    *billing.Reconciler
	checkout      *billing.CheckoutService
	impersonation *impersonation.Service
	platformRoles *authz.Service
	auditLog      audit.Repository
	security      *logger.SecurityLogger
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Dependencies) *Handler {
	security := deps.Security
	if security == nil {
		security = logger.NewSecurityLogger(nil)
	}
	return &Handler{
		guards:        deps.Guards,
		roles:         deps.Roles,
		tenants:       deps.Tenants,
		invoices:      deps.Invoices,
		verifier:      deps.Verifier,
		reconciler:    deps.Reconciler,
		checkout:      deps.Checkout,
		impersonation: deps.Impersonation,
		platformRoles: deps.PlatformRoles,
		auditLog:      deps.AuditLog,
		security:      security,
	}
}

// NewRouter creates a new HTTP router. requestTimeout bounds every request,
// including the guard lookups it triggers.
func NewRouter(h *Handler, rateLimiter *RateLimiter, requestTimeout time.Duration) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", h.HealthCheck)

	// Authenticated by signature, not by bearer token
	r.Post("/webhooks/stripe", h.StripeWebhook)

	g := h.guards
	r.Route("/api/v1", func(r chi.Router) {
		// Identity-scoped endpoints
		r.Group(func(r chi.Router) {
			r.Use(Guard(authz.Chain(g.RequireAuthenticated(), g.WithImpersonation())))
			r.Get("/me", h.Me)
			r.Post("/invitations/accept", h.AcceptInvitation)
			r.Post("/tenants", h.CreateTenant)
		})

		// Tenant-scoped endpoints (FAIL-CLOSED)
		r.Route("/tenant", func(r chi.Router) {
			r.Use(Guard(authz.Chain(
				g.RequireAuthenticated(),
				g.RequireSuperAdminOrTenantMembership(),
				g.WithImpersonation(),
			)))
			r.Get("/members", h.ListMembers)
			r.Get("/usage", h.GetUsage)
			r.Get("/invoices", h.ListInvoices)

			// Managers only
			r.Group(func(r chi.Router) {
				r.Use(Guard(g.RequireTenantRole(tenant.ManagerRoles...)))
				r.Post("/team/invitations", h.InviteTeamMember)
				r.Post("/clients/invitations", h.InviteClient)
				r.Get("/invitations", h.ListInvitations)
				r.Delete("/invitations/{invitationID}", h.RevokeInvitation)
				r.Patch("/members/{subjectID}", h.UpdateMemberRole)
				r.Delete("/members/{subjectID}", h.RemoveMember)
				r.Post("/billing/checkout", h.CreateCheckout)
			})
		})

		// Platform endpoints
		r.Route("/admin", func(r chi.Router) {
			r.Use(Guard(authz.Chain(g.RequireAuthenticated(), g.RequireSuperAdmin())))
			r.Post("/impersonation", h.StartImpersonation)
			r.Get("/impersonation", h.GetImpersonation)
			r.Delete("/impersonation", h.StopImpersonation)
			r.Get("/audit", h.ListAudit)
			r.Get("/tenants", h.ListTenants)
			r.Post("/roles", h.GrantRole)
			r.Delete("/roles/{subjectID}/{role}", h.RevokeRole)
		})
	})

	return r
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "portalcore",
	})
}

// MeResponse describes the caller
type MeResponse struct {
	SubjectID     string `json:"subject_id"`
	Email         string `json:"email,omitempty"`
	RealSubjectID string `json:"real_subject_id"`
	Impersonating bool   `json:"impersonating"`
	SuperAdmin    bool   `json:"super_admin"`
}

// Me returns the identity the request acts as. While impersonating that is
// the target; the real actor is reported alongside.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	resp := MeResponse{
		SubjectID:     p.EffectiveSubjectID(),
		RealSubjectID: p.SubjectID(),
		Impersonating: p.Impersonating,
		SuperAdmin:    h.roles.IsSuperAdmin(r.Context(), p.SubjectID()),
	}
	if !p.Impersonating {
		resp.Email = p.Identity.Email
	}
	respondJSON(w, http.StatusOK, resp)
}

// decodeJSON reads a bounded JSON body into dst, answering 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// queryInt returns the integer query parameter key, or def when absent or invalid.
func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
