package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/portalcore/portalcore/internal/audit"
	"github.com/portalcore/portalcore/internal/authz"
	"github.com/portalcore/portalcore/internal/billing"
	"github.com/portalcore/portalcore/internal/capacity"
	"github.com/portalcore/portalcore/internal/identity"
	"github.com/portalcore/portalcore/internal/impersonation"
	"github.com/portalcore/portalcore/internal/store/memory"
	"github.com/portalcore/portalcore/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

const webhookSecret = "whsec_test"

type fakeSessions struct{}

func (fakeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return &stripe.CheckoutSession{ID: "cs_test", URL: "https://checkout.stripe.test/cs_test"}, nil
}

type fakeCustomers struct{}

func (fakeCustomers) New(params *stripe.CustomerParams) (*stripe.Customer, error) {
	return &stripe.Customer{ID: "cus_new"}, nil
}

type fixture struct {
	router http.Handler
	store  *memory.Store
	jwt    *identity.JWTResolver
}

// newFixture wires the full stack over the memory store:
//
//	t1: pro, 2 seats; owner "owner", client "client"
//	t2: starter; owner "owner2"
//	"admin" is a super admin
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Tenants().Create(ctx, &tenant.Tenant{ID: "t1", Name: "Acme", Plan: tenant.PlanPro, SeatsPurchased: 2, CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, store.Tenants().Create(ctx, &tenant.Tenant{ID: "t2", Name: "Globex", Plan: tenant.PlanStarter, SeatsPurchased: 1, CreatedAt: now, UpdatedAt: now}))
	for _, m := range []*tenant.Membership{
		{TenantID: "t1", SubjectID: "owner", Email: "owner@example.com", Role: tenant.RoleOwner},
		{TenantID: "t1", SubjectID: "client", Email: "client@example.com", Role: tenant.RoleClient},
		{TenantID: "t2", SubjectID: "owner2", Email: "owner2@example.com", Role: tenant.RoleOwner},
	} {
		m.Status = tenant.MemberActive
		require.NoError(t, store.Memberships().Upsert(ctx, m))
	}
	require.NoError(t, store.GlobalRoles().Grant(ctx, &authz.GlobalRole{SubjectID: "admin", Role: "super_admin"}))

	jwtResolver, err := identity.NewJWTResolver(identity.JWTConfig{Secret: "test-secret", Issuer: "test", Audience: "portal"})
	require.NoError(t, err)

	writer := audit.NewStoreWriter(store.AuditLog(), nil)
	catalog := &billing.Catalog{
		Prices: map[string]billing.Price{
			"price_pro":  {Plan: tenant.PlanPro},
			"price_seat": {Plan: tenant.PlanPro, Seat: true},
		},
		Checkout: map[tenant.Plan]string{tenant.PlanPro: "price_pro"},
	}

	lookup := authz.NewRoleLookup(store.GlobalRoles(), authz.LookupConfig{CacheTTL: time.Minute}, nil)
	sessions := impersonation.NewService(impersonation.NewMemoryStore(), writer)
	guards := authz.NewGuards(jwtResolver, lookup, tenant.NewMembershipAccessor(store.Memberships(), nil), sessions, nil, nil)

	h := NewHandler(Dependencies{
		Guards:        guards,
		Roles:         lookup,
		Tenants:       tenant.NewService(store, writer),
		Invoices:      store.Invoices(),
		Verifier:      billing.NewVerifier(billing.VerifierConfig{Secret: webhookSecret}),
		Reconciler:    billing.NewReconciler(store.Tenants(), store.Invoices(), catalog, writer, nil),
		Checkout:      billing.NewCheckoutServiceWith(fakeSessions{}, fakeCustomers{}, store.Tenants(), catalog, billing.CheckoutConfig{SuccessURL: "https://app.test/ok", CancelURL: "https://app.test/cancel"}, writer),
		Impersonation: sessions,
		PlatformRoles: authz.NewService(store.GlobalRoles(), lookup, writer),
		AuditLog:      store.AuditLog(),
	})

	rl := NewRateLimiter(1000, 1000)
	t.Cleanup(rl.Stop)

	return &fixture{router: NewRouter(h, rl, 5*time.Second), store: store, jwt: jwtResolver}
}

func (f *fixture) token(t *testing.T, subject, email string) string {
	t.Helper()
	tok, err := f.jwt.Issue(identity.Identity{SubjectID: subject, Email: email}, time.Minute)
	require.NoError(t, err)
	return tok
}

// do sends a request as subject ("" for anonymous) scoped to tenantID ("" for none).
func (f *fixture) do(t *testing.T, method, path, subject, tenantID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if subject != "" {
		req.Header.Set("Authorization", "Bearer "+f.token(t, subject, subject+"@example.com"))
	}
	if tenantID != "" {
		req.Header.Set(TenantHeader, tenantID)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestRouter_Routes(t *testing.T) {
	rl := NewRateLimiter(100, 100)
	t.Cleanup(rl.Stop)
	r := NewRouter(&Handler{guards: authz.NewGuards(nil, nil, nil, nil, nil, nil)}, rl, time.Second)

	tests := []struct {
		method      string
		path        string
		expectFound bool
	}{
		{"GET", "/health", true},
		{"POST", "/webhooks/stripe", true},
		{"GET", "/api/v1/me", true},
		{"POST", "/api/v1/invitations/accept", true},
		{"POST", "/api/v1/tenants", true},
		{"GET", "/api/v1/tenant/members", true},
		{"POST", "/api/v1/tenant/team/invitations", true},
		{"POST", "/api/v1/tenant/clients/invitations", true},
		{"PATCH", "/api/v1/tenant/members/user-1", true},
		{"DELETE", "/api/v1/tenant/members/user-1", true},
		{"GET", "/api/v1/tenant/usage", true},
		{"GET", "/api/v1/tenant/invoices", true},
		{"POST", "/api/v1/tenant/billing/checkout", true},
		{"POST", "/api/v1/admin/impersonation", true},
		{"GET", "/api/v1/admin/impersonation", true},
		{"DELETE", "/api/v1/admin/impersonation", true},
		{"GET", "/api/v1/admin/audit", true},
		{"DELETE", "/api/v1/admin/roles/user-1/super_admin", true},
		{"GET", "/api/v1/tenants/t1/users", false},
		{"GET", "/.well-known/openid-configuration", false},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rctx := chi.NewRouteContext()
			assert.Equal(t, tt.expectFound, r.Match(rctx, tt.method, tt.path))
		})
	}
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/health", "", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode[map[string]string](t, w)["status"])
}

// TestPurpose: Validates tenant isolation on the HTTP surface.
// Scope: Integration Test (in-memory)
// Security: Tenant isolation (CWE-639), uniform non-member response
// Expected: Members get 200; strangers get 403 whether they name the tenant by header or query; anonymous callers get 401; a missing tenant is 400; super admins pass.
// Test Case ID: HTTP-01
func TestTenantRoutes_Isolation(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/tenant/members", "owner", "t1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]tenant.Membership](t, w), 2)

	w = f.do(t, http.MethodGet, "/api/v1/tenant/members", "owner2", "t1", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, authz.MsgNotMember, decode[ErrorResponse](t, w).Error)

	w = f.do(t, http.MethodGet, "/api/v1/tenant/members?tenant_id=t1", "owner2", "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/tenant/members", "owner2", "no-such-tenant", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, authz.MsgNotMember, decode[ErrorResponse](t, w).Error, "unknown tenants look like foreign ones")

	w = f.do(t, http.MethodGet, "/api/v1/tenant/members", "", "t1", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))

	w = f.do(t, http.MethodGet, "/api/v1/tenant/members", "owner", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/tenant/members", "admin", "t1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

// TestPurpose: Validates admission control and manager-only access for invitations.
// Scope: Integration Test (in-memory)
// Security: Plan enforcement, tenant role enforcement
// Expected: Owners invite within seats; the next team invite is 409 SEATS_REQUIRED with counts; starter team invites are 403 NOT_ALLOWED; clients cannot invite.
// Test Case ID: HTTP-02
func TestInvitations_Capacity(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/tenant/team/invitations", "owner", "t1", InviteRequest{Email: "dev@example.com"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode[InviteResponse](t, w)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, tenant.RoleMember, resp.Invitation.Role)

	w = f.do(t, http.MethodPost, "/api/v1/tenant/team/invitations", "owner", "t1", InviteRequest{Email: "dev2@example.com", Role: tenant.RoleAdmin})
	assert.Equal(t, http.StatusConflict, w.Code)
	body := decode[ErrorResponse](t, w)
	assert.Equal(t, capacity.CodeSeatsRequired, body.Code)
	require.NotNil(t, body.Current)
	assert.Equal(t, 2, *body.Current)
	assert.Equal(t, 2, *body.Limit)

	w = f.do(t, http.MethodPost, "/api/v1/tenant/team/invitations", "owner2", "t2", InviteRequest{Email: "dev@example.com"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, capacity.CodeNotAllowed, decode[ErrorResponse](t, w).Code)

	w = f.do(t, http.MethodPost, "/api/v1/tenant/clients/invitations", "owner2", "t2", InviteRequest{Email: "buyer@example.com", Role: tenant.RoleOwner})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, tenant.RoleClient, decode[InviteResponse](t, w).Invitation.Role, "client route forces the client role")

	w = f.do(t, http.MethodPost, "/api/v1/tenant/team/invitations", "owner", "t1", InviteRequest{Email: "x@example.com", Role: tenant.RoleClient})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/tenant/clients/invitations", "client", "t1", InviteRequest{Email: "x@example.com"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, authz.MsgInsufficientTenantRole, decode[ErrorResponse](t, w).Error)

	w = f.do(t, http.MethodPost, "/api/v1/tenant/clients/invitations", "owner", "t1", InviteRequest{Email: "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInvitations_AcceptAndRevoke(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/tenant/clients/invitations", "owner", "t1", InviteRequest{Email: "newbie@example.com"})
	require.Equal(t, http.StatusCreated, w.Code)
	token := decode[InviteResponse](t, w).Token

	w = f.do(t, http.MethodPost, "/api/v1/invitations/accept", "newbie", "", AcceptInvitationRequest{Token: token})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, tenant.RoleClient, decode[tenant.Membership](t, w).Role)

	w = f.do(t, http.MethodGet, "/api/v1/tenant/usage", "newbie", "t1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/invitations/accept", "newbie", "", AcceptInvitationRequest{Token: token})
	assert.Equal(t, http.StatusGone, w.Code, "tokens are single use")

	w = f.do(t, http.MethodPost, "/api/v1/tenant/clients/invitations", "owner", "t1", InviteRequest{Email: "later@example.com"})
	require.Equal(t, http.StatusCreated, w.Code)
	inv := decode[InviteResponse](t, w).Invitation

	w = f.do(t, http.MethodGet, "/api/v1/tenant/invitations", "owner", "t1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]tenant.Invitation](t, w), 1)

	w = f.do(t, http.MethodDelete, "/api/v1/tenant/invitations/"+inv.ID, "owner", "t1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = f.do(t, http.MethodDelete, "/api/v1/tenant/invitations/"+inv.ID, "owner", "t1", nil)
	assert.Equal(t, http.StatusGone, w.Code)
}

func TestMembers_UpdateAndRemove(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPatch, "/api/v1/tenant/members/client", "owner", "t1", UpdateRoleRequest{Role: tenant.RoleAdmin})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, tenant.RoleAdmin, decode[tenant.Membership](t, w).Role)

	w = f.do(t, http.MethodPatch, "/api/v1/tenant/members/ghost", "owner", "t1", UpdateRoleRequest{Role: tenant.RoleMember})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPatch, "/api/v1/tenant/members/client", "owner", "t1", UpdateRoleRequest{Role: "root"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodDelete, "/api/v1/tenant/members/owner2", "owner2", "t2", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "the last owner stays")

	w = f.do(t, http.MethodDelete, "/api/v1/tenant/members/client", "owner", "t1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	_, err := f.store.Memberships().Get(context.Background(), "t1", "client")
	assert.ErrorIs(t, err, tenant.ErrMembershipNotFound)
}

func TestCreateTenant(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/tenants", "founder", "", CreateTenantRequest{Name: "Initech"})
	require.Equal(t, http.StatusCreated, w.Code)
	tn := decode[tenant.Tenant](t, w)
	assert.Equal(t, tenant.PlanStarter, tn.Plan)

	w = f.do(t, http.MethodGet, "/api/v1/tenant/members", "founder", tn.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	members := decode[[]tenant.Membership](t, w)
	require.Len(t, members, 1)
	assert.Equal(t, tenant.RoleOwner, members[0].Role)

	w = f.do(t, http.MethodPost, "/api/v1/tenants", "founder", "", CreateTenantRequest{Name: "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func signedEvent(t *testing.T, id, typ string, object map[string]any) (payload []byte, header string) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"api_version": "2020-08-27",
		"type":        typ,
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: raw, Secret: webhookSecret})
	return signed.Payload, signed.Header
}

func (f *fixture) webhook(t *testing.T, payload []byte, header string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	if header != "" {
		req.Header.Set("Stripe-Signature", header)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

// TestPurpose: Validates the billing webhook endpoint end to end.
// Scope: Integration Test (in-memory)
// Security: Webhook authenticity, billing consistency
// Expected: Signed checkout events upgrade the tenant and redelivery is harmless; unmatched events are acknowledged; unsigned or oversized bodies are rejected.
// Test Case ID: HTTP-03
func TestStripeWebhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payload, header := signedEvent(t, "evt_1", billing.EventCheckoutCompleted, map[string]any{
		"id":           "cs_1",
		"object":       "checkout.session",
		"customer":     "cus_1",
		"subscription": "sub_1",
		"metadata":     map[string]string{"tenant_id": "t2", "plan": "pro", "seats": "3"},
	})
	w := f.webhook(t, payload, header)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = f.webhook(t, payload, header)
	require.Equal(t, http.StatusOK, w.Code)

	tn, err := f.store.Tenants().GetByID(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, tenant.PlanPro, tn.Plan)
	assert.Equal(t, 3, tn.SeatsPurchased)

	// Upgraded: a second team invite now fits.
	w = f.do(t, http.MethodPost, "/api/v1/tenant/team/invitations", "owner2", "t2", InviteRequest{Email: "dev@example.com"})
	assert.Equal(t, http.StatusCreated, w.Code)

	payload, header = signedEvent(t, "evt_2", billing.EventSubscriptionUpdated, map[string]any{
		"id":       "sub_unknown",
		"object":   "subscription",
		"customer": "cus_unknown",
		"status":   "active",
	})
	w = f.webhook(t, payload, header)
	assert.Equal(t, http.StatusOK, w.Code, "unmatched events are acknowledged")

	w = f.webhook(t, payload, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	forged := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_other"})
	w = f.webhook(t, forged.Payload, forged.Header)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.webhook(t, bytes.Repeat([]byte("a"), maxWebhookBody+1), header)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestStripeWebhook_Disabled(t *testing.T) {
	rl := NewRateLimiter(100, 100)
	t.Cleanup(rl.Stop)
	h := NewHandler(Dependencies{Guards: authz.NewGuards(nil, nil, nil, nil, nil, nil)})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader("{}"))
	w := httptest.NewRecorder()
	NewRouter(h, rl, time.Second).ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCheckoutAndInvoices(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/tenant/billing/checkout", "owner2", "t2", CheckoutRequest{Plan: "pro", Seats: 2})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "https://checkout.stripe.test/cs_test", decode[billing.CheckoutSession](t, w).URL)

	tn, err := f.store.Tenants().GetByID(context.Background(), "t2")
	require.NoError(t, err)
	assert.Equal(t, tenant.PlanStarter, tn.Plan, "checkout never changes the plan")

	w = f.do(t, http.MethodPost, "/api/v1/tenant/billing/checkout", "owner2", "t2", CheckoutRequest{Plan: "starter"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/tenant/billing/checkout", "client", "t1", CheckoutRequest{Plan: "pro"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/tenant/invoices", "client", "t1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]billing.Invoice](t, w))
}

func TestUsage(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/tenant/usage", "owner", "t1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	usage := decode[map[string]any](t, w)
	assert.Equal(t, "pro", usage["plan"])
	assert.EqualValues(t, 2, usage["seats_purchased"])
	assert.EqualValues(t, 1, usage["team_count"])
	assert.EqualValues(t, 1, usage["clients_count"])
}

// TestPurpose: Validates impersonation over HTTP and its audit trail.
// Scope: Integration Test (in-memory)
// Security: Privileged access accountability
// Expected: Super admins start, read and stop sessions; /me reports the target while active; others are forbidden; both transitions are audited.
// Test Case ID: HTTP-04
func TestImpersonation(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/admin/impersonation", "owner", "", StartImpersonationRequest{TargetSubjectID: "client", Reason: "x"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/admin/impersonation", "admin", "", StartImpersonationRequest{TargetSubjectID: "admin", Reason: "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/admin/impersonation", "admin", "", StartImpersonationRequest{TargetSubjectID: "client", Reason: "ticket 7"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet, "/api/v1/me", "admin", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[MeResponse](t, w)
	assert.Equal(t, "client", me.SubjectID)
	assert.Equal(t, "admin", me.RealSubjectID)
	assert.True(t, me.Impersonating)
	assert.True(t, me.SuperAdmin)
	assert.Empty(t, me.Email)

	w = f.do(t, http.MethodGet, "/api/v1/admin/impersonation", "admin", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "client", decode[impersonation.Session](t, w).TargetSubjectID)

	w = f.do(t, http.MethodDelete, "/api/v1/admin/impersonation", "admin", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = f.do(t, http.MethodGet, "/api/v1/admin/impersonation", "admin", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/me", "admin", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[MeResponse](t, w).Impersonating)

	w = f.do(t, http.MethodGet, "/api/v1/admin/audit?actor_id=admin", "admin", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var actions []string
	for _, e := range decode[[]audit.Entry](t, w) {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, audit.ActionImpersonateStart)
	assert.Contains(t, actions, audit.ActionImpersonateStop)

	w = f.do(t, http.MethodGet, "/api/v1/admin/audit?since=yesterday", "admin", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPlatformRoles(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/admin/tenants", "owner", "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/admin/roles", "admin", "", GrantRoleRequest{SubjectID: "owner", Role: "Super-Admin"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/admin/tenants", "owner", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]tenant.Tenant](t, w), 2)

	w = f.do(t, http.MethodDelete, "/api/v1/admin/roles/owner/super_admin", "admin", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = f.do(t, http.MethodDelete, "/api/v1/admin/roles/owner/super_admin", "admin", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/admin/roles", "admin", "", GrantRoleRequest{SubjectID: "owner"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"unauthenticated", authz.Unauthenticated(), http.StatusUnauthorized, authz.MsgUnauthenticated},
		{"bad request", authz.BadRequest(authz.MsgTenantRequired), http.StatusBadRequest, authz.MsgTenantRequired},
		{"limit reached", &capacity.Error{Code: capacity.CodeLimitReached, Message: "full", Current: 30, Limit: 30}, http.StatusConflict, "full"},
		{"not allowed", &capacity.Error{Code: capacity.CodeNotAllowed, Message: "upgrade"}, http.StatusForbidden, "upgrade"},
		{"wrapped sentinel", errors.Join(errors.New("ctx"), tenant.ErrTenantNotFound), http.StatusNotFound, "tenant not found"},
		{"already member", errors.Join(errors.New("accept"), tenant.ErrAlreadyMember), http.StatusConflict, tenant.ErrAlreadyMember.Error()},
		{"capacity unavailable", capacity.ErrUnavailable, http.StatusServiceUnavailable, "capacity check unavailable, try again"},
		{"storage failure", errors.New("pq: relation \"tenants\" does not exist"), http.StatusInternalServerError, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeError(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.msg, decode[ErrorResponse](t, w).Error)
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	t.Cleanup(rl.Stop)
	h := RateLimitMiddleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, send("10.0.0.1:1234"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:5678"), "ports do not split a client")
	assert.Equal(t, http.StatusOK, send("10.0.0.2:1234"))
}
