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

// Package memory is an in-process implementation of every repository. It
// backs tests and STORE_DRIVER=memory development runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/portalcore/portalcore/internal/audit"
	"github.com/portalcore/portalcore/internal/authz"
	"github.com/portalcore/portalcore/internal/billing"
	"github.com/portalcore/portalcore/internal/tenant"
)

type memberKey struct {
	tenantID  string
	subjectID string
}

// Store holds all state behind one RWMutex plus per-tenant admission locks.
type Store struct {
	mu          sync.RWMutex
	tenants     map[string]tenant.Tenant
	memberships map[memberKey]tenant.Membership
	invitations map[string]tenant.Invitation
	invoices    map[string]billing.Invoice
	globalRoles map[string]map[string]authz.GlobalRole
	auditLog    []audit.Entry

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	now func() time.Time
}

// New creates an empty store
func New() *Store {
	return &Store{
		tenants:     make(map[string]tenant.Tenant),
		memberships: make(map[memberKey]tenant.Membership),
		invitations: make(map[string]tenant.Invitation),
		invoices:    make(map[string]billing.Invoice),
		globalRoles: make(map[string]map[string]authz.GlobalRole),
		locks:       make(map[string]*sync.Mutex),
		now:         time.Now,
	}
}

// SetClock overrides time.Now for expiry checks
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Tenants returns the tenant repository
func (s *Store) Tenants() tenant.Repository { return tenantRepo{s} }

// Memberships returns the membership repository
func (s *Store) Memberships() tenant.MembershipRepository { return membershipRepo{s} }

// Invitations returns the invitation repository
func (s *Store) Invitations() tenant.InvitationRepository { return invitationRepo{s} }

// Invoices returns the invoice ledger
func (s *Store) Invoices() billing.InvoiceRepository { return invoiceRepo{s} }

// GlobalRoles returns the platform role repository
func (s *Store) GlobalRoles() authz.GlobalRoleRepository { return globalRoleRepo{s} }

// AuditLog returns the audit repository
func (s *Store) AuditLog() audit.Repository { return auditRepo{s} }

// Usage counts active memberships and open invitations.
func (s *Store) Usage(ctx context.Context, tenantID string) (*tenant.Usage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	u := &tenant.Usage{TenantID: tenantID}
	for k, m := range s.memberships {
		if k.tenantID != tenantID || !m.IsActive() {
			continue
		}
		count(u, m.Role)
	}
	now := s.now()
	for _, inv := range s.invitations {
		if inv.TenantID == tenantID && inv.IsOpen(now) {
			count(u, inv.Role)
		}
	}
	return u, nil
}

func count(u *tenant.Usage, role string) {
	if tenant.IsTeamRole(role) {
		u.TeamCount++
	} else {
		u.ClientsCount++
	}
}

// CreateTenant stores t and owner under one write lock.
func (s *Store) CreateTenant(ctx context.Context, t *tenant.Tenant, owner *tenant.Membership) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if owner == nil || owner.TenantID != t.ID {
		return tenant.ErrInvalidInput
	}
	if !tenant.ValidRole(owner.Role) {
		return tenant.ErrInvalidRole
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = *t
	s.memberships[memberKey{owner.TenantID, owner.SubjectID}] = *owner
	return nil
}

// WithTenantLock serializes fn against other admission writes of tenantID.
func (s *Store) WithTenantLock(ctx context.Context, tenantID string, fn func(ctx context.Context, tx tenant.Store) error) error {
	if _, err := s.Tenants().GetByID(ctx, tenantID); err != nil {
		return err
	}

	s.locksMu.Lock()
	l, ok := s.locks[tenantID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[tenantID] = l
	}
	s.locksMu.Unlock()

	l.Lock()
	defer l.Unlock()
	return fn(ctx, s)
}

type tenantRepo struct{ s *Store }

func (r tenantRepo) Create(ctx context.Context, t *tenant.Tenant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.tenants[t.ID] = *t
	return nil
}

func (r tenantRepo) GetByID(ctx context.Context, id string) (*tenant.Tenant, error) {
	return r.find(ctx, func(t tenant.Tenant) bool { return t.ID == id })
}

func (r tenantRepo) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*tenant.Tenant, error) {
	if subscriptionID == "" {
		return nil, tenant.ErrTenantNotFound
	}
	return r.find(ctx, func(t tenant.Tenant) bool { return t.StripeSubscriptionID == subscriptionID })
}

func (r tenantRepo) GetByCustomerID(ctx context.Context, customerID string) (*tenant.Tenant, error) {
	if customerID == "" {
		return nil, tenant.ErrTenantNotFound
	}
	return r.find(ctx, func(t tenant.Tenant) bool { return t.StripeCustomerID == customerID })
}

func (r tenantRepo) find(ctx context.Context, match func(tenant.Tenant) bool) (*tenant.Tenant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, t := range r.s.tenants {
		if match(t) {
			out := t
			return &out, nil
		}
	}
	return nil, tenant.ErrTenantNotFound
}

func (r tenantRepo) List(ctx context.Context, limit, offset int) ([]*tenant.Tenant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	all := make([]*tenant.Tenant, 0, len(r.s.tenants))
	for _, t := range r.s.tenants {
		t := t
		all = append(all, &t)
	}
	r.s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return page(all, limit, offset), nil
}

func (r tenantRepo) ApplyBilling(ctx context.Context, field tenant.LookupField, value string, upd tenant.BillingUpdate) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if value == "" {
		return 0, nil
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for id, t := range r.s.tenants {
		var key string
		switch field {
		case tenant.BySubscriptionID:
			key = t.StripeSubscriptionID
		case tenant.ByCustomerID:
			key = t.StripeCustomerID
		default:
			key = t.ID
		}
		if key != value {
			continue
		}
		upd.Apply(&t)
		t.UpdatedAt = r.s.now().UTC()
		r.s.tenants[id] = t
		n++
	}
	return n, nil
}

type membershipRepo struct{ s *Store }

func (r membershipRepo) Get(ctx context.Context, tenantID, subjectID string) (*tenant.Membership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.memberships[memberKey{tenantID, subjectID}]
	if !ok {
		return nil, tenant.ErrMembershipNotFound
	}
	return &m, nil
}

func (r membershipRepo) Upsert(ctx context.Context, m *tenant.Membership) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := memberKey{m.TenantID, m.SubjectID}
	next := *m
	if existing, ok := r.s.memberships[key]; ok {
		next.CreatedAt = existing.CreatedAt
	}
	r.s.memberships[key] = next
	return nil
}

func (r membershipRepo) Delete(ctx context.Context, tenantID, subjectID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := memberKey{tenantID, subjectID}
	if _, ok := r.s.memberships[key]; !ok {
		return tenant.ErrMembershipNotFound
	}
	delete(r.s.memberships, key)
	return nil
}

func (r membershipRepo) List(ctx context.Context, tenantID string) ([]*tenant.Membership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*tenant.Membership
	for k, m := range r.s.memberships {
		if tenantID == "" || k.tenantID == tenantID {
			m := m
			out = append(out, &m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r membershipRepo) CountOwners(ctx context.Context, tenantID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for k, m := range r.s.memberships {
		if k.tenantID == tenantID && m.Role == tenant.RoleOwner && m.IsActive() {
			n++
		}
	}
	return n, nil
}

type invitationRepo struct{ s *Store }

func (r invitationRepo) Create(ctx context.Context, inv *tenant.Invitation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.invitations[inv.ID] = *inv
	return nil
}

func (r invitationRepo) Get(ctx context.Context, tenantID, id string) (*tenant.Invitation, error) {
	return r.find(ctx, func(inv tenant.Invitation) bool { return inv.ID == id && inv.TenantID == tenantID })
}

func (r invitationRepo) GetByTokenHash(ctx context.Context, tokenHash string) (*tenant.Invitation, error) {
	return r.find(ctx, func(inv tenant.Invitation) bool { return inv.TokenHash == tokenHash })
}

func (r invitationRepo) GetPendingByEmail(ctx context.Context, tenantID, email string) (*tenant.Invitation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var newest *tenant.Invitation
	for _, inv := range r.s.invitations {
		if inv.TenantID != tenantID || inv.Status != tenant.InvitePending || !strings.EqualFold(inv.Email, email) {
			continue
		}
		if newest == nil || inv.CreatedAt.After(newest.CreatedAt) {
			inv := inv
			newest = &inv
		}
	}
	if newest == nil {
		return nil, tenant.ErrInvitationNotFound
	}
	return newest, nil
}

func (r invitationRepo) find(ctx context.Context, match func(tenant.Invitation) bool) (*tenant.Invitation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, inv := range r.s.invitations {
		if match(inv) {
			out := inv
			return &out, nil
		}
	}
	return nil, tenant.ErrInvitationNotFound
}

func (r invitationRepo) ListPending(ctx context.Context, tenantID string) ([]*tenant.Invitation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*tenant.Invitation
	for _, inv := range r.s.invitations {
		if inv.TenantID == tenantID && inv.Status == tenant.InvitePending {
			inv := inv
			out = append(out, &inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r invitationRepo) Update(ctx context.Context, inv *tenant.Invitation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.invitations[inv.ID]; !ok {
		return tenant.ErrInvitationNotFound
	}
	r.s.invitations[inv.ID] = *inv
	return nil
}

type invoiceRepo struct{ s *Store }

func (r invoiceRepo) Insert(ctx context.Context, inv *billing.Invoice) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.invoices[inv.ProviderInvoiceID]; ok {
		return false, nil
	}
	r.s.invoices[inv.ProviderInvoiceID] = *inv
	return true, nil
}

func (r invoiceRepo) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*billing.Invoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*billing.Invoice
	for _, inv := range r.s.invoices {
		if inv.TenantID == tenantID {
			inv := inv
			out = append(out, &inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, 0), nil
}

type globalRoleRepo struct{ s *Store }

func (r globalRoleRepo) ListRoles(ctx context.Context, subjectID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []string
	for role := range r.s.globalRoles[subjectID] {
		out = append(out, role)
	}
	sort.Strings(out)
	return out, nil
}

func (r globalRoleRepo) Grant(ctx context.Context, role *authz.GlobalRole) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	roles, ok := r.s.globalRoles[role.SubjectID]
	if !ok {
		roles = make(map[string]authz.GlobalRole)
		r.s.globalRoles[role.SubjectID] = roles
	}
	roles[role.Role] = *role
	return nil
}

func (r globalRoleRepo) Revoke(ctx context.Context, subjectID, role string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.globalRoles[subjectID][role]; !ok {
		return authz.ErrGlobalRoleNotFound
	}
	delete(r.s.globalRoles[subjectID], role)
	return nil
}

type auditRepo struct{ s *Store }

func (r auditRepo) Append(ctx context.Context, e *audit.Entry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.auditLog = append(r.s.auditLog, *e)
	return nil
}

func (r auditRepo) List(ctx context.Context, f audit.Filter) ([]*audit.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f = f.Normalized()
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*audit.Entry
	for i := len(r.s.auditLog) - 1; i >= 0; i-- {
		e := r.s.auditLog[i]
		if f.TenantID != "" && e.TenantID != f.TenantID {
			continue
		}
		if f.ActorID != "" && e.ActorID != f.ActorID {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
			continue
		}
		out = append(out, &e)
	}
	return page(out, f.Limit, f.Offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
