package tenant

import (
	"context"
	"errors"
)

var (
	ErrTenantNotFound     = errors.New("tenant not found")
	ErrMembershipNotFound = errors.New("membership not found")
	ErrInvitationNotFound = errors.New("invitation not found")
	ErrInvitationExists   = errors.New("a pending invitation already exists for this email")
	ErrInvitationClosed   = errors.New("invitation is no longer valid")
	ErrNotMember          = errors.New("not a member of this tenant")
	ErrAlreadyMember      = errors.New("already a member of this tenant; change the role instead")
	ErrLastOwner          = errors.New("tenant must keep at least one owner")
	ErrInvalidRole        = errors.New("invalid tenant role")
	ErrInvalidInput       = errors.New("invalid input")
)

// Repository defines the interface for tenant storage
type Repository interface {
	Create(ctx context.Context, tenant *Tenant) error
	GetByID(ctx context.Context, id string) (*Tenant, error)
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (*Tenant, error)
	GetByCustomerID(ctx context.Context, customerID string) (*Tenant, error)
	List(ctx context.Context, limit, offset int) ([]*Tenant, error)
	// ApplyBilling writes upd to every tenant whose field equals value and
	// returns how many rows matched.
	ApplyBilling(ctx context.Context, field LookupField, value string, upd BillingUpdate) (int64, error)
}

// MembershipRepository defines the interface for membership storage.
// Upsert is keyed on (tenant_id, subject_id).
type MembershipRepository interface {
	Get(ctx context.Context, tenantID, subjectID string) (*Membership, error)
	Upsert(ctx context.Context, m *Membership) error
	Delete(ctx context.Context, tenantID, subjectID string) error
	// List returns the memberships of tenantID, or of every tenant when tenantID is empty.
	List(ctx context.Context, tenantID string) ([]*Membership, error)
	CountOwners(ctx context.Context, tenantID string) (int, error)
}

// InvitationRepository defines the interface for invitation storage
type InvitationRepository interface {
	Create(ctx context.Context, inv *Invitation) error
	Get(ctx context.Context, tenantID, id string) (*Invitation, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*Invitation, error)
	GetPendingByEmail(ctx context.Context, tenantID, email string) (*Invitation, error)
	ListPending(ctx context.Context, tenantID string) ([]*Invitation, error)
	Update(ctx context.Context, inv *Invitation) error
}

// Store groups the tenant repositories behind one transactional boundary.
type Store interface {
	Tenants() Repository
	Memberships() MembershipRepository
	Invitations() InvitationRepository
	Usage(ctx context.Context, tenantID string) (*Usage, error)
	// CreateTenant writes the tenant and its first owner together. Neither
	// is visible unless both are stored.
	CreateTenant(ctx context.Context, t *Tenant, owner *Membership) error
	// WithTenantLock runs fn while holding an exclusive lock on the tenant
	// row. Reads and writes made through tx are atomic with the lock.
	WithTenantLock(ctx context.Context, tenantID string, fn func(ctx context.Context, tx Store) error) error
}
