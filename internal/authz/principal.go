package authz

import (
	"context"

	"github.com/portalcore/portalcore/internal/identity"
	"github.com/portalcore/portalcore/internal/impersonation"
	"github.com/portalcore/portalcore/internal/tenant"
)

type contextKey string

const principalKey contextKey = "principal"

// Principal is the authorization state resolved for one request.
type Principal struct {
	// Identity is the authenticated, real actor.
	Identity *identity.Identity
	// TenantID is the tenant the request is scoped to, if any.
	TenantID string
	// Membership is set once tenant membership has been verified.
	Membership *tenant.Membership
	// ActingAsSuperAdmin marks a request admitted by the super admin bypass.
	ActingAsSuperAdmin bool
	// Impersonating is set when the real actor has an active session;
	// Effective is then the target identity.
	Impersonating bool
	Effective     *identity.Identity
	Session       *impersonation.Session
}

// SubjectID returns the real actor's subject
func (p *Principal) SubjectID() string {
	if p == nil || p.Identity == nil {
		return ""
	}
	return p.Identity.SubjectID
}

// EffectiveSubjectID returns whose data the request sees: the impersonation
// target when impersonating, otherwise the real actor.
func (p *Principal) EffectiveSubjectID() string {
	if p != nil && p.Impersonating && p.Effective != nil {
		return p.Effective.SubjectID
	}
	return p.SubjectID()
}

// TenantRole returns the verified tenant role, or "" for super admins and
// unscoped requests.
func (p *Principal) TenantRole() string {
	if p == nil || p.Membership == nil {
		return ""
	}
	return p.Membership.Role
}

// WithPrincipal stores p in ctx
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the principal stored in ctx, if any
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok && p != nil
}
