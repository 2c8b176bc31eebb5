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

package authz

import (
	"context"
	"errors"
	"slices"

	"github.com/portalcore/portalcore/internal/identity"
	"github.com/portalcore/portalcore/internal/impersonation"
	"github.com/portalcore/portalcore/internal/observability/logger"
	"github.com/portalcore/portalcore/internal/observability/metrics"
	"github.com/portalcore/portalcore/internal/observability/tracing"
	"github.com/portalcore/portalcore/internal/tenant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Request is the transport-independent view of an inbound request.
type Request struct {
	// Credential is the bearer token, if any.
	Credential string
	// TenantID is the out-of-band tenant identifier, if any.
	TenantID string
}

// Guard either admits the request, returning a context that may carry an
// enriched Principal, or halts it with an *Error.
type Guard func(ctx context.Context, req *Request) (context.Context, error)

// Chain runs guards in order and stops at the first failure.
func Chain(guards ...Guard) Guard {
	return func(ctx context.Context, req *Request) (context.Context, error) {
		ctx, span := tracing.Start(ctx, tracing.ScopeAuthz, "authz.Chain",
			trace.WithAttributes(attribute.Int("authz.guards", len(guards))))
		defer span.End()

		for _, g := range guards {
			next, err := g(ctx, req)
			if err != nil {
				span.SetAttributes(attribute.String("authz.denied", err.Error()))
				return ctx, err
			}
			ctx = next
		}
		return ctx, nil
	}
}

// SuperAdminChecker reports platform super admin status, fail-closed.
type SuperAdminChecker interface {
	IsSuperAdmin(ctx context.Context, subjectID string) bool
}

// MembershipResolver resolves an active tenant membership or ErrNotMember.
type MembershipResolver interface {
	Resolve(ctx context.Context, id *identity.Identity, tenantID string) (*tenant.Membership, error)
}

// SessionReader reads impersonation sessions
type SessionReader interface {
	Get(ctx context.Context, realSubjectID string) (*impersonation.Session, error)
}

// Guards builds the standard guards over shared collaborators.
type Guards struct {
	resolver    identity.Resolver
	roles       SuperAdminChecker
	members     MembershipResolver
	sessions    SessionReader
	security    *logger.SecurityLogger
	instruments *metrics.Instruments
}

// NewGuards creates a guard factory
func NewGuards(
	resolver identity.Resolver,
	roles SuperAdminChecker,
	members MembershipResolver,
	sessions SessionReader,
	security *logger.SecurityLogger,
	instruments *metrics.Instruments,
) *Guards {
	if security == nil {
		security = logger.NewSecurityLogger(nil)
	}
	return &Guards{
		resolver:    resolver,
		roles:       roles,
		members:     members,
		sessions:    sessions,
		security:    security,
		instruments: metrics.OrNoop(instruments),
	}
}

// RequireAuthenticated resolves the credential into a Principal.
func (g *Guards) RequireAuthenticated() Guard {
	return func(ctx context.Context, req *Request) (context.Context, error) {
		id, err := g.resolver.Resolve(ctx, req.Credential)
		if err != nil || id == nil {
			return ctx, g.deny(ctx, "authenticated", "", req.TenantID, Unauthenticated())
		}
		return WithPrincipal(ctx, &Principal{Identity: id, TenantID: req.TenantID}), nil
	}
}

// RequireTenantMembership requires a tenant id and an active membership
// of the real actor in that tenant.
func (g *Guards) RequireTenantMembership() Guard {
	return func(ctx context.Context, req *Request) (context.Context, error) {
		p, ok := PrincipalFrom(ctx)
		if !ok {
			return ctx, g.deny(ctx, "tenant_membership", "", req.TenantID, Unauthenticated())
		}
		if req.TenantID == "" {
			return ctx, g.deny(ctx, "tenant_membership", p.SubjectID(), "", BadRequest(MsgTenantRequired))
		}

		m, err := g.members.Resolve(ctx, p.Identity, req.TenantID)
		if err != nil {
			return ctx, g.deny(ctx, "tenant_membership", p.SubjectID(), req.TenantID, Forbidden(MsgNotMember))
		}

		next := *p
		next.TenantID = req.TenantID
		next.Membership = m
		return WithPrincipal(ctx, &next), nil
	}
}

// RequireSuperAdminOrTenantMembership admits super admins without a
// membership; a tenant id they supply only scopes the request. Everyone
// else goes through RequireTenantMembership.
func (g *Guards) RequireSuperAdminOrTenantMembership() Guard {
	membership := g.RequireTenantMembership()
	return func(ctx context.Context, req *Request) (context.Context, error) {
		p, ok := PrincipalFrom(ctx)
		if !ok {
			return ctx, g.deny(ctx, "super_admin_or_membership", "", req.TenantID, Unauthenticated())
		}
		if g.roles.IsSuperAdmin(ctx, p.SubjectID()) {
			g.security.SuperAdminBypass(ctx, p.SubjectID(), req.TenantID)
			next := *p
			next.TenantID = req.TenantID
			next.ActingAsSuperAdmin = true
			return WithPrincipal(ctx, &next), nil
		}
		return membership(ctx, req)
	}
}

// RequireSuperAdmin admits only platform super admins.
func (g *Guards) RequireSuperAdmin() Guard {
	return func(ctx context.Context, req *Request) (context.Context, error) {
		p, ok := PrincipalFrom(ctx)
		if !ok {
			return ctx, g.deny(ctx, "super_admin", "", req.TenantID, Unauthenticated())
		}
		if !g.roles.IsSuperAdmin(ctx, p.SubjectID()) {
			return ctx, g.deny(ctx, "super_admin", p.SubjectID(), req.TenantID, Forbidden(MsgSuperAdminRequired))
		}
		next := *p
		next.ActingAsSuperAdmin = true
		return WithPrincipal(ctx, &next), nil
	}
}

// RequireTenantRole restricts an operation to the given tenant roles. It
// must follow a membership guard; super admins pass.
func (g *Guards) RequireTenantRole(roles ...string) Guard {
	return func(ctx context.Context, req *Request) (context.Context, error) {
		p, ok := PrincipalFrom(ctx)
		if !ok {
			return ctx, g.deny(ctx, "tenant_role", "", req.TenantID, Unauthenticated())
		}
		if p.ActingAsSuperAdmin || slices.Contains(roles, p.TenantRole()) {
			return ctx, nil
		}
		return ctx, g.deny(ctx, "tenant_role", p.SubjectID(), req.TenantID, Forbidden(MsgInsufficientTenantRole))
	}
}

// WithImpersonation attaches the real actor's impersonation session, if
// any. It changes whose data is seen, never which guards run or what they
// grant. A store failure leaves the request unimpersonated.
func (g *Guards) WithImpersonation() Guard {
	return func(ctx context.Context, req *Request) (context.Context, error) {
		p, ok := PrincipalFrom(ctx)
		if !ok || g.sessions == nil {
			return ctx, nil
		}
		s, err := g.sessions.Get(ctx, p.SubjectID())
		if err != nil {
			g.security.Log(ctx, logger.SecurityEvent{
				Category:  "authorization",
				SubjectID: p.SubjectID(),
				Guard:     "impersonation",
				Result:    "degraded",
				Reason:    err.Error(),
			})
			return ctx, nil
		}
		if s == nil {
			return ctx, nil
		}
		next := *p
		next.Impersonating = true
		next.Effective = &identity.Identity{SubjectID: s.TargetSubjectID}
		next.Session = s
		return WithPrincipal(ctx, &next), nil
	}
}

func (g *Guards) deny(ctx context.Context, guard, subjectID, tenantID string, e *Error) error {
	g.instruments.GuardDenials.Add(ctx, 1, metric.WithAttributes(
		attribute.String("guard", guard),
		attribute.String("kind", string(e.Kind)),
	))
	reason := e.Message
	if err := ctx.Err(); err != nil && errors.Is(err, context.DeadlineExceeded) {
		reason += " (deadline exceeded)"
	}
	g.security.AccessDenied(ctx, guard, subjectID, tenantID, reason)
	return e
}
