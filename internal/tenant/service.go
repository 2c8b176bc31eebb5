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

package tenant

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/portalcore/portalcore/internal/audit"
	"github.com/portalcore/portalcore/internal/capacity"
	"github.com/portalcore/portalcore/internal/identity"
	"github.com/portalcore/portalcore/internal/observability/metrics"
	"golang.org/x/crypto/blake2b"
)

const defaultInvitationTTL = 7 * 24 * time.Hour

// Service provides tenant and membership business logic. Every write that
// can raise headcount runs its capacity check and the write under the
// tenant lock.
type Service struct {
	store       Store
	auditWriter audit.Writer
	limits      capacity.Limits
	instruments *metrics.Instruments
	inviteTTL   time.Duration
	now         func() time.Time
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithInvitationTTL sets how long invitations stay valid
func WithInvitationTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) { s.inviteTTL = ttl }
}

// WithCapacityLimits overrides the plan tier table
func WithCapacityLimits(l capacity.Limits) ServiceOption {
	return func(s *Service) { s.limits = l }
}

// WithInstruments reports metrics to in
func WithInstruments(in *metrics.Instruments) ServiceOption {
	return func(s *Service) { s.instruments = in }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a new tenant service
func NewService(store Store, auditWriter audit.Writer, opts ...ServiceOption) *Service {
	s := &Service{
		store:       store,
		auditWriter: auditWriter,
		limits:      capacity.DefaultLimits(),
		inviteTTL:   defaultInvitationTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.instruments = metrics.OrNoop(s.instruments)
	return s
}

// CreateTenant creates a starter tenant owned by owner.
func (s *Service) CreateTenant(ctx context.Context, name string, owner *identity.Identity) (*Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: tenant name is required", ErrInvalidInput)
	}
	if owner == nil || owner.SubjectID == "" {
		return nil, fmt.Errorf("%w: tenant owner is required", ErrInvalidInput)
	}

	now := s.now().UTC()
	t := &Tenant{
		ID:             uuid.Must(uuid.NewV7()).String(),
		Name:           name,
		Plan:           PlanStarter,
		SeatsPurchased: 1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	member := &Membership{
		TenantID:  t.ID,
		SubjectID: owner.SubjectID,
		Email:     normalizeEmail(owner.Email),
		Role:      RoleOwner,
		Status:    MemberActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateTenant(ctx, t, member); err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}

	s.auditWriter.Append(ctx, audit.Entry{
		ActorID:    owner.SubjectID,
		Action:     audit.ActionTenantCreated,
		EntityType: audit.EntityTenant,
		EntityID:   t.ID,
		TenantID:   t.ID,
		After:      map[string]any{"name": t.Name, "plan": string(t.Plan)},
	})
	s.auditWriter.Append(ctx, audit.Entry{
		ActorID:    owner.SubjectID,
		Action:     audit.ActionMemberAdded,
		EntityType: audit.EntityMembership,
		EntityID:   owner.SubjectID,
		TenantID:   t.ID,
		After:      membershipState(member),
	})
	return t, nil
}

// GetTenant retrieves a tenant by ID
func (s *Service) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	return s.store.Tenants().GetByID(ctx, id)
}

// ListTenants lists tenants with pagination
func (s *Service) ListTenants(ctx context.Context, limit, offset int) ([]*Tenant, error) {
	return s.store.Tenants().List(ctx, limit, offset)
}

// Usage returns the derived headcount of a tenant
func (s *Service) Usage(ctx context.Context, tenantID string) (*Usage, error) {
	return s.store.Usage(ctx, tenantID)
}

// ListMembers lists memberships of a tenant; an empty tenantID lists all tenants.
func (s *Service) ListMembers(ctx context.Context, tenantID string) ([]*Membership, error) {
	return s.store.Memberships().List(ctx, tenantID)
}

// ListInvitations lists pending invitations of a tenant
func (s *Service) ListInvitations(ctx context.Context, tenantID string) ([]*Invitation, error) {
	return s.store.Invitations().ListPending(ctx, tenantID)
}

// InviteMember creates a pending invitation after admission control. The
// returned token is shown once; only its hash is stored.
func (s *Service) InviteMember(ctx context.Context, actorID, tenantID, email, role string) (*Invitation, string, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, "", fmt.Errorf("%w: a valid email is required", ErrInvalidInput)
	}
	if !ValidRole(role) {
		return nil, "", ErrInvalidRole
	}

	token, hash, err := newInvitationToken()
	if err != nil {
		return nil, "", err
	}

	now := s.now().UTC()
	inv := &Invitation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		TenantID:  tenantID,
		Email:     email,
		Role:      role,
		TokenHash: hash,
		InvitedBy: actorID,
		Status:    InvitePending,
		ExpiresAt: now.Add(s.inviteTTL),
		CreatedAt: now,
	}

	err = s.store.WithTenantLock(ctx, tenantID, func(ctx context.Context, tx Store) error {
		existing, err := tx.Invitations().GetPendingByEmail(ctx, tenantID, email)
		if err != nil && !errors.Is(err, ErrInvitationNotFound) {
			return err
		}
		if existing != nil && existing.IsOpen(now) {
			return ErrInvitationExists
		}
		if err := s.admit(ctx, tx, tenantID, role); err != nil {
			return err
		}
		return tx.Invitations().Create(ctx, inv)
	})
	if err != nil {
		s.auditDenial(ctx, actorID, tenantID, role, err)
		return nil, "", err
	}

	s.auditWriter.Append(ctx, audit.Entry{
		ActorID:    actorID,
		Action:     audit.ActionMemberInvited,
		EntityType: audit.EntityInvitation,
		EntityID:   inv.ID,
		TenantID:   tenantID,
		After:      map[string]any{"email": inv.Email, "role": inv.Role, "expires_at": inv.ExpiresAt},
	})
	return inv, token, nil
}

// RevokeInvitation withdraws a pending invitation, releasing its capacity.
func (s *Service) RevokeInvitation(ctx context.Context, actorID, tenantID, invitationID string) error {
	err := s.store.WithTenantLock(ctx, tenantID, func(ctx context.Context, tx Store) error {
		inv, err := tx.Invitations().Get(ctx, tenantID, invitationID)
		if err != nil {
			return err
		}
		if inv.Status != InvitePending {
			return ErrInvitationClosed
		}
		inv.Status = InviteRevoked
		return tx.Invitations().Update(ctx, inv)
	})
	if err != nil {
		return err
	}

	s.auditWriter.Append(ctx, audit.Entry{
		ActorID:    actorID,
		Action:     audit.ActionInviteRevoked,
		EntityType: audit.EntityInvitation,
		EntityID:   invitationID,
		TenantID:   tenantID,
	})
	return nil
}

// AcceptInvitation turns the invitation identified by token into an active
// membership for id. The invitation already holds capacity, so no further
// admission check runs.
func (s *Service) AcceptInvitation(ctx context.Context, token string, id *identity.Identity) (*Membership, error) {
	if token == "" || id == nil || id.SubjectID == "" {
		return nil, ErrInvitationNotFound
	}
	hash := hashInvitationToken(token)

	inv, err := s.store.Invitations().GetByTokenHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if id.Email != "" && normalizeEmail(id.Email) != inv.Email {
		return nil, ErrInvitationNotFound
	}

	var member *Membership
	err = s.store.WithTenantLock(ctx, inv.TenantID, func(ctx context.Context, tx Store) error {
		// Re-read under the lock: a concurrent accept or revoke may have won.
		locked, err := tx.Invitations().GetByTokenHash(ctx, hash)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if !locked.IsOpen(now) {
			return ErrInvitationClosed
		}

		member = &Membership{
			TenantID:  locked.TenantID,
			SubjectID: id.SubjectID,
			Email:     locked.Email,
			Role:      locked.Role,
			Status:    MemberActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		// Active members keep their role; role changes go through
		// UpdateMemberRole. The invitation stays pending.
		if existing, err := tx.Memberships().Get(ctx, locked.TenantID, id.SubjectID); err == nil {
			if existing.IsActive() {
				return ErrAlreadyMember
			}
			member.CreatedAt = existing.CreatedAt
		} else if !errors.Is(err, ErrMembershipNotFound) {
			return err
		}
		if err := tx.Memberships().Upsert(ctx, member); err != nil {
			return err
		}

		locked.Status = InviteAccepted
		locked.AcceptedBy = id.SubjectID
		locked.AcceptedAt = &now
		return tx.Invitations().Update(ctx, locked)
	})
	if err != nil {
		return nil, err
	}

	s.auditWriter.Append(ctx, audit.Entry{
		ActorID:    id.SubjectID,
		Action:     audit.ActionInviteAccepted,
		EntityType: audit.EntityMembership,
		EntityID:   id.SubjectID,
		TenantID:   member.TenantID,
		After:      map[string]any{"role": member.Role, "invitation_id": inv.ID},
	})
	return member, nil
}

// AddMember upserts an active membership directly, after admission control.
func (s *Service) AddMember(ctx context.Context, actorID, tenantID, subjectID, email, role string) (*Membership, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subject id is required", ErrInvalidInput)
	}
	if !ValidRole(role) {
		return nil, ErrInvalidRole
	}

	var (
		member *Membership
		before *Membership
	)
	err := s.store.WithTenantLock(ctx, tenantID, func(ctx context.Context, tx Store) error {
		existing, err := tx.Memberships().Get(ctx, tenantID, subjectID)
		if err != nil && !errors.Is(err, ErrMembershipNotFound) {
			return err
		}
		before = existing

		if !occupiesSame(existing, role) {
			if err := s.admit(ctx, tx, tenantID, role); err != nil {
				return err
			}
		}

		now := s.now().UTC()
		member = &Membership{
			TenantID:  tenantID,
			SubjectID: subjectID,
			Email:     normalizeEmail(email),
			Role:      role,
			Status:    MemberActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if existing != nil {
			member.CreatedAt = existing.CreatedAt
		}
		return tx.Memberships().Upsert(ctx, member)
	})
	if err != nil {
		s.auditDenial(ctx, actorID, tenantID, role, err)
		return nil, err
	}

	s.auditWriter.Append(ctx, audit.Entry{
		ActorID:    actorID,
		Action:     audit.ActionMemberAdded,
		EntityType: audit.EntityMembership,
		EntityID:   subjectID,
		TenantID:   tenantID,
		Before:     membershipState(before),
		After:      membershipState(member),
	})
	return member, nil
}

// UpdateMemberRole changes a member's role. Moving a client onto the team
// is admission-checked; demoting the last owner is refused.
func (s *Service) UpdateMemberRole(ctx context.Context, actorID, tenantID, subjectID, role string) (*Membership, error) {
	if !ValidRole(role) {
		return nil, ErrInvalidRole
	}

	var before, after Membership
	err := s.store.WithTenantLock(ctx, tenantID, func(ctx context.Context, tx Store) error {
		m, err := tx.Memberships().Get(ctx, tenantID, subjectID)
		if errors.Is(err, ErrMembershipNotFound) {
			return ErrNotMember
		}
		if err != nil {
			return err
		}
		before = *m

		if m.Role == RoleOwner && role != RoleOwner {
			if err := ensureAnotherOwner(ctx, tx, tenantID); err != nil {
				return err
			}
		}
		if !occupiesSame(m, role) {
			if err := s.admit(ctx, tx, tenantID, role); err != nil {
				return err
			}
		}

		m.Role = role
		m.UpdatedAt = s.now().UTC()
		after = *m
		return tx.Memberships().Upsert(ctx, m)
	})
	if err != nil {
		s.auditDenial(ctx, actorID, tenantID, role, err)
		return nil, err
	}

	s.auditWriter.Append(ctx, audit.Entry{
		ActorID:    actorID,
		Action:     audit.ActionMemberRoleChanged,
		EntityType: audit.EntityMembership,
		EntityID:   subjectID,
		TenantID:   tenantID,
		Before:     membershipState(&before),
		After:      membershipState(&after),
	})
	return &after, nil
}

// RemoveMember deletes a membership. The last owner cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, actorID, tenantID, subjectID string) error {
	var before *Membership
	err := s.store.WithTenantLock(ctx, tenantID, func(ctx context.Context, tx Store) error {
		m, err := tx.Memberships().Get(ctx, tenantID, subjectID)
		if errors.Is(err, ErrMembershipNotFound) {
			return ErrNotMember
		}
		if err != nil {
			return err
		}
		if m.Role == RoleOwner {
			if err := ensureAnotherOwner(ctx, tx, tenantID); err != nil {
				return err
			}
		}
		before = m
		return tx.Memberships().Delete(ctx, tenantID, subjectID)
	})
	if err != nil {
		return err
	}

	s.auditWriter.Append(ctx, audit.Entry{
		ActorID:    actorID,
		Action:     audit.ActionMemberRemoved,
		EntityType: audit.EntityMembership,
		EntityID:   subjectID,
		TenantID:   tenantID,
		Before:     membershipState(before),
	})
	return nil
}

func (s *Service) admit(ctx context.Context, tx Store, tenantID, role string) error {
	enforcer := capacity.NewEnforcer(snapshotSource{store: tx},
		capacity.WithLimits(s.limits),
		capacity.WithInstruments(s.instruments),
	)
	if IsTeamRole(role) {
		return enforcer.EnsureTeamCapacity(ctx, tenantID)
	}
	return enforcer.EnsureClientCapacity(ctx, tenantID)
}

func (s *Service) auditDenial(ctx context.Context, actorID, tenantID, role string, err error) {
	var capErr *capacity.Error
	if !errors.As(err, &capErr) {
		return
	}
	s.auditWriter.Append(ctx, audit.Entry{
		ActorID:    actorID,
		Action:     audit.ActionCapacityDenied,
		EntityType: audit.EntityTenant,
		EntityID:   tenantID,
		TenantID:   tenantID,
		Metadata: map[string]any{
			"code":    capErr.Code,
			"role":    role,
			"current": capErr.Current,
			"limit":   capErr.Limit,
		},
	})
}

// snapshotSource reads capacity inputs through a (possibly locked) store.
type snapshotSource struct {
	store Store
}

func (src snapshotSource) CapacitySnapshot(ctx context.Context, tenantID string) (capacity.Snapshot, error) {
	t, err := src.store.Tenants().GetByID(ctx, tenantID)
	if err != nil {
		return capacity.Snapshot{}, err
	}
	u, err := src.store.Usage(ctx, tenantID)
	if err != nil {
		return capacity.Snapshot{}, err
	}
	return capacity.Snapshot{
		Plan:           string(t.Plan),
		SeatsPurchased: t.SeatsPurchased,
		TeamCount:      u.TeamCount,
		ClientCount:    u.ClientsCount,
	}, nil
}

func ensureAnotherOwner(ctx context.Context, tx Store, tenantID string) error {
	owners, err := tx.Memberships().CountOwners(ctx, tenantID)
	if err != nil {
		return err
	}
	if owners <= 1 {
		return ErrLastOwner
	}
	return nil
}

// occupiesSame reports whether m already holds a seat of the kind role needs.
func occupiesSame(m *Membership, role string) bool {
	return m.IsActive() && IsTeamRole(m.Role) == IsTeamRole(role)
}

func membershipState(m *Membership) map[string]any {
	if m == nil {
		return nil
	}
	return map[string]any{"role": m.Role, "status": m.Status}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func newInvitationToken() (token, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate invitation token: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(b)
	return token, hashInvitationToken(token), nil
}

func hashInvitationToken(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
