package authz

import (
	"context"
	"fmt"
	"time"

	"github.com/portalcore/portalcore/internal/audit"
)

// Service manages platform role grants. It is used by operator tooling;
// there is no HTTP surface for granting super admin.
type Service struct {
	repo        GlobalRoleRepository
	lookup      *RoleLookup
	auditWriter audit.Writer
}

// NewService creates a new authorization service
func NewService(repo GlobalRoleRepository, lookup *RoleLookup, auditWriter audit.Writer) *Service {
	return &Service{repo: repo, lookup: lookup, auditWriter: auditWriter}
}

// GrantGlobalRole grants a platform role. Role names are stored canonically.
func (s *Service) GrantGlobalRole(ctx context.Context, subjectID, role, grantedBy string) error {
	if subjectID == "" || role == "" {
		return ErrInvalidGrant
	}
	canonical := string(NormalizeRole(role))

	if err := s.repo.Grant(ctx, &GlobalRole{
		SubjectID: subjectID,
		Role:      canonical,
		GrantedBy: grantedBy,
		GrantedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("failed to grant role: %w", err)
	}
	if s.lookup != nil {
		s.lookup.Invalidate(subjectID)
	}

	s.auditWriter.Append(ctx, audit.Entry{
		ActorID:    grantedBy,
		Action:     audit.ActionGlobalRoleGranted,
		EntityType: audit.EntityGlobalRole,
		EntityID:   subjectID,
		After:      map[string]any{"role": canonical},
	})
	return nil
}

// RevokeGlobalRole removes a platform role.
func (s *Service) RevokeGlobalRole(ctx context.Context, subjectID, role, revokedBy string) error {
	canonical := string(NormalizeRole(role))
	if err := s.repo.Revoke(ctx, subjectID, canonical); err != nil {
		return fmt.Errorf("failed to revoke role: %w", err)
	}
	if s.lookup != nil {
		s.lookup.Invalidate(subjectID)
	}

	s.auditWriter.Append(ctx, audit.Entry{
		ActorID:    revokedBy,
		Action:     audit.ActionGlobalRoleRevoked,
		EntityType: audit.EntityGlobalRole,
		EntityID:   subjectID,
		Before:     map[string]any{"role": canonical},
	})
	return nil
}
