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

package impersonation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/portalcore/portalcore/internal/audit"
	"github.com/portalcore/portalcore/internal/observability/logger"
)

// Service starts and stops impersonation sessions and audits both.
// Callers must have verified the actor is a super admin.
type Service struct {
	store       Store
	auditWriter audit.Writer
	now         func() time.Time
}

// NewService creates a new impersonation service
func NewService(store Store, auditWriter audit.Writer) *Service {
	return &Service{store: store, auditWriter: auditWriter, now: time.Now}
}

// Start begins acting as target. An existing session of realID is
// overwritten; the audit entry records the replaced target.
func (s *Service) Start(ctx context.Context, realID, targetID, reason string) (*Session, error) {
	reason = strings.TrimSpace(reason)
	if realID == "" || targetID == "" || reason == "" {
		return nil, ErrInvalidRequest
	}
	if realID == targetID {
		return nil, ErrSelfImpersonate
	}

	session := &Session{
		RealSubjectID:   realID,
		TargetSubjectID: targetID,
		Reason:          reason,
		StartedAt:       s.now().UTC(),
	}
	prev, err := s.store.Put(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("failed to start impersonation: %w", err)
	}

	entry := audit.Entry{
		ActorID:    realID,
		Action:     audit.ActionImpersonateStart,
		EntityType: audit.EntityUser,
		EntityID:   targetID,
		Reason:     reason,
		After:      map[string]any{"target_subject_id": targetID},
	}
	if prev != nil {
		entry.Before = map[string]any{"target_subject_id": prev.TargetSubjectID, "reason": prev.Reason}
		slog.InfoContext(ctx, "impersonation session replaced",
			logger.ActorID(realID),
			logger.TargetID(targetID),
			slog.String("previous_target_id", prev.TargetSubjectID),
		)
	}
	s.auditWriter.Append(ctx, entry)
	return session, nil
}

// Stop ends the session of realID. Stopping without a session is not an
// error but is still audited.
func (s *Service) Stop(ctx context.Context, realID string) error {
	if realID == "" {
		return ErrInvalidRequest
	}
	prev, err := s.store.Delete(ctx, realID)
	if err != nil {
		return fmt.Errorf("failed to stop impersonation: %w", err)
	}

	entry := audit.Entry{
		ActorID:    realID,
		Action:     audit.ActionImpersonateStop,
		EntityType: audit.EntityUser,
	}
	if prev != nil {
		entry.EntityID = prev.TargetSubjectID
		entry.Reason = prev.Reason
		entry.Before = map[string]any{
			"target_subject_id": prev.TargetSubjectID,
			"started_at":        prev.StartedAt,
		}
	}
	s.auditWriter.Append(ctx, entry)
	return nil
}

// Get returns the active session of realID, or nil.
func (s *Service) Get(ctx context.Context, realID string) (*Session, error) {
	if realID == "" {
		return nil, nil
	}
	return s.store.Get(ctx, realID)
}
