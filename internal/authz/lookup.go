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
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/portalcore/portalcore/internal/observability/logger"
	"github.com/portalcore/portalcore/internal/observability/metrics"
	"golang.org/x/sync/singleflight"
)

var (
	ErrGlobalRoleNotFound = errors.New("global role not found")
	ErrInvalidGrant       = errors.New("subject and role are required")
)

const fetchTimeout = 5 * time.Second

// GlobalRoleReader reads a subject's platform roles
type GlobalRoleReader interface {
	ListRoles(ctx context.Context, subjectID string) ([]string, error)
}

// GlobalRoleRepository manages platform role grants
type GlobalRoleRepository interface {
	GlobalRoleReader
	Grant(ctx context.Context, role *GlobalRole) error
	Revoke(ctx context.Context, subjectID, role string) error
}

// LookupConfig tunes the role cache
type LookupConfig struct {
	CacheTTL  time.Duration
	CacheSize int
}

// RoleLookup answers "is this subject a super admin" with a short-lived
// cache. Concurrent misses for one subject share a single store read, and
// failures are never cached.
type RoleLookup struct {
	repo        GlobalRoleReader
	cache       *expirable.LRU[string, GlobalRoles]
	group       singleflight.Group
	instruments *metrics.Instruments
}

// NewRoleLookup creates a new lookup. A zero TTL disables caching.
func NewRoleLookup(repo GlobalRoleReader, cfg LookupConfig, instruments *metrics.Instruments) *RoleLookup {
	l := &RoleLookup{repo: repo, instruments: metrics.OrNoop(instruments)}
	if cfg.CacheTTL > 0 {
		size := cfg.CacheSize
		if size <= 0 {
			size = 1024
		}
		l.cache = expirable.NewLRU[string, GlobalRoles](size, nil, cfg.CacheTTL)
	}
	return l
}

// Lookup returns the subject's platform roles.
func (l *RoleLookup) Lookup(ctx context.Context, subjectID string) (GlobalRoles, error) {
	if subjectID == "" {
		return GlobalRoles{}, nil
	}
	if l.cache != nil {
		if roles, ok := l.cache.Get(subjectID); ok {
			return roles, nil
		}
	}

	ch := l.group.DoChan(subjectID, func() (any, error) {
		// Detached from any single caller so one cancelled request does not
		// fail the others waiting on the same key.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		raw, err := l.repo.ListRoles(fetchCtx, subjectID)
		if err != nil {
			return GlobalRoles{}, err
		}
		roles := classify(raw)
		if l.cache != nil {
			l.cache.Add(subjectID, roles)
		}
		return roles, nil
	})

	select {
	case <-ctx.Done():
		return GlobalRoles{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return GlobalRoles{}, res.Err
		}
		return res.Val.(GlobalRoles), nil
	}
}

// IsSuperAdmin reports whether the subject holds the super admin role. Any
// lookup failure, including a cancelled context, yields false.
func (l *RoleLookup) IsSuperAdmin(ctx context.Context, subjectID string) bool {
	roles, err := l.Lookup(ctx, subjectID)
	if err != nil {
		slog.ErrorContext(ctx, "global role lookup failed",
			logger.SubjectID(subjectID),
			logger.Error(err),
		)
		l.instruments.RoleLookupErrors.Add(ctx, 1)
		return false
	}
	return roles.IsSuperAdmin
}

// Invalidate drops a cached entry after a grant or revoke.
func (l *RoleLookup) Invalidate(subjectID string) {
	if l.cache != nil {
		l.cache.Remove(subjectID)
	}
}
