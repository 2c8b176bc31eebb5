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
	"errors"
	"log/slog"

	"github.com/portalcore/portalcore/internal/identity"
	"github.com/portalcore/portalcore/internal/observability/logger"
	"github.com/portalcore/portalcore/internal/observability/metrics"
	"github.com/portalcore/portalcore/internal/observability/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

// MembershipAccessor resolves the tenant-scoped membership of an identity.
type MembershipAccessor struct {
	repo        MembershipRepository
	instruments *metrics.Instruments
}

// NewMembershipAccessor creates a new accessor
func NewMembershipAccessor(repo MembershipRepository, instruments *metrics.Instruments) *MembershipAccessor {
	return &MembershipAccessor{repo: repo, instruments: metrics.OrNoop(instruments)}
}

// Resolve returns the active membership of id in tenantID. A missing row, an
// inactive row and a store error all return ErrNotMember; store errors are
// logged and counted first.
func (a *MembershipAccessor) Resolve(ctx context.Context, id *identity.Identity, tenantID string) (*Membership, error) {
	if id == nil || id.SubjectID == "" || tenantID == "" {
		return nil, ErrNotMember
	}

	ctx, span := tracing.Start(ctx, tracing.ScopeTenant, "MembershipAccessor.Resolve")
	defer span.End()

	m, err := a.repo.Get(ctx, tenantID, id.SubjectID)
	switch {
	case errors.Is(err, ErrMembershipNotFound):
		return nil, ErrNotMember
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "membership lookup failed")
		slog.ErrorContext(ctx, "membership lookup failed",
			logger.TenantID(tenantID),
			logger.SubjectID(id.SubjectID),
			logger.Error(err),
		)
		a.instruments.MembershipLookupErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.Bool("timeout", errors.Is(err, context.DeadlineExceeded))))
		return nil, ErrNotMember
	case !m.IsActive():
		return nil, ErrNotMember
	}
	return m, nil
}
