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

package capacity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/portalcore/portalcore/internal/observability/logger"
	"github.com/portalcore/portalcore/internal/observability/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Error codes
const (
	CodeLimitReached  = "LIMIT_REACHED"
	CodeNotAllowed    = "NOT_ALLOWED"
	CodeSeatsRequired = "SEATS_REQUIRED"
)

// ErrUnavailable is returned when the tenant or its usage cannot be read.
// The write must be refused.
var ErrUnavailable = errors.New("capacity check unavailable")

// Error is a typed admission rejection carrying a machine-readable code.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"error"`
	Current int    `json:"current"`
	Limit   int    `json:"limit"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (current=%d, limit=%d)", e.Code, e.Message, e.Current, e.Limit)
}

// Kind is the headcount category being admitted.
type Kind string

const (
	KindTeam   Kind = "team"
	KindClient Kind = "client"
)

// Snapshot is the state a decision is made on.
type Snapshot struct {
	Plan           string
	SeatsPurchased int
	TeamCount      int
	ClientCount    int
}

// Source reads a tenant's plan and usage.
type Source interface {
	CapacitySnapshot(ctx context.Context, tenantID string) (Snapshot, error)
}

// Enforcer applies plan-tier admission rules before headcount writes.
type Enforcer struct {
	source      Source
	limits      Limits
	instruments *metrics.Instruments
}

// Option configures an Enforcer
type Option func(*Enforcer)

// WithLimits overrides the default tier table
func WithLimits(l Limits) Option {
	return func(e *Enforcer) { e.limits = l }
}

// WithInstruments reports rejections to the given instruments
func WithInstruments(in *metrics.Instruments) Option {
	return func(e *Enforcer) { e.instruments = in }
}

// NewEnforcer creates an enforcer reading from source
func NewEnforcer(source Source, opts ...Option) *Enforcer {
	e := &Enforcer{source: source, limits: DefaultLimits()}
	for _, opt := range opts {
		opt(e)
	}
	e.instruments = metrics.OrNoop(e.instruments)
	return e
}

// EnsureTeamCapacity checks that one more team member may be admitted.
func (e *Enforcer) EnsureTeamCapacity(ctx context.Context, tenantID string) error {
	return e.Ensure(ctx, tenantID, KindTeam)
}

// EnsureClientCapacity checks that one more client may be admitted.
func (e *Enforcer) EnsureClientCapacity(ctx context.Context, tenantID string) error {
	return e.Ensure(ctx, tenantID, KindClient)
}

// Ensure checks that one more member of kind may be admitted.
func (e *Enforcer) Ensure(ctx context.Context, tenantID string, kind Kind) error {
	snap, err := e.source.CapacitySnapshot(ctx, tenantID)
	if err != nil {
		slog.ErrorContext(ctx, "capacity snapshot failed",
			logger.TenantID(tenantID),
			slog.String("kind", string(kind)),
			logger.Error(err),
		)
		return ErrUnavailable
	}

	var capErr *Error
	switch kind {
	case KindTeam:
		capErr = e.limits.checkTeam(snap)
	case KindClient:
		capErr = e.limits.checkClient(snap)
	default:
		return fmt.Errorf("unknown capacity kind %q", kind)
	}
	if capErr == nil {
		return nil
	}

	e.instruments.CapacityRejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("code", capErr.Code),
	))
	slog.InfoContext(ctx, "capacity admission refused",
		logger.TenantID(tenantID),
		logger.Plan(snap.Plan),
		slog.String("code", capErr.Code),
		slog.Int("current", capErr.Current),
		slog.Int("limit", capErr.Limit),
	)
	return capErr
}
