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

package audit

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Actions
const (
	ActionImpersonateStart = "impersonate.start"
	ActionImpersonateStop  = "impersonate.stop"

	ActionTenantCreated     = "tenant.create"
	ActionMemberInvited     = "membership.invite"
	ActionInviteRevoked     = "membership.invite_revoke"
	ActionMemberAdded       = "membership.add"
	ActionInviteAccepted    = "membership.accept"
	ActionMemberRoleChanged = "membership.role_change"
	ActionMemberRemoved     = "membership.remove"
	ActionCapacityDenied    = "capacity.denied"

	ActionCheckoutCreated       = "billing.checkout_created"
	ActionCheckoutCompleted     = "billing.checkout_completed"
	ActionSubscriptionSynced    = "billing.subscription_synced"
	ActionSubscriptionCancelled = "billing.subscription_canceled"
	ActionInvoiceRecorded       = "billing.invoice_recorded"
	ActionEventDropped          = "billing.event_dropped"

	ActionGlobalRoleGranted = "platform.role_granted"
	ActionGlobalRoleRevoked = "platform.role_revoked"
)

// Entity types
const (
	EntityUser         = "user"
	EntityTenant       = "tenant"
	EntityMembership   = "membership"
	EntityInvitation   = "invitation"
	EntityInvoice      = "invoice"
	EntitySubscription = "subscription"
	EntityGlobalRole   = "global_role"
)

// ActorSystem is recorded when no human actor is responsible, e.g. billing webhooks.
const ActorSystem = "system"

// Entry is an append-only record of a privileged action.
type Entry struct {
	ID         string         `json:"id"`
	ActorID    string         `json:"actor_id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	TenantID   string         `json:"tenant_id,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Before     map[string]any `json:"before,omitempty"`
	After      map[string]any `json:"after,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Writer records audit entries. Append never fails from the caller's
// point of view: implementations absorb their own errors.
type Writer interface {
	Append(ctx context.Context, entry Entry)
}

// SlogWriter implements Writer using slog
type SlogWriter struct {
	logger *slog.Logger
}

// NewSlogWriter creates a writer that emits one structured log line per entry.
// A nil logger uses slog.Default().
func NewSlogWriter(logger *slog.Logger) *SlogWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogWriter{logger: logger}
}

// Append records an audit entry
func (w *SlogWriter) Append(ctx context.Context, entry Entry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	attrs := []slog.Attr{
		slog.String("action", entry.Action),
		slog.String("actor_id", entry.ActorID),
		slog.String("entity_type", entry.EntityType),
		slog.Time("created_at", entry.CreatedAt),
		slog.String("component", "audit"),
	}
	if entry.EntityID != "" {
		attrs = append(attrs, slog.String("entity_id", entry.EntityID))
	}
	if entry.TenantID != "" {
		attrs = append(attrs, slog.String("tenant_id", entry.TenantID))
	}
	if entry.Reason != "" {
		attrs = append(attrs, slog.String("reason", entry.Reason))
	}
	if len(entry.Before) > 0 {
		attrs = append(attrs, redactedGroup("before", entry.Before))
	}
	if len(entry.After) > 0 {
		attrs = append(attrs, redactedGroup("after", entry.After))
	}
	if len(entry.Metadata) > 0 {
		attrs = append(attrs, redactedGroup("metadata", entry.Metadata))
	}

	w.logger.LogAttrs(ctx, slog.LevelInfo, "AUDIT_EVENT", attrs...)
}

func redactedGroup(name string, m map[string]any) slog.Attr {
	group := make([]any, 0, len(m))
	for k, v := range m {
		if isSecret(k) {
			v = "[REDACTED]"
		}
		group = append(group, slog.Any(k, v))
	}
	return slog.Group(name, group...)
}

// Redact returns a copy of m with secret-looking keys masked.
func Redact(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if isSecret(k) {
			v = "[REDACTED]"
		}
		out[k] = v
	}
	return out
}

var secretMarkers = []string{"password", "secret", "token", "key", "authorization", "hash", "credential"}

// isSecret checks if a key likely contains a secret
func isSecret(key string) bool {
	k := strings.ToLower(key)
	for _, s := range secretMarkers {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
