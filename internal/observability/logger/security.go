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

package logger

import (
	"context"
	"log/slog"
)

// SecurityEvent is an access-control decision worth a log line but not a
// persisted audit entry (denials, super-admin bypasses, rejected webhooks).
type SecurityEvent struct {
	Category  string // authentication, authorization, webhook
	SubjectID string
	TenantID  string
	Guard     string
	Resource  string
	Result    string // granted, denied, rejected
	Reason    string
	Metadata  map[string]any
}

// SecurityLogger writes security events with a fixed component tag
type SecurityLogger struct {
	logger *slog.Logger
}

// NewSecurityLogger creates a new security logger. A nil logger uses slog.Default().
func NewSecurityLogger(l *slog.Logger) *SecurityLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SecurityLogger{logger: l.With(Component("security"))}
}

// Log writes the event. Denials and rejections are logged at WARN.
func (s *SecurityLogger) Log(ctx context.Context, event SecurityEvent) {
	attrs := []slog.Attr{
		slog.String("category", event.Category),
		slog.String("result", event.Result),
	}
	if event.SubjectID != "" {
		attrs = append(attrs, SubjectID(event.SubjectID))
	}
	if event.TenantID != "" {
		attrs = append(attrs, TenantID(event.TenantID))
	}
	if event.Guard != "" {
		attrs = append(attrs, slog.String("guard", event.Guard))
	}
	if event.Resource != "" {
		attrs = append(attrs, slog.String("resource", event.Resource))
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}
	if len(event.Metadata) > 0 {
		attrs = append(attrs, slog.Any("metadata", event.Metadata))
	}

	level := slog.LevelInfo
	if event.Result != "granted" {
		level = slog.LevelWarn
	}
	s.logger.LogAttrs(ctx, level, "security_event", attrs...)
}

// AccessDenied records a guard rejection
func (s *SecurityLogger) AccessDenied(ctx context.Context, guard, subjectID, tenantID, reason string) {
	s.Log(ctx, SecurityEvent{
		Category:  "authorization",
		SubjectID: subjectID,
		TenantID:  tenantID,
		Guard:     guard,
		Result:    "denied",
		Reason:    reason,
	})
}

// SuperAdminBypass records a super admin reaching a tenant-scoped operation
// without a membership.
func (s *SecurityLogger) SuperAdminBypass(ctx context.Context, subjectID, tenantID string) {
	s.Log(ctx, SecurityEvent{
		Category:  "authorization",
		SubjectID: subjectID,
		TenantID:  tenantID,
		Guard:     "super_admin_or_membership",
		Result:    "granted",
		Reason:    "super_admin",
	})
}

// WebhookRejected records a billing webhook that failed verification
func (s *SecurityLogger) WebhookRejected(ctx context.Context, provider, reason string) {
	s.Log(ctx, SecurityEvent{
		Category: "webhook",
		Resource: provider,
		Result:   "rejected",
		Reason:   reason,
	})
}
