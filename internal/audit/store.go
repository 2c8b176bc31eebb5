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
	"time"

	"github.com/google/uuid"
	"github.com/portalcore/portalcore/internal/observability/logger"
	"github.com/portalcore/portalcore/internal/observability/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Filter narrows an audit listing. Zero values mean "any".
type Filter struct {
	TenantID string
	ActorID  string
	Action   string
	Since    time.Time
	Limit    int
	Offset   int
}

// Normalized clamps paging values to sane bounds.
func (f Filter) Normalized() Filter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Repository persists audit entries
type Repository interface {
	Append(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) ([]*Entry, error)
}

// StoreWriter persists entries through a Repository. Failures are logged
// and counted, never returned.
type StoreWriter struct {
	repo        Repository
	instruments *metrics.Instruments
}

// NewStoreWriter creates a new persisting writer
func NewStoreWriter(repo Repository, instruments *metrics.Instruments) *StoreWriter {
	return &StoreWriter{repo: repo, instruments: metrics.OrNoop(instruments)}
}

// Append persists the entry, assigning an ID and timestamp when absent.
func (w *StoreWriter) Append(ctx context.Context, entry Entry) {
	if entry.ID == "" {
		entry.ID = uuid.Must(uuid.NewV7()).String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.Before = Redact(entry.Before)
	entry.After = Redact(entry.After)
	entry.Metadata = Redact(entry.Metadata)

	// The caller's request may already be finishing; the entry still has to land.
	ctx = context.WithoutCancel(ctx)
	if err := w.repo.Append(ctx, &entry); err != nil {
		slog.ErrorContext(ctx, "failed to persist audit entry",
			logger.Error(err),
			slog.String("action", entry.Action),
			logger.ActorID(entry.ActorID),
		)
		w.instruments.AuditAppendFailures.Add(ctx, 1,
			metric.WithAttributes(attribute.String("action", entry.Action)))
	}
}

// MultiWriter fans an entry out to several writers
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a fan-out writer. Nil writers are skipped.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	m := &MultiWriter{}
	for _, w := range writers {
		if w != nil {
			m.writers = append(m.writers, w)
		}
	}
	return m
}

// Append forwards the entry to every writer
func (m *MultiWriter) Append(ctx context.Context, entry Entry) {
	for _, w := range m.writers {
		w.Append(ctx, entry)
	}
}

// Discard drops every entry. Useful in tests that do not assert on auditing.
type Discard struct{}

// Append implements Writer
func (Discard) Append(context.Context, Entry) {}
