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

package metrics

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Instruments are the counters reported by the authorization and billing core.
type Instruments struct {
	GuardDenials           metric.Int64Counter
	MembershipLookupErrors metric.Int64Counter
	RoleLookupErrors       metric.Int64Counter
	CapacityRejections     metric.Int64Counter
	WebhookEvents          metric.Int64Counter
	AuditAppendFailures    metric.Int64Counter
	ReconcileDuration      metric.Float64Histogram
}

// NewInstruments registers every instrument on m.
func NewInstruments(m *Meter) (*Instruments, error) {
	var (
		in  Instruments
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&in.GuardDenials, "authz_guard_denials_total", "Requests rejected by an authorization guard"},
		{&in.MembershipLookupErrors, "authz_membership_lookup_errors_total", "Membership store errors flattened to not-a-member"},
		{&in.RoleLookupErrors, "authz_role_lookup_errors_total", "Global role lookups that failed and degraded to non-admin"},
		{&in.CapacityRejections, "capacity_rejections_total", "Headcount writes refused by plan limits"},
		{&in.WebhookEvents, "billing_webhook_events_total", "Billing webhook events by type and outcome"},
		{&in.AuditAppendFailures, "audit_append_failures_total", "Audit entries that could not be persisted"},
	}
	for _, c := range counters {
		if *c.dst, err = m.CreateCounter(c.name, c.desc); err != nil {
			return nil, err
		}
	}
	if in.ReconcileDuration, err = m.CreateHistogram("billing_reconcile_duration_seconds", "Time spent applying one billing event", "s"); err != nil {
		return nil, err
	}
	return &in, nil
}

// Noop returns instruments that record nothing.
func Noop() *Instruments {
	in, _ := NewInstruments(&Meter{meter: noop.NewMeterProvider().Meter("noop")})
	return in
}

// OrNoop returns in, or no-op instruments when in is nil.
func OrNoop(in *Instruments) *Instruments {
	if in == nil {
		return Noop()
	}
	return in
}
