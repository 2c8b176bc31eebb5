package tenant

import (
	"strings"
	"time"
)

// Plan is a subscription tier
type Plan string

// Plans
const (
	PlanStarter  Plan = "starter"
	PlanPro      Plan = "pro"
	PlanAdvanced Plan = "advanced"
)

// ParsePlan returns the plan named by s and whether it is a known plan.
func ParsePlan(s string) (Plan, bool) {
	switch p := Plan(strings.ToLower(strings.TrimSpace(s))); p {
	case PlanStarter, PlanPro, PlanAdvanced:
		return p, true
	default:
		return PlanStarter, false
	}
}

// Tenant represents an isolated customer workspace.
// Plan and SeatsPurchased are written only by billing reconciliation.
type Tenant struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Plan                 Plan      `json:"plan"`
	SeatsPurchased       int       `json:"seats_purchased"`
	StripeCustomerID     string    `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string    `json:"stripe_subscription_id,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Usage is the derived headcount of a tenant. Pending, unexpired
// invitations are counted alongside active memberships.
type Usage struct {
	TenantID     string `json:"tenant_id"`
	TeamCount    int    `json:"team_count"`
	ClientsCount int    `json:"clients_count"`
}

// LookupField selects the column a billing update is keyed on.
type LookupField int

const (
	ByTenantID LookupField = iota
	BySubscriptionID
	ByCustomerID
)

func (f LookupField) String() string {
	switch f {
	case BySubscriptionID:
		return "stripe_subscription_id"
	case ByCustomerID:
		return "stripe_customer_id"
	default:
		return "id"
	}
}

// BillingUpdate is an absolute-state write of billing fields. Nil fields are
// left untouched. ClearSubscription wins over SubscriptionID.
type BillingUpdate struct {
	Plan              *Plan
	SeatsPurchased    *int
	CustomerID        *string
	SubscriptionID    *string
	ClearSubscription bool
}

// IsEmpty reports whether the update would change nothing.
func (u BillingUpdate) IsEmpty() bool {
	return u.Plan == nil && u.SeatsPurchased == nil && u.CustomerID == nil &&
		u.SubscriptionID == nil && !u.ClearSubscription
}

// Apply writes the update onto t in memory.
func (u BillingUpdate) Apply(t *Tenant) {
	if u.Plan != nil {
		t.Plan = *u.Plan
	}
	if u.SeatsPurchased != nil {
		t.SeatsPurchased = *u.SeatsPurchased
	}
	if u.CustomerID != nil {
		t.StripeCustomerID = *u.CustomerID
	}
	if u.ClearSubscription {
		t.StripeSubscriptionID = ""
	} else if u.SubscriptionID != nil {
		t.StripeSubscriptionID = *u.SubscriptionID
	}
}
