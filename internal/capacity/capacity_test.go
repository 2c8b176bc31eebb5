package capacity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sourceFunc func(ctx context.Context, tenantID string) (Snapshot, error)

func (f sourceFunc) CapacitySnapshot(ctx context.Context, tenantID string) (Snapshot, error) {
	return f(ctx, tenantID)
}

func fixed(s Snapshot) Source {
	return sourceFunc(func(context.Context, string) (Snapshot, error) { return s, nil })
}

func codeOf(t *testing.T, err error) string {
	t.Helper()
	var capErr *Error
	require.ErrorAs(t, err, &capErr)
	return capErr.Code
}

// TestPurpose: Validates the tier rules for team admission.
// Scope: Unit Test
// Security: Plan entitlement enforcement
// Expected: Starter admits only the first team member (NOT_ALLOWED after); pro and advanced cap at purchased seats (SEATS_REQUIRED).
// Test Case ID: CAP-01
func TestEnforcer_TeamCapacity(t *testing.T) {
	tests := []struct {
		name     string
		snap     Snapshot
		wantCode string
	}{
		{"starter first member", Snapshot{Plan: "starter", SeatsPurchased: 1, TeamCount: 0}, ""},
		{"starter second member", Snapshot{Plan: "starter", SeatsPurchased: 1, TeamCount: 1}, CodeNotAllowed},
		{"starter ignores purchased seats", Snapshot{Plan: "starter", SeatsPurchased: 10, TeamCount: 1}, CodeNotAllowed},
		{"pro under seats", Snapshot{Plan: "pro", SeatsPurchased: 3, TeamCount: 2}, ""},
		{"pro at seats", Snapshot{Plan: "pro", SeatsPurchased: 3, TeamCount: 3}, CodeSeatsRequired},
		{"pro after buying a seat", Snapshot{Plan: "pro", SeatsPurchased: 4, TeamCount: 3}, ""},
		{"advanced at seats", Snapshot{Plan: "advanced", SeatsPurchased: 5, TeamCount: 5}, CodeSeatsRequired},
		{"unknown plan treated as starter", Snapshot{Plan: "enterprise", SeatsPurchased: 50, TeamCount: 1}, CodeNotAllowed},
		{"zero seats treated as one", Snapshot{Plan: "pro", SeatsPurchased: 0, TeamCount: 1}, CodeSeatsRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewEnforcer(fixed(tt.snap)).EnsureTeamCapacity(context.Background(), "t1")
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.wantCode, codeOf(t, err))
		})
	}
}

// TestPurpose: Validates the tier rules for client admission.
// Scope: Unit Test
// Security: Plan entitlement enforcement
// Expected: Starter admits the 30th client and refuses the 31st; pro caps at 500; advanced is unlimited.
// Test Case ID: CAP-02
func TestEnforcer_ClientCapacity(t *testing.T) {
	tests := []struct {
		name     string
		snap     Snapshot
		wantCode string
	}{
		{"starter 30th client", Snapshot{Plan: "starter", ClientCount: 29}, ""},
		{"starter 31st client", Snapshot{Plan: "starter", ClientCount: 30}, CodeLimitReached},
		{"pro 500th client", Snapshot{Plan: "pro", ClientCount: 499}, ""},
		{"pro 501st client", Snapshot{Plan: "pro", ClientCount: 500}, CodeLimitReached},
		{"advanced unlimited", Snapshot{Plan: "advanced", ClientCount: 100_000}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewEnforcer(fixed(tt.snap)).EnsureClientCapacity(context.Background(), "t1")
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.wantCode, codeOf(t, err))
		})
	}
}

func TestEnforcer_ErrorCarriesCounts(t *testing.T) {
	err := NewEnforcer(fixed(Snapshot{Plan: "pro", SeatsPurchased: 3, TeamCount: 3})).
		EnsureTeamCapacity(context.Background(), "t1")

	var capErr *Error
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 3, capErr.Current)
	assert.Equal(t, 3, capErr.Limit)
	assert.NotEmpty(t, capErr.Message)
}

// TestPurpose: Validates that storage failures refuse the write without leaking the cause.
// Scope: Unit Test
// Security: Fail-closed admission, no raw storage errors to callers
// Expected: ErrUnavailable, not the underlying error.
// Test Case ID: CAP-03
func TestEnforcer_SourceFailure(t *testing.T) {
	boom := errors.New("pq: relation does not exist")
	src := sourceFunc(func(context.Context, string) (Snapshot, error) { return Snapshot{}, boom })

	err := NewEnforcer(src).EnsureClientCapacity(context.Background(), "t1")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, boom)
}

func TestEnforcer_CustomLimits(t *testing.T) {
	limits := DefaultLimits()
	limits["starter"] = Tier{Team: TeamSingle, ClientCap: 5}

	e := NewEnforcer(fixed(Snapshot{Plan: "starter", ClientCount: 5}), WithLimits(limits))
	assert.Equal(t, CodeLimitReached, codeOf(t, e.EnsureClientCapacity(context.Background(), "t1")))
}
