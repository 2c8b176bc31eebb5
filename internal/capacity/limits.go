package capacity

import "strings"

// Unlimited marks a tier without a client cap.
const Unlimited = -1

// TeamRule is how a tier bounds its team.
type TeamRule int

const (
	// TeamSingle allows only the first team member.
	TeamSingle TeamRule = iota
	// TeamSeats caps the team at the purchased seat count.
	TeamSeats
)

// Tier holds the admission rules of one plan.
type Tier struct {
	Team      TeamRule
	ClientCap int
}

// Limits maps plan names to tiers. Unknown plans use the starter tier.
type Limits map[string]Tier

// DefaultLimits returns the standard tier table.
func DefaultLimits() Limits {
	return Limits{
		"starter":  {Team: TeamSingle, ClientCap: 30},
		"pro":      {Team: TeamSeats, ClientCap: 500},
		"advanced": {Team: TeamSeats, ClientCap: Unlimited},
	}
}

func (l Limits) tier(plan string) Tier {
	if t, ok := l[strings.ToLower(plan)]; ok {
		return t
	}
	return l["starter"]
}

func (l Limits) checkTeam(s Snapshot) *Error {
	switch l.tier(s.Plan).Team {
	case TeamSeats:
		seats := max(s.SeatsPurchased, 1)
		if s.TeamCount >= seats {
			return &Error{
				Code:    CodeSeatsRequired,
				Message: "all purchased seats are in use; add seats to invite more team members",
				Current: s.TeamCount,
				Limit:   seats,
			}
		}
	default:
		if s.TeamCount >= 1 {
			return &Error{
				Code:    CodeNotAllowed,
				Message: "team members require the Pro or Advanced plan",
				Current: s.TeamCount,
				Limit:   1,
			}
		}
	}
	return nil
}

func (l Limits) checkClient(s Snapshot) *Error {
	limit := l.tier(s.Plan).ClientCap
	if limit == Unlimited || s.ClientCount < limit {
		return nil
	}
	return &Error{
		Code:    CodeLimitReached,
		Message: "client limit reached for the current plan",
		Current: s.ClientCount,
		Limit:   limit,
	}
}
