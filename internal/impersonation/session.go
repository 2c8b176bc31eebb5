package impersonation

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrInvalidRequest  = errors.New("impersonation requires a real subject, a target and a reason")
	ErrSelfImpersonate = errors.New("cannot impersonate yourself")
)

// Session maps a real actor to the identity they are acting as.
// At most one exists per real subject.
type Session struct {
	RealSubjectID   string    `json:"real_subject_id"`
	TargetSubjectID string    `json:"target_subject_id"`
	Reason          string    `json:"reason"`
	StartedAt       time.Time `json:"started_at"`
}

// Store persists impersonation sessions. Implementations must be safe for
// concurrent use. Get returns nil, nil when no session exists.
type Store interface {
	// Put stores s, replacing any session of the same real subject, and
	// returns the replaced session if there was one.
	Put(ctx context.Context, s *Session) (*Session, error)

	// Get returns the session of realSubjectID
	Get(ctx context.Context, realSubjectID string) (*Session, error)

	// Delete removes the session of realSubjectID and returns it
	Delete(ctx context.Context, realSubjectID string) (*Session, error)
}
