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

import "time"

// Tenant roles. Owner, admin and member are team roles; client is the
// client-member variant and is counted separately.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleClient = "client"
)

// Membership statuses
const (
	MemberActive    = "active"
	MemberSuspended = "suspended"
)

// Invitation statuses
const (
	InvitePending  = "pending"
	InviteAccepted = "accepted"
	InviteRevoked  = "revoked"
)

// ManagerRoles may manage members, invitations and billing of a tenant.
var ManagerRoles = []string{RoleOwner, RoleAdmin}

// ValidRole reports whether role is a tenant role
func ValidRole(role string) bool {
	switch role {
	case RoleOwner, RoleAdmin, RoleMember, RoleClient:
		return true
	}
	return false
}

// IsTeamRole reports whether role occupies a team seat
func IsTeamRole(role string) bool {
	return role == RoleOwner || role == RoleAdmin || role == RoleMember
}

// Membership grants a subject a role within one tenant.
// At most one exists per (TenantID, SubjectID).
type Membership struct {
	TenantID  string    `json:"tenant_id"`
	SubjectID string    `json:"subject_id"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive reports whether the membership grants access
func (m *Membership) IsActive() bool {
	return m != nil && m.Status == MemberActive
}

// Invitation is a pending offer of membership. While pending and unexpired
// it occupies capacity.
type Invitation struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	Email      string     `json:"email"`
	Role       string     `json:"role"`
	TokenHash  string     `json:"-"`
	InvitedBy  string     `json:"invited_by"`
	Status     string     `json:"status"`
	ExpiresAt  time.Time  `json:"expires_at"`
	AcceptedBy string     `json:"accepted_by,omitempty"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IsOpen reports whether the invitation can still be accepted at now.
func (i *Invitation) IsOpen(now time.Time) bool {
	return i.Status == InvitePending && now.Before(i.ExpiresAt)
}
