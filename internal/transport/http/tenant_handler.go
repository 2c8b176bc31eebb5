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

package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/portalcore/portalcore/internal/tenant"
)

// CreateTenantRequest represents tenant creation data
type CreateTenantRequest struct {
	Name string `json:"name"`
}

// CreateTenant creates a starter tenant owned by the caller
func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	t, err := h.tenants.CreateTenant(r.Context(), req.Name, GetPrincipal(r.Context()).Identity)
	if err != nil {
		writeError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, t)
}

// ListMembers lists the memberships of the scoped tenant
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.tenants.ListMembers(r.Context(), GetTenantID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, members)
}

// GetUsage returns the scoped tenant's plan and headcount
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	t, err := h.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	usage, err := h.tenants.Usage(ctx, tenantID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"tenant_id":       t.ID,
		"plan":            t.Plan,
		"seats_purchased": t.SeatsPurchased,
		"team_count":      usage.TeamCount,
		"clients_count":   usage.ClientsCount,
	})
}

// InviteRequest represents invitation data
type InviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// InviteResponse carries the one-time invitation token
type InviteResponse struct {
	Invitation *tenant.Invitation `json:"invitation"`
	Token      string             `json:"token"`
}

// InviteTeamMember invites a team member. Role defaults to member.
func (h *Handler) InviteTeamMember(w http.ResponseWriter, r *http.Request) {
	var req InviteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Role == "" {
		req.Role = tenant.RoleMember
	}
	if !tenant.IsTeamRole(req.Role) {
		writeError(w, r, tenant.ErrInvalidRole)
		return
	}
	h.invite(w, r, req)
}

// InviteClient invites a client member
func (h *Handler) InviteClient(w http.ResponseWriter, r *http.Request) {
	var req InviteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Role = tenant.RoleClient
	h.invite(w, r, req)
}

func (h *Handler) invite(w http.ResponseWriter, r *http.Request, req InviteRequest) {
	ctx := r.Context()
	inv, token, err := h.tenants.InviteMember(ctx, GetSubjectID(ctx), GetTenantID(ctx), req.Email, req.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, InviteResponse{Invitation: inv, Token: token})
}

// ListInvitations lists the scoped tenant's pending invitations
func (h *Handler) ListInvitations(w http.ResponseWriter, r *http.Request) {
	invitations, err := h.tenants.ListInvitations(r.Context(), GetTenantID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, invitations)
}

// RevokeInvitation withdraws a pending invitation
func (h *Handler) RevokeInvitation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	err := h.tenants.RevokeInvitation(ctx, GetSubjectID(ctx), GetTenantID(ctx), chi.URLParam(r, "invitationID"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// AcceptInvitationRequest carries the token from the invitation link
type AcceptInvitationRequest struct {
	Token string `json:"token"`
}

// AcceptInvitation joins the caller to the inviting tenant. The real actor
// accepts, even while impersonating.
func (h *Handler) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	var req AcceptInvitationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	m, err := h.tenants.AcceptInvitation(r.Context(), req.Token, GetPrincipal(r.Context()).Identity)
	if err != nil {
		writeError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, m)
}

// UpdateRoleRequest represents role change data
type UpdateRoleRequest struct {
	Role string `json:"role"`
}

// UpdateMemberRole changes a member's role
func (h *Handler) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	var req UpdateRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx := r.Context()
	m, err := h.tenants.UpdateMemberRole(ctx, GetSubjectID(ctx), GetTenantID(ctx), chi.URLParam(r, "subjectID"), req.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, m)
}

// RemoveMember removes a member from the scoped tenant
func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.tenants.RemoveMember(ctx, GetSubjectID(ctx), GetTenantID(ctx), chi.URLParam(r, "subjectID")); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
