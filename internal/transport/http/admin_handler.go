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
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/portalcore/portalcore/internal/audit"
)

// StartImpersonationRequest represents impersonation data
type StartImpersonationRequest struct {
	TargetSubjectID string `json:"target_subject_id"`
	Reason          string `json:"reason"`
}

// StartImpersonation begins acting as another subject. A running session
// of the caller is replaced.
func (h *Handler) StartImpersonation(w http.ResponseWriter, r *http.Request) {
	var req StartImpersonationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.impersonation.Start(r.Context(), GetSubjectID(r.Context()), req.TargetSubjectID, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, session)
}

// GetImpersonation returns the caller's active session
func (h *Handler) GetImpersonation(w http.ResponseWriter, r *http.Request) {
	session, err := h.impersonation.Get(r.Context(), GetSubjectID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if session == nil {
		respondError(w, http.StatusNotFound, "no active impersonation session")
		return
	}

	respondJSON(w, http.StatusOK, session)
}

// StopImpersonation ends the caller's session
func (h *Handler) StopImpersonation(w http.ResponseWriter, r *http.Request) {
	if err := h.impersonation.Stop(r.Context(), GetSubjectID(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListAudit returns audit entries, newest first. Filters: tenant_id,
// actor_id, action, since (RFC 3339), limit, offset.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		TenantID: q.Get("tenant_id"),
		ActorID:  q.Get("actor_id"),
		Action:   q.Get("action"),
		Limit:    queryInt(r, "limit", 0),
		Offset:   queryInt(r, "offset", 0),
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			respondError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = t
	}

	entries, err := h.auditLog.List(r.Context(), filter.Normalized())
	if err != nil {
		writeError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, entries)
}

// ListTenants lists all tenants
func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.tenants.ListTenants(r.Context(), queryInt(r, "limit", 100), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, tenants)
}

// GrantRoleRequest represents a platform role grant
type GrantRoleRequest struct {
	SubjectID string `json:"subject_id"`
	Role      string `json:"role"`
}

// GrantRole grants a platform role
func (h *Handler) GrantRole(w http.ResponseWriter, r *http.Request) {
	var req GrantRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.platformRoles.GrantGlobalRole(r.Context(), req.SubjectID, req.Role, GetSubjectID(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{"status": "granted"})
}

// RevokeRole revokes a platform role
func (h *Handler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	err := h.platformRoles.RevokeGlobalRole(r.Context(), chi.URLParam(r, "subjectID"), chi.URLParam(r, "role"), GetSubjectID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
