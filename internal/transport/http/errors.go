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
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/portalcore/portalcore/internal/authz"
	"github.com/portalcore/portalcore/internal/billing"
	"github.com/portalcore/portalcore/internal/capacity"
	"github.com/portalcore/portalcore/internal/impersonation"
	"github.com/portalcore/portalcore/internal/observability/logger"
	"github.com/portalcore/portalcore/internal/tenant"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Current *int   `json:"current,omitempty"`
	Limit   *int   `json:"limit,omitempty"`
}

// statusFor maps domain sentinels to a status and a client-safe message.
var statusFor = []struct {
	err     error
	status  int
	message string
}{
	{tenant.ErrTenantNotFound, http.StatusNotFound, "tenant not found"},
	{tenant.ErrNotMember, http.StatusNotFound, "member not found"},
	{tenant.ErrMembershipNotFound, http.StatusNotFound, "member not found"},
	{tenant.ErrInvitationNotFound, http.StatusNotFound, "invitation not found"},
	{tenant.ErrInvitationExists, http.StatusConflict, tenant.ErrInvitationExists.Error()},
	{tenant.ErrInvitationClosed, http.StatusGone, tenant.ErrInvitationClosed.Error()},
	{tenant.ErrLastOwner, http.StatusConflict, tenant.ErrLastOwner.Error()},
	{tenant.ErrAlreadyMember, http.StatusConflict, tenant.ErrAlreadyMember.Error()},
	{tenant.ErrInvalidRole, http.StatusBadRequest, tenant.ErrInvalidRole.Error()},
	{capacity.ErrUnavailable, http.StatusServiceUnavailable, "capacity check unavailable, try again"},
	{billing.ErrPlanNotPurchasable, http.StatusBadRequest, billing.ErrPlanNotPurchasable.Error()},
	{billing.ErrCheckoutUnavailable, http.StatusServiceUnavailable, billing.ErrCheckoutUnavailable.Error()},
	{impersonation.ErrInvalidRequest, http.StatusBadRequest, impersonation.ErrInvalidRequest.Error()},
	{impersonation.ErrSelfImpersonate, http.StatusBadRequest, impersonation.ErrSelfImpersonate.Error()},
	{authz.ErrInvalidGrant, http.StatusBadRequest, authz.ErrInvalidGrant.Error()},
	{authz.ErrGlobalRoleNotFound, http.StatusNotFound, authz.ErrGlobalRoleNotFound.Error()},
}

// writeError is the single translation point from errors to responses.
// Unrecognized errors are logged and answered with a generic 500 so that
// storage details never reach clients.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var authzErr *authz.Error
	if errors.As(err, &authzErr) {
		status := http.StatusForbidden
		switch authzErr.Kind {
		case authz.KindUnauthenticated:
			status = http.StatusUnauthorized
			w.Header().Set("WWW-Authenticate", `Bearer realm="portal"`)
		case authz.KindBadRequest:
			status = http.StatusBadRequest
		}
		respondError(w, status, authzErr.Message)
		return
	}

	var capErr *capacity.Error
	if errors.As(err, &capErr) {
		status := http.StatusConflict
		if capErr.Code == capacity.CodeNotAllowed {
			status = http.StatusForbidden
		}
		current, limit := capErr.Current, capErr.Limit
		respondJSON(w, status, ErrorResponse{
			Error:   capErr.Message,
			Code:    capErr.Code,
			Current: &current,
			Limit:   &limit,
		})
		return
	}

	if errors.Is(err, tenant.ErrInvalidInput) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, m := range statusFor {
		if errors.Is(err, m.err) {
			respondError(w, m.status, m.message)
			return
		}
	}

	slog.ErrorContext(r.Context(), "request failed",
		logger.RequestID(middleware.GetReqID(r.Context())),
		logger.Method(r.Method),
		logger.Path(r.URL.Path),
		logger.Error(err),
	)
	respondError(w, http.StatusInternalServerError, "internal error")
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}
