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
	"context"
	"net/http"
	"strings"

	"github.com/portalcore/portalcore/internal/authz"
	"github.com/portalcore/portalcore/internal/identity"
)

// TenantHeader carries the tenant a request is scoped to.
const TenantHeader = "X-Tenant-ID"

// tenantQueryParam is accepted where a header cannot be set.
const tenantQueryParam = "tenant_id"

// GetPrincipal retrieves the authorization state resolved by the guards.
func GetPrincipal(ctx context.Context) *authz.Principal {
	p, _ := authz.PrincipalFrom(ctx)
	return p
}

// GetSubjectID retrieves the real, authenticated subject from context.
func GetSubjectID(ctx context.Context) string {
	return GetPrincipal(ctx).SubjectID()
}

// GetTenantID retrieves the verified tenant scope from context.
func GetTenantID(ctx context.Context) string {
	if p := GetPrincipal(ctx); p != nil {
		return p.TenantID
	}
	return ""
}

// guardRequest extracts the transport-independent request the guards see.
// The header wins over the query parameter.
func guardRequest(r *http.Request) *authz.Request {
	tenantID := strings.TrimSpace(r.Header.Get(TenantHeader))
	if tenantID == "" {
		tenantID = strings.TrimSpace(r.URL.Query().Get(tenantQueryParam))
	}
	return &authz.Request{
		Credential: identity.BearerToken(r.Header.Get("Authorization")),
		TenantID:   tenantID,
	}
}
