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

package authz

import (
	"strings"
	"time"
)

// Role is a canonical platform role name.
type Role string

// RoleSuperAdmin is the platform-wide role that bypasses tenant membership.
const RoleSuperAdmin Role = "super_admin"

// NormalizeRole maps any spelling of a platform role to its canonical form.
// Matching ignores case, underscores, hyphens and spaces, so super_admin,
// SuperAdmin, super-admin and "Super Admin" are all RoleSuperAdmin.
func NormalizeRole(name string) Role {
	folded := strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', ' ', '\t':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(name)))

	switch folded {
	case "superadmin":
		return RoleSuperAdmin
	default:
		return Role(strings.ToLower(strings.TrimSpace(name)))
	}
}

// GlobalRole is a platform-wide role held by a subject.
type GlobalRole struct {
	SubjectID string    `json:"subject_id"`
	Role      string    `json:"role"`
	GrantedBy string    `json:"granted_by,omitempty"`
	GrantedAt time.Time `json:"granted_at"`
}

// GlobalRoles is the result of a role lookup.
type GlobalRoles struct {
	IsSuperAdmin bool
	Raw          []string
}

func classify(raw []string) GlobalRoles {
	res := GlobalRoles{Raw: raw}
	for _, r := range raw {
		if NormalizeRole(r) == RoleSuperAdmin {
			res.IsSuperAdmin = true
			break
		}
	}
	return res
}
