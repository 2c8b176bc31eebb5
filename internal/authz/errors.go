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

import "fmt"

// Kind classifies an authorization failure
type Kind string

const (
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindBadRequest      Kind = "bad_request"
)

// Messages returned to callers. They never reveal whether a tenant exists.
const (
	MsgUnauthenticated        = "authentication required"
	MsgTenantRequired         = "tenant context required"
	MsgNotMember              = "not a member of this tenant"
	MsgSuperAdminRequired     = "super admin role required"
	MsgInsufficientTenantRole = "insufficient tenant role"
)

// Error is a terminal guard decision.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unauthenticated returns a 401-class error
func Unauthenticated() *Error {
	return &Error{Kind: KindUnauthenticated, Message: MsgUnauthenticated}
}

// Forbidden returns a 403-class error
func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

// BadRequest returns a 400-class error
func BadRequest(msg string) *Error {
	return &Error{Kind: KindBadRequest, Message: msg}
}
