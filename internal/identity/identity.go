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

package identity

import (
	"context"
	"errors"
	"strings"
)

// ErrUnauthenticated is returned for any credential that does not resolve to
// a subject. Malformed, expired and missing credentials are indistinguishable.
var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the verified caller. It is produced by a Resolver and never mutated.
type Identity struct {
	SubjectID string `json:"subject_id"`
	Email     string `json:"email,omitempty"`
}

// Resolver turns an opaque bearer credential into an Identity.
type Resolver interface {
	Resolve(ctx context.Context, credential string) (*Identity, error)
}

// ResolverFunc adapts a function to the Resolver interface
type ResolverFunc func(ctx context.Context, credential string) (*Identity, error)

// Resolve implements Resolver
func (f ResolverFunc) Resolve(ctx context.Context, credential string) (*Identity, error) {
	return f(ctx, credential)
}

// BearerToken extracts the credential from an Authorization header value.
// It returns "" when the header is absent or not a bearer header.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
