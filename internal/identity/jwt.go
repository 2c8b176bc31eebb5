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
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWTConfig configures verification of tokens issued by the identity provider.
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Claims are the token claims the resolver reads.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTResolver validates HS256 bearer tokens.
type JWTResolver struct {
	secret []byte
	parser *jwt.Parser
	cfg    JWTConfig
}

// NewJWTResolver creates a resolver for the given shared secret.
func NewJWTResolver(cfg JWTConfig) (*JWTResolver, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &JWTResolver{
		secret: []byte(cfg.Secret),
		parser: jwt.NewParser(opts...),
		cfg:    cfg,
	}, nil
}

// Resolve verifies the token and returns its subject.
func (r *JWTResolver) Resolve(ctx context.Context, credential string) (*Identity, error) {
	if credential == "" || ctx.Err() != nil {
		return nil, ErrUnauthenticated
	}

	claims := &Claims{}
	_, err := r.parser.ParseWithClaims(credential, claims, func(*jwt.Token) (any, error) {
		return r.secret, nil
	})
	if err != nil || claims.Subject == "" {
		return nil, ErrUnauthenticated
	}

	return &Identity{SubjectID: claims.Subject, Email: claims.Email}, nil
}

// Issue signs a token for id. Production tokens come from the identity
// provider; this exists for local development and tests.
func (r *JWTResolver) Issue(id Identity, ttl time.Duration) (string, error) {
	if id.SubjectID == "" {
		return "", errors.New("subject is required")
	}
	now := time.Now()
	claims := Claims{
		Email: id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.SubjectID,
			Issuer:    r.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	if r.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{r.cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
