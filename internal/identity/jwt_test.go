package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T) *JWTResolver {
	t.Helper()
	r, err := NewJWTResolver(JWTConfig{Secret: "test-secret", Issuer: "https://idp.example.com", Audience: "portal"})
	require.NoError(t, err)
	return r
}

// TestPurpose: Validates that a well-formed token resolves to its subject and email.
// Scope: Unit Test
// Security: Authentication (bearer credential verification)
// Expected: Identity carries the sub and email claims.
// Test Case ID: IDN-01
func TestJWTResolver_Resolve(t *testing.T) {
	r := newTestResolver(t)
	token, err := r.Issue(Identity{SubjectID: "user-1", Email: "a@example.com"}, time.Minute)
	require.NoError(t, err)

	id, err := r.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.SubjectID)
	assert.Equal(t, "a@example.com", id.Email)
}

// TestPurpose: Validates that every kind of bad credential maps to the same error.
// Scope: Unit Test
// Security: Authentication, no oracle between malformed and missing credentials
// Expected: ErrUnauthenticated for empty, garbage, expired, wrong-secret, wrong-algorithm, wrong-audience and subject-less tokens.
// Test Case ID: IDN-02
func TestJWTResolver_RejectsBadCredentials(t *testing.T) {
	r := newTestResolver(t)
	other, err := NewJWTResolver(JWTConfig{Secret: "other-secret", Issuer: "https://idp.example.com", Audience: "portal"})
	require.NoError(t, err)
	wrongAud, err := NewJWTResolver(JWTConfig{Secret: "test-secret", Issuer: "https://idp.example.com", Audience: "billing"})
	require.NoError(t, err)

	expired, err := r.Issue(Identity{SubjectID: "user-1"}, -time.Minute)
	require.NoError(t, err)
	forged, err := other.Issue(Identity{SubjectID: "user-1"}, time.Minute)
	require.NoError(t, err)
	otherAudience, err := wrongAud.Issue(Identity{SubjectID: "user-1"}, time.Minute)
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://idp.example.com",
			Audience:  jwt.ClaimStrings{"portal"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "https://idp.example.com",
			Audience:  jwt.ClaimStrings{"portal"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := map[string]string{
		"empty":          "",
		"garbage":        "not-a-jwt",
		"expired":        expired,
		"wrong secret":   forged,
		"wrong audience": otherAudience,
		"no subject":     noSubject,
		"alg none":       noneAlg,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			id, err := r.Resolve(context.Background(), token)
			assert.ErrorIs(t, err, ErrUnauthenticated)
			assert.Nil(t, id)
		})
	}
}

// TestPurpose: Validates that a cancelled request context fails closed.
// Scope: Unit Test
// Security: Fail-closed on deadline
// Expected: ErrUnauthenticated even for a valid token.
// Test Case ID: IDN-03
func TestJWTResolver_CancelledContext(t *testing.T) {
	r := newTestResolver(t)
	token, err := r.Issue(Identity{SubjectID: "user-1"}, time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = r.Resolve(ctx, token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestNewJWTResolver_RequiresSecret(t *testing.T) {
	_, err := NewJWTResolver(JWTConfig{})
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc "))
	assert.Equal(t, "", BearerToken("Basic abc"))
	assert.Equal(t, "", BearerToken("Bearer"))
	assert.Equal(t, "", BearerToken(""))
}
