package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/sweeper/internal/config"
)

var jwtSecret = []byte("jwt-test-secret")

func jwtAuth() option {
	return withAuth(AuthConfig{Mode: config.AuthModeJWT, JWTSecret: jwtSecret})
}

func signToken(t *testing.T, method jwt.SigningMethod, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(jwtSecret)
	require.NoError(t, err)
	return "Bearer " + token
}

func claimsFor(sub string, role Role, ttl time.Duration) Claims {
	return Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
}

func TestAuth_NoAuth_Mode(t *testing.T) {
	h := newHarness(t, false, withAuth(AuthConfig{Mode: config.AuthModeNone}))

	resp := h.doAuth(t, http.MethodPost, "/api/v1/fleet/sweeps", "", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestAuth_APIKey_Valid(t *testing.T) {
	h := newHarness(t, false)
	resp := h.do(t, http.MethodGet, "/api/v1/accounts", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth_APIKey_Missing(t *testing.T) {
	h := newHarness(t, false)

	resp := h.doAuth(t, http.MethodGet, "/api/v1/accounts", "", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "missing_auth", decode[ProblemDetail](t, resp).Type)
}

func TestAuth_APIKey_Invalid(t *testing.T) {
	h := newHarness(t, false)

	resp := h.doAuth(t, http.MethodGet, "/api/v1/accounts", "", "Bearer wrong-key")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_api_key", decode[ProblemDetail](t, resp).Type)
}

func TestAuth_APIKey_InvalidScheme(t *testing.T) {
	h := newHarness(t, false)

	resp := h.doAuth(t, http.MethodGet, "/api/v1/accounts", "", "Basic dGVzdDp0ZXN0")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_auth_scheme", decode[ProblemDetail](t, resp).Type)
}

func TestAuth_JWT_RolesAndActor(t *testing.T) {
	h := newHarness(t, false, jwtAuth())
	admin := signToken(t, jwt.SigningMethodHS256, claimsFor("alice", RoleAdmin, time.Hour))

	resp := h.doAuth(t, http.MethodPut, "/api/v1/accounts/7",
		`{"owner":"alice","access_token":"at"}`, admin)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	entries, err := h.store.ListAudit(context.Background(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "alice", entries[0].Actor)

	operator := signToken(t, jwt.SigningMethodHS256, claimsFor("ops", RoleOperator, time.Hour))
	resp = h.doAuth(t, http.MethodPost, "/api/v1/fleet/sweeps", "", operator)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = h.doAuth(t, http.MethodPut, "/api/v1/accounts/7", `{"owner":"x","access_token":"at"}`, operator)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAuth_JWT_DefaultRoleIsReadOnly(t *testing.T) {
	h := newHarness(t, false, jwtAuth())
	viewer := signToken(t, jwt.SigningMethodHS256, claimsFor("viewer", "", time.Hour))

	assert.Equal(t, http.StatusOK, h.doAuth(t, http.MethodGet, "/api/v1/accounts", "", viewer).StatusCode)

	resp := h.doAuth(t, http.MethodPost, "/api/v1/fleet/sweeps", "", viewer)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "insufficient_role", decode[ProblemDetail](t, resp).Type)
	assert.Zero(t, h.fleet.started)
}

func TestAuth_JWT_Rejected(t *testing.T) {
	h := newHarness(t, false, jwtAuth())

	noExpiry := signToken(t, jwt.SigningMethodHS256, Claims{Role: RoleAdmin})
	tests := map[string]string{
		"expired":      signToken(t, jwt.SigningMethodHS256, claimsFor("a", RoleAdmin, -time.Minute)),
		"wrong method": signToken(t, jwt.SigningMethodHS384, claimsFor("a", RoleAdmin, time.Hour)),
		"unknown role": signToken(t, jwt.SigningMethodHS256, claimsFor("a", "root", time.Hour)),
		"no expiry":    noExpiry,
		"garbage":      "Bearer not.a.jwt",
		"api key":      "Bearer " + testAPIKey,
	}
	for name, authz := range tests {
		t.Run(name, func(t *testing.T) {
			resp := h.doAuth(t, http.MethodGet, "/api/v1/accounts", "", authz)
			require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, "invalid_token", decode[ProblemDetail](t, resp).Type)
		})
	}
}

func TestAuth_JWT_WrongSecret(t *testing.T) {
	h := newHarness(t, false, jwtAuth())
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claimsFor("a", RoleAdmin, time.Hour)).
		SignedString([]byte("other-secret"))
	require.NoError(t, err)

	resp := h.doAuth(t, http.MethodGet, "/api/v1/accounts", "", "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTokenBucket_Refills(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newRateLimiter(RateLimitConfig{RPS: 2, Burst: 2}, func() time.Time { return now })

	assert.True(t, rl.allow("1.2.3.4"))
	assert.True(t, rl.allow("1.2.3.4"))
	assert.False(t, rl.allow("1.2.3.4"))
	assert.True(t, rl.allow("5.6.7.8"), "buckets are per client")

	now = now.Add(500 * time.Millisecond)
	assert.True(t, rl.allow("1.2.3.4"))
	assert.False(t, rl.allow("1.2.3.4"))
}

func TestRateLimiter_BoundsClients(t *testing.T) {
	now := time.Now()
	rl := newRateLimiter(RateLimitConfig{RPS: 1, Burst: 1, MaxClients: 2}, func() time.Time { return now })

	rl.allow("a")
	rl.allow("b")
	rl.allow("c")
	assert.Equal(t, 2, rl.clients.Len())
}
