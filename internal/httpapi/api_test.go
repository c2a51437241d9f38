// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

package httpapi_test

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credence/credence/internal/auth"
)

func TestRegisterVerifyLogin(t *testing.T) {
	f := newFixture(t)

	resp := f.do(http.MethodPost, "/api/auth/register", map[string]string{
		"email":      "Alice@Example.com",
		"password":   "s3cret!",
		"first_name": "Alice",
	}, "")
	require.Equal(t, http.StatusCreated, resp.status, resp.body)
	assert.Equal(t, "alice@example.com", resp.body["email"])
	assert.Equal(t, "USER", resp.body["role"])
	assert.Equal(t, false, resp.body["verified"])
	assert.NotContains(t, resp.body, "password")
	assert.Equal(t, "/api/users/"+resp.body["id"].(string), resp.header.Get("Location"))

	resp = f.do(http.MethodPost, "/api/auth/login", map[string]string{
		"email": "alice@example.com", "password": "s3cret!",
	}, "")
	assert.Equal(t, http.StatusForbidden, resp.status)
	assert.Equal(t, auth.CodeNotVerified, resp.errorCode())

	resp = f.do(http.MethodPost, "/api/auth/verify", map[string]string{
		"email": "alice@example.com", "code": f.mail.code("alice@example.com"),
	}, "")
	require.Equal(t, http.StatusOK, resp.status, resp.body)

	resp = f.do(http.MethodPost, "/api/auth/verify", map[string]string{
		"email": "alice@example.com", "code": f.mail.code("alice@example.com"),
	}, "")
	assert.Equal(t, http.StatusConflict, resp.status)
	assert.Equal(t, auth.CodeAlreadyVerified, resp.errorCode())

	resp = f.do(http.MethodPost, "/api/auth/login", map[string]string{
		"email": "alice@example.com", "password": "s3cret!",
	}, "")
	require.Equal(t, http.StatusOK, resp.status, resp.body)
	bearer, _ := resp.body["token"].(string)
	require.NotEmpty(t, bearer)

	resp = f.do(http.MethodGet, "/api/users/me", nil, bearer)
	require.Equal(t, http.StatusOK, resp.status, resp.body)
	assert.Equal(t, "alice@example.com", resp.body["email"])
	assert.Equal(t, "Alice", resp.body["first_name"])
	assert.Equal(t, true, resp.body["verified"])
}

func TestErrorResponses(t *testing.T) {
	f := newFixture(t)
	f.signUp("bob@example.com", "hunter22")

	tests := []struct {
		name       string
		path       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"duplicate registration", "/api/auth/register",
			map[string]string{"email": "bob@example.com", "password": "another1"},
			http.StatusConflict, auth.CodeAlreadyExists},
		{"wrong password", "/api/auth/login",
			map[string]string{"email": "bob@example.com", "password": "wrong-pass"},
			http.StatusUnauthorized, auth.CodeWrongCredentials},
		{"unknown account login", "/api/auth/login",
			map[string]string{"email": "nobody@example.com", "password": "whatever"},
			http.StatusUnauthorized, auth.CodeWrongCredentials},
		{"verify unknown account", "/api/auth/verify",
			map[string]string{"email": "nobody@example.com", "code": "123456"},
			http.StatusNotFound, auth.CodeNotFound},
		{"reset with unknown token", "/api/auth/reset",
			map[string]string{"token": strings.Repeat("ab", 32), "password": "newpass1"},
			http.StatusNotFound, auth.CodeResetTokenNotFound},
		{"malformed json", "/api/auth/login", `{"email":`,
			http.StatusBadRequest, auth.CodeRequestInvalid},
		{"short password", "/api/auth/register",
			map[string]string{"email": "carol@example.com", "password": "abc"},
			http.StatusBadRequest, auth.CodeRequestInvalid},
		{"bad code format", "/api/auth/verify",
			map[string]string{"email": "bob@example.com", "code": "12ab"},
			http.StatusBadRequest, auth.CodeRequestInvalid},
		{"unknown field", "/api/auth/resend",
			map[string]any{"email": "bob@example.com", "admin": true},
			http.StatusBadRequest, auth.CodeRequestInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(http.MethodPost, tt.path, tt.body, "")
			assert.Equal(t, tt.wantStatus, resp.status, resp.body)
			assert.Equal(t, tt.wantCode, resp.errorCode())
			assert.Equal(t, tt.path, resp.body["path"])
			assert.NotEmpty(t, resp.body["message"])
		})
	}
}

func TestUnknownAndWrongPasswordLookAlike(t *testing.T) {
	f := newFixture(t)
	f.signUp("bob@example.com", "hunter22")

	wrong := f.do(http.MethodPost, "/api/auth/login", map[string]string{
		"email": "bob@example.com", "password": "wrong-pass",
	}, "")
	unknown := f.do(http.MethodPost, "/api/auth/login", map[string]string{
		"email": "nobody@example.com", "password": "wrong-pass",
	}, "")
	assert.Equal(t, wrong.status, unknown.status)
	assert.Equal(t, wrong.body["message"], unknown.body["message"])
	assert.Equal(t, wrong.body["code"], unknown.body["code"])
}

func TestValidationDetails(t *testing.T) {
	f := newFixture(t)

	resp := f.do(http.MethodPost, "/api/auth/register", map[string]string{
		"email": "not-an-email", "password": "abc",
	}, "")
	require.Equal(t, http.StatusBadRequest, resp.status)

	details, ok := resp.body["details"].(map[string]any)
	require.True(t, ok, resp.body)
	fields, ok := details["fields"].([]any)
	require.True(t, ok, details)

	var paths []string
	for _, raw := range fields {
		field := raw.(map[string]any)
		paths = append(paths, field["path"].(string))
	}
	assert.Contains(t, paths, "/email")
	assert.Contains(t, paths, "/password")
}

func TestResendAndExpiry(t *testing.T) {
	f := newFixture(t)

	resp := f.do(http.MethodPost, "/api/auth/register", map[string]string{
		"email": "dave@example.com", "password": "hunter22",
	}, "")
	require.Equal(t, http.StatusCreated, resp.status)

	resp = f.do(http.MethodPost, "/api/auth/resend", map[string]string{"email": "dave@example.com"}, "")
	assert.Equal(t, http.StatusConflict, resp.status)
	assert.Equal(t, auth.CodeCodeStillValid, resp.errorCode())

	stale := f.mail.code("dave@example.com")
	f.clock.Advance(auth.VerificationCodeExpiry + time.Minute)

	resp = f.do(http.MethodPost, "/api/auth/verify", map[string]string{
		"email": "dave@example.com", "code": stale,
	}, "")
	assert.Equal(t, http.StatusGone, resp.status)
	assert.Equal(t, auth.CodeCodeExpired, resp.errorCode())

	resp = f.do(http.MethodPost, "/api/auth/resend", map[string]string{"email": "dave@example.com"}, "")
	require.Equal(t, http.StatusOK, resp.status, resp.body)

	resp = f.do(http.MethodPost, "/api/auth/verify", map[string]string{
		"email": "dave@example.com", "code": f.mail.code("dave@example.com"),
	}, "")
	assert.Equal(t, http.StatusOK, resp.status, resp.body)
}

func TestPasswordReset(t *testing.T) {
	f := newFixture(t)
	f.signUp("erin@example.com", "hunter22")

	resp := f.do(http.MethodPost, "/api/auth/reset-request", map[string]string{"email": "erin@example.com"}, "")
	require.Equal(t, http.StatusOK, resp.status, resp.body)
	resetToken := f.mail.reset("erin@example.com")
	require.Len(t, resetToken, 64)

	resp = f.do(http.MethodPost, "/api/auth/reset", map[string]string{
		"token": resetToken, "password": "brand-new",
	}, "")
	require.Equal(t, http.StatusOK, resp.status, resp.body)

	resp = f.do(http.MethodPost, "/api/auth/reset", map[string]string{
		"token": resetToken, "password": "brand-new-2",
	}, "")
	assert.Equal(t, http.StatusNotFound, resp.status)

	resp = f.do(http.MethodPost, "/api/auth/login", map[string]string{
		"email": "erin@example.com", "password": "brand-new",
	}, "")
	assert.Equal(t, http.StatusOK, resp.status)

	f.do(http.MethodPost, "/api/auth/reset-request", map[string]string{"email": "erin@example.com"}, "")
	f.clock.Advance(auth.ResetTokenExpiry + time.Second)
	resp = f.do(http.MethodPost, "/api/auth/reset", map[string]string{
		"token": f.mail.reset("erin@example.com"), "password": "too-late",
	}, "")
	assert.Equal(t, http.StatusGone, resp.status)
	assert.Equal(t, auth.CodeResetTokenExpired, resp.errorCode())
}

func TestBearerTokens(t *testing.T) {
	f := newFixture(t)
	_, bearer := f.signUp("frank@example.com", "hunter22")

	t.Run("missing", func(t *testing.T) {
		resp := f.do(http.MethodGet, "/api/users/me", nil, "")
		assert.Equal(t, http.StatusUnauthorized, resp.status)
		assert.Equal(t, auth.CodeUnauthenticated, resp.errorCode())
	})

	t.Run("tampered", func(t *testing.T) {
		resp := f.do(http.MethodGet, "/api/users/me", nil, bearer+"x")
		assert.Equal(t, http.StatusUnauthorized, resp.status)
	})

	t.Run("renew before soft expiry is rejected", func(t *testing.T) {
		resp := f.do(http.MethodPost, "/api/auth/renew", nil, bearer)
		assert.Equal(t, http.StatusBadRequest, resp.status)
	})

	f.clock.Advance(31 * time.Minute)

	t.Run("renewed transparently inside the grace window", func(t *testing.T) {
		resp := f.do(http.MethodGet, "/api/users/me", nil, bearer)
		require.Equal(t, http.StatusOK, resp.status, resp.body)
		renewed := strings.TrimPrefix(resp.header.Get("Authorization"), "Bearer ")
		require.NotEmpty(t, renewed)
		assert.NotEqual(t, bearer, renewed)

		resp = f.do(http.MethodGet, "/api/users/me", nil, renewed)
		assert.Equal(t, http.StatusOK, resp.status)
		assert.Empty(t, resp.header.Get("Authorization"))
	})

	t.Run("explicit renew", func(t *testing.T) {
		resp := f.do(http.MethodPost, "/api/auth/renew", nil, bearer)
		require.Equal(t, http.StatusOK, resp.status, resp.body)
		assert.NotEmpty(t, resp.body["token"])
	})

	f.clock.Advance(25 * time.Hour)

	t.Run("past the grace window", func(t *testing.T) {
		resp := f.do(http.MethodGet, "/api/users/me", nil, bearer)
		assert.Equal(t, http.StatusUnauthorized, resp.status)
		assert.Equal(t, "TOKEN_EXPIRED", resp.errorCode())
	})
}

func TestUserManagement(t *testing.T) {
	f := newFixture(t)
	aliceID, aliceToken := f.signUp("alice@example.com", "hunter22")
	bobID, bobToken := f.signUp("bob@example.com", "hunter22")
	f.promote("bob@example.com")
	// Renew bob's token so it carries the admin role.
	f.clock.Advance(31 * time.Minute)
	resp := f.do(http.MethodPost, "/api/auth/renew", nil, bobToken)
	require.Equal(t, http.StatusOK, resp.status, resp.body)
	adminToken := resp.body["token"].(string)
	resp = f.do(http.MethodPost, "/api/auth/renew", nil, aliceToken)
	require.Equal(t, http.StatusOK, resp.status, resp.body)
	aliceToken = resp.body["token"].(string)

	t.Run("users cannot list", func(t *testing.T) {
		resp := f.do(http.MethodGet, "/api/users", nil, aliceToken)
		assert.Equal(t, http.StatusForbidden, resp.status)
		assert.Equal(t, auth.CodeForbidden, resp.errorCode())
	})

	t.Run("admins list with paging", func(t *testing.T) {
		resp := f.do(http.MethodGet, "/api/users?offset=0&limit=1", nil, adminToken)
		require.Equal(t, http.StatusOK, resp.status, resp.body)
		accounts := resp.body["accounts"].([]any)
		assert.Len(t, accounts, 1)
		assert.Equal(t, float64(1), resp.body["limit"])
	})

	t.Run("bad paging", func(t *testing.T) {
		resp := f.do(http.MethodGet, "/api/users?limit=ten", nil, adminToken)
		assert.Equal(t, http.StatusBadRequest, resp.status)
	})

	t.Run("users read themselves but not others", func(t *testing.T) {
		resp := f.do(http.MethodGet, "/api/users/"+aliceID, nil, aliceToken)
		assert.Equal(t, http.StatusOK, resp.status)
		resp = f.do(http.MethodGet, "/api/users/"+bobID, nil, aliceToken)
		assert.Equal(t, http.StatusForbidden, resp.status)
	})

	t.Run("bad id", func(t *testing.T) {
		resp := f.do(http.MethodGet, "/api/users/not-a-ulid", nil, adminToken)
		assert.Equal(t, http.StatusBadRequest, resp.status)
	})

	t.Run("profile update", func(t *testing.T) {
		resp := f.do(http.MethodPut, "/api/users/"+aliceID, map[string]string{"first_name": "Alicia"}, aliceToken)
		require.Equal(t, http.StatusOK, resp.status, resp.body)
		assert.Equal(t, "Alicia", resp.body["first_name"])

		resp = f.do(http.MethodPut, "/api/users/"+aliceID, map[string]string{"role": "ADMIN"}, aliceToken)
		assert.Equal(t, http.StatusForbidden, resp.status)

		resp = f.do(http.MethodPut, "/api/users/"+aliceID, map[string]string{"password": "sneaky1"}, aliceToken)
		assert.Equal(t, http.StatusBadRequest, resp.status)

		resp = f.do(http.MethodPut, "/api/users/"+aliceID, map[string]string{"role": "ADMIN"}, adminToken)
		require.Equal(t, http.StatusOK, resp.status, resp.body)
		assert.Equal(t, "ADMIN", resp.body["role"])
	})

	t.Run("delete", func(t *testing.T) {
		resp := f.do(http.MethodDelete, "/api/users/"+aliceID, nil, adminToken)
		assert.Equal(t, http.StatusNoContent, resp.status)
		resp = f.do(http.MethodGet, "/api/users/"+aliceID, nil, adminToken)
		assert.Equal(t, http.StatusNotFound, resp.status)
	})
}

func TestBodyLimit(t *testing.T) {
	f := newFixture(t)
	resp := f.do(http.MethodPost, "/api/auth/login", map[string]string{
		"email": "a@example.com", "password": strings.Repeat("x", 1<<17),
	}, "")
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, auth.CodeRequestInvalid, resp.errorCode())
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/api/auth/login", nil)
	require.NoError(t, err)
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
