// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

package httpapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"

	"github.com/credence/credence/internal/auth"
	"github.com/credence/credence/internal/ratelimit"
	"github.com/credence/credence/internal/schema"
	"github.com/credence/credence/internal/token"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{auth.CodeNotFound, http.StatusNotFound},
		{auth.CodeAlreadyExists, http.StatusConflict},
		{auth.CodeWrongCredentials, http.StatusUnauthorized},
		{auth.CodeNotVerified, http.StatusForbidden},
		{auth.CodeAlreadyVerified, http.StatusConflict},
		{auth.CodeCodeInvalid, http.StatusBadRequest},
		{auth.CodeCodeExpired, http.StatusGone},
		{auth.CodeCodeStillValid, http.StatusConflict},
		{auth.CodeResetTokenNotFound, http.StatusNotFound},
		{auth.CodeResetTokenExpired, http.StatusGone},
		{token.CodeExpired, http.StatusUnauthorized},
		{token.CodeMalformed, http.StatusUnauthorized},
		{token.CodeUnsupported, http.StatusUnauthorized},
		{token.CodeInvalidSignature, http.StatusUnauthorized},
		{ratelimit.CodeRateLimited, http.StatusTooManyRequests},
		{auth.CodeAccountLocked, http.StatusLocked},
		{auth.CodeForbidden, http.StatusForbidden},
		{auth.CodeInvalidInput, http.StatusBadRequest},
		{auth.CodeRequestInvalid, http.StatusBadRequest},
		{auth.CodeUnauthenticated, http.StatusUnauthorized},
		{auth.CodeConflict, http.StatusConflict},
		{"AUTH_SAVE_FAILED", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := oops.Code(tt.code).Errorf("boom")
			assert.Equal(t, tt.want, StatusOf(err))
		})
	}

	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("plain")))
}

func TestPublicCodeAndMessage(t *testing.T) {
	known := oops.Code(auth.CodeCodeStillValid).Errorf("code still valid")
	assert.Equal(t, auth.CodeCodeStillValid, PublicCode(known))
	assert.Equal(t, "A verification code was already sent and is still valid.", PublicMessage(known))

	internal := oops.Code("AUTH_SAVE_FAILED").With("sql", "UPDATE accounts").Errorf("disk full")
	assert.Equal(t, auth.CodeInternal, PublicCode(internal))
	assert.Equal(t, genericMessage, PublicMessage(internal))

	// A wrapped sentinel keeps the outer code.
	wrapped := oops.Code(auth.CodeNotFound).Wrap(auth.ErrNotFound)
	assert.Equal(t, auth.CodeNotFound, PublicCode(wrapped))
}

func TestDetails(t *testing.T) {
	fields := []schema.FieldError{{Path: "/email", Message: "bad"}}
	assert.Equal(t, map[string]any{"fields": fields},
		details(oops.Code(auth.CodeRequestInvalid).With("fields", fields).Errorf("invalid")))

	assert.Equal(t, map[string]any{"retry_after_ms": int64(1500)},
		details(oops.Code(ratelimit.CodeRateLimited).With("retry_after_ms", int64(1500)).Errorf("slow down")))

	assert.Nil(t, details(oops.Code(auth.CodeNotFound).With("email", "a@example.com").Errorf("missing")))
	assert.Nil(t, details(errors.New("plain")))
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		ms   int64
		want int64
	}{
		{0, 1},
		{-5, 1},
		{1, 1},
		{1000, 1},
		{1001, 2},
		{30000, 30},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, retryAfterSeconds(tt.ms), "ms=%d", tt.ms)
	}
}

func TestWriteErrorLockedSetsRetryAfter(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	rec := httptest.NewRecorder()
	err := oops.Code(auth.CodeAccountLocked).With("retry_after_ms", int64(90_000)).Errorf("locked")

	writeError(rec, req, quietTestLogger(), err)

	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, "90", rec.Header().Get("Retry-After"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestWriteErrorHidesInternalDetails(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	rec := httptest.NewRecorder()
	err := oops.Code("AUTH_LIST_FAILED").With("retry_after_ms", int64(5)).Errorf("connection refused")

	writeError(rec, req, quietTestLogger(), err)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "details")
	assert.NotContains(t, rec.Body.String(), "connection refused")
	assert.Empty(t, rec.Header().Get("Retry-After"))
}

func quietTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
