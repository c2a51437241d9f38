// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/samber/oops"

	"github.com/credence/credence/internal/auth"
	"github.com/credence/credence/internal/ratelimit"
	"github.com/credence/credence/internal/schema"
	"github.com/credence/credence/internal/token"
	"github.com/credence/credence/pkg/errutil"
)

// ErrorBody is the JSON body of every failed request.
type ErrorBody struct {
	Timestamp time.Time      `json:"timestamp"`
	Status    int            `json:"status"`
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Path      string         `json:"path"`
	Details   map[string]any `json:"details,omitempty"`
}

const genericMessage = "Something went wrong. Try again."

var kindStatus = map[auth.Kind]int{
	auth.KindNotFound:              http.StatusNotFound,
	auth.KindAlreadyExists:         http.StatusConflict,
	auth.KindWrongCredentials:      http.StatusUnauthorized,
	auth.KindNotVerified:           http.StatusForbidden,
	auth.KindAlreadyVerified:       http.StatusConflict,
	auth.KindCodeInvalid:           http.StatusBadRequest,
	auth.KindCodeExpired:           http.StatusGone,
	auth.KindCodeStillValid:        http.StatusConflict,
	auth.KindTokenNotFound:         http.StatusNotFound,
	auth.KindTokenExpired:          http.StatusGone,
	auth.KindTokenMalformed:        http.StatusUnauthorized,
	auth.KindTokenInvalidSignature: http.StatusUnauthorized,
	auth.KindRateLimited:           http.StatusTooManyRequests,
	auth.KindLocked:                http.StatusLocked,
	auth.KindForbidden:             http.StatusForbidden,
	auth.KindInvalidInput:          http.StatusBadRequest,
	auth.KindUnauthenticated:       http.StatusUnauthorized,
	auth.KindConflict:              http.StatusConflict,
}

// StatusOf maps an error onto an HTTP status.
func StatusOf(err error) int {
	kind := auth.KindOf(err)
	// An expired reset token is gone; an expired bearer token is a login
	// problem.
	if kind == auth.KindTokenExpired && auth.CodeOf(err) == token.CodeExpired {
		return http.StatusUnauthorized
	}
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// PublicCode returns the machine code reported to clients. Codes of
// unexpected failures are collapsed so internals never leak.
func PublicCode(err error) string {
	if auth.KindOf(err) == auth.KindInternal {
		return auth.CodeInternal
	}
	return auth.CodeOf(err)
}

var codeMessages = map[string]string{
	auth.CodeNotFound:            "Account not found.",
	auth.CodeAlreadyExists:       "An account with this email already exists.",
	auth.CodeWrongCredentials:    "Wrong email or password.",
	auth.CodeNotVerified:         "Verify your email address before continuing.",
	auth.CodeAlreadyVerified:     "This account is already verified.",
	auth.CodeCodeInvalid:         "The verification code is not valid.",
	auth.CodeCodeExpired:         "The verification code has expired. Request a new one.",
	auth.CodeCodeStillValid:      "A verification code was already sent and is still valid.",
	auth.CodeResetTokenNotFound:  "The password reset link is not valid.",
	auth.CodeResetTokenExpired:   "The password reset link has expired. Request a new one.",
	auth.CodeAccountLocked:       "Too many failed logins. Try again later.",
	auth.CodeForbidden:           "You don't have permission to do that.",
	auth.CodeInvalidInput:        "The request is not valid.",
	auth.CodeRequestInvalid:      "The request body is not valid.",
	auth.CodeUnsupportedProvider: "That sign-in provider is not supported.",
	auth.CodeUnauthenticated:     "Authentication is required.",
	auth.CodeConflict:            "The account was changed concurrently. Try again.",
	"AUTH_EMPTY_PASSWORD":        "A password is required.",
	token.CodeExpired:            "Your session has expired. Log in again.",
	token.CodeNotRenewable:       "This token cannot be renewed yet.",
	token.CodeMalformed:          "The bearer token is not valid.",
	token.CodeUnsupported:        "The bearer token is not valid.",
	token.CodeSubjectMismatch:    "The bearer token is not valid.",
	token.CodeInvalidSignature:   "The bearer token is not valid.",
	ratelimit.CodeRateLimited:    "Too many requests. Please try again later.",
}

// PublicMessage extracts a client-facing message from an error.
func PublicMessage(err error) string {
	if msg, ok := codeMessages[PublicCode(err)]; ok {
		return msg
	}
	return genericMessage
}

// details returns the client-visible context of err.
func details(err error) map[string]any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	ctx := oopsErr.Context()
	out := make(map[string]any)
	if fields, ok := ctx["fields"].([]schema.FieldError); ok {
		out["fields"] = fields
	}
	if ms, ok := retryAfterMs(ctx); ok {
		out["retry_after_ms"] = ms
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func retryAfterMs(ctx map[string]any) (int64, bool) {
	switch v := ctx["retry_after_ms"].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	}
	return 0, false
}

// writeError renders err. Unexpected failures are logged with their full
// context; everything else is a client error and logged at debug.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	ctx := r.Context()
	status := StatusOf(err)
	body := ErrorBody{
		Timestamp: time.Now().UTC(),
		Status:    status,
		Code:      PublicCode(err),
		Message:   PublicMessage(err),
		Path:      r.URL.Path,
	}
	if status != http.StatusInternalServerError {
		body.Details = details(err)
	}

	if status == http.StatusTooManyRequests || status == http.StatusLocked {
		if ms, ok := body.Details["retry_after_ms"].(int64); ok {
			w.Header().Set("Retry-After", strconv.FormatInt(retryAfterSeconds(ms), 10))
		}
	}

	if status >= http.StatusInternalServerError {
		errutil.LogErrorContext(ctx, logger, "request failed", err)
	} else {
		logger.DebugContext(ctx, "request rejected",
			"path", r.URL.Path,
			"status", status,
			"code", body.Code)
	}

	if encErr := writeJSON(w, status, body); encErr != nil {
		logger.WarnContext(ctx, "failed to write error response", "error", encErr)
	}
}

// retryAfterSeconds rounds up so a client never retries early.
func retryAfterSeconds(ms int64) int64 {
	if ms <= 0 {
		return 1
	}
	return (ms + 999) / 1000
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return nil
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return oops.Code("HTTP_ENCODE_FAILED").Wrap(err)
	}
	return nil
}
