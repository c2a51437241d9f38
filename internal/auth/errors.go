// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned by repositories when a unique key is taken.
var ErrAlreadyExists = errors.New("already exists")

// ErrConflict is returned by repositories when an optimistic version check fails.
var ErrConflict = errors.New("concurrent modification")

// Error codes for account lifecycle failures.
const (
	CodeNotFound            = "AUTH_NOT_FOUND"
	CodeAlreadyExists       = "AUTH_ALREADY_EXISTS"
	CodeWrongCredentials    = "AUTH_WRONG_CREDENTIALS"
	CodeNotVerified         = "AUTH_NOT_VERIFIED"
	CodeAlreadyVerified     = "AUTH_ALREADY_VERIFIED"
	CodeCodeInvalid         = "AUTH_CODE_INVALID"
	CodeCodeExpired         = "AUTH_CODE_EXPIRED"
	CodeCodeStillValid      = "AUTH_CODE_STILL_VALID"
	CodeResetTokenNotFound  = "AUTH_RESET_TOKEN_NOT_FOUND"
	CodeResetTokenExpired   = "AUTH_RESET_TOKEN_EXPIRED"
	CodeAccountLocked       = "AUTH_ACCOUNT_LOCKED"
	CodeForbidden           = "AUTH_FORBIDDEN"
	CodeInvalidInput        = "AUTH_INVALID_INPUT"
	CodeUnauthenticated     = "AUTH_UNAUTHENTICATED"
	CodeConflict            = "AUTH_CONFLICT"
	CodeUnsupportedProvider = "AUTH_UNSUPPORTED_PROVIDER"
	CodeInternal            = "AUTH_INTERNAL"
)

// ErrAccountNotFound creates an error for a lookup that matched no account.
func ErrAccountNotFound(email string) error {
	return oops.Code(CodeNotFound).
		With("email", email).
		Wrap(ErrNotFound)
}

// ErrWrongCredentials creates the opaque login failure. It never carries the
// email or the reason so callers cannot tell a missing account from a bad
// password.
func ErrWrongCredentials() error {
	return oops.Code(CodeWrongCredentials).Errorf("wrong email or password")
}

// ErrInvalidInput creates a validation error for a single field.
func ErrInvalidInput(field, reason string) error {
	return oops.Code(CodeInvalidInput).
		With("field", field).
		Errorf("%s: %s", field, reason)
}

// ErrForbidden creates an error for a principal acting outside its rights.
func ErrForbidden(action string) error {
	return oops.Code(CodeForbidden).
		With("action", action).
		Errorf("not allowed to %s", action)
}
