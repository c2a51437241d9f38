// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

package token

import (
	"errors"

	"github.com/samber/oops"
)

// Error codes for bearer token failures.
const (
	CodeMalformed        = "TOKEN_MALFORMED"
	CodeInvalidSignature = "TOKEN_INVALID_SIGNATURE"
	CodeUnsupported      = "TOKEN_UNSUPPORTED"
	CodeExpired          = "TOKEN_EXPIRED"
	CodeNotRenewable     = "TOKEN_NOT_RENEWABLE"
	CodeSubjectMismatch  = "TOKEN_SUBJECT_MISMATCH"
	CodeIssueFailed      = "TOKEN_ISSUE_FAILED"
	CodeConfigInvalid    = "TOKEN_CONFIG_INVALID"
)

// errUnsupportedAlgorithm is returned from the key lookup for any algorithm
// other than the one the manager signs with.
var errUnsupportedAlgorithm = errors.New("unsupported signing algorithm")

func malformed(cause error) error {
	return oops.Code(CodeMalformed).Wrapf(cause, "malformed token")
}

func invalidSignature(cause error) error {
	return oops.Code(CodeInvalidSignature).Wrapf(cause, "token signature is invalid")
}

func unsupported(reason string) error {
	return oops.Code(CodeUnsupported).With("reason", reason).Errorf("unsupported token: %s", reason)
}
