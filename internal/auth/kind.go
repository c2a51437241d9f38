// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

package auth

import (
	"github.com/samber/oops"

	"github.com/credence/credence/internal/ratelimit"
	"github.com/credence/credence/internal/token"
)

// Kind classifies a failure for callers that map errors onto a transport.
type Kind int

// Failure kinds. KindInternal is reserved for unexpected failures.
const (
	KindInternal Kind = iota
	KindNotFound
	KindAlreadyExists
	KindWrongCredentials
	KindNotVerified
	KindAlreadyVerified
	KindCodeInvalid
	KindCodeExpired
	KindCodeStillValid
	KindTokenNotFound
	KindTokenExpired
	KindTokenMalformed
	KindTokenInvalidSignature
	KindRateLimited
	KindLocked
	KindForbidden
	KindInvalidInput
	KindUnauthenticated
	KindConflict
)

var kindNames = map[Kind]string{
	KindInternal:              "internal",
	KindNotFound:              "not_found",
	KindAlreadyExists:         "already_exists",
	KindWrongCredentials:      "wrong_credentials",
	KindNotVerified:           "not_verified",
	KindAlreadyVerified:       "already_verified",
	KindCodeInvalid:           "code_invalid",
	KindCodeExpired:           "code_expired",
	KindCodeStillValid:        "code_still_valid",
	KindTokenNotFound:         "token_not_found",
	KindTokenExpired:          "token_expired",
	KindTokenMalformed:        "token_malformed",
	KindTokenInvalidSignature: "token_invalid_signature",
	KindRateLimited:           "rate_limited",
	KindLocked:                "locked",
	KindForbidden:             "forbidden",
	KindInvalidInput:          "invalid_input",
	KindUnauthenticated:       "unauthenticated",
	KindConflict:              "conflict",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "internal"
}

// CodeRequestInvalid is used by transports for undecodable or schema-invalid
// request bodies.
const CodeRequestInvalid = "REQUEST_INVALID"

var codeKinds = map[string]Kind{
	CodeNotFound:            KindNotFound,
	CodeAlreadyExists:       KindAlreadyExists,
	CodeWrongCredentials:    KindWrongCredentials,
	CodeNotVerified:         KindNotVerified,
	CodeAlreadyVerified:     KindAlreadyVerified,
	CodeCodeInvalid:         KindCodeInvalid,
	CodeCodeExpired:         KindCodeExpired,
	CodeCodeStillValid:      KindCodeStillValid,
	CodeResetTokenNotFound:  KindTokenNotFound,
	CodeResetTokenExpired:   KindTokenExpired,
	CodeAccountLocked:       KindLocked,
	CodeForbidden:           KindForbidden,
	CodeInvalidInput:        KindInvalidInput,
	CodeRequestInvalid:      KindInvalidInput,
	CodeUnsupportedProvider: KindInvalidInput,
	"AUTH_EMPTY_PASSWORD":   KindInvalidInput,
	CodeUnauthenticated:     KindUnauthenticated,
	CodeConflict:            KindConflict,

	token.CodeExpired:          KindTokenExpired,
	token.CodeNotRenewable:     KindInvalidInput,
	token.CodeMalformed:        KindTokenMalformed,
	token.CodeUnsupported:      KindTokenMalformed,
	token.CodeSubjectMismatch:  KindTokenMalformed,
	token.CodeInvalidSignature: KindTokenInvalidSignature,

	ratelimit.CodeRateLimited: KindRateLimited,
}

// KindOf classifies err by its oops code. Errors without a known code are
// KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	code := CodeOf(err)
	if kind, ok := codeKinds[code]; ok {
		return kind
	}
	return KindInternal
}

// CodeOf returns the oops code carried by err, or CodeInternal.
func CodeOf(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return CodeInternal
	}
	code, _ := oopsErr.Code().(string)
	if code == "" {
		return CodeInternal
	}
	return code
}
