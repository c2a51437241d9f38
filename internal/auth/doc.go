// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

// Package auth implements the account lifecycle engine for Credence.
//
// # Domain Types
//
// Account is the only persisted entity. New accounts should be created with
// NewAccount, which validates the email and password hash and assigns a ULID.
// Account.Validate enforces the pairing invariants between the verification
// code and its expiry and between the reset token and its expiry.
//
// # Managers
//
// Each credential concern has a small manager that mutates an Account in place:
//   - VerificationCodes - six digit email confirmation codes
//   - ResetTokens - opaque password reset tokens
//   - Lockout - consecutive login failure tracking
//
// Managers never touch storage. The Service persists the result.
//
// # Service
//
// Service composes the managers, the PasswordHasher, the token.Manager and an
// AccountRepository into register, verify, resend, login, requestReset and
// resetPassword. Failures are oops errors with stable codes; KindOf maps any
// error onto the closed Kind taxonomy for transport layers.
//
// Operations that depend on who is calling take an explicit Principal.
package auth
