// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"time"

	"github.com/samber/oops"
)

// Reset token configuration.
const (
	ResetTokenBytes  = 32        // 32 bytes = 64 hex chars
	ResetTokenExpiry = time.Hour // default expiry
)

// GenerateResetToken creates a secure random token and its hash.
// Returns (plaintext_token, sha256_hash, error).
// The plaintext token is sent to the user; the hash is stored with the account.
func GenerateResetToken(r io.Reader) (token, hash string, err error) {
	tokenBytes := make([]byte, ResetTokenBytes)
	if _, err = io.ReadFull(r, tokenBytes); err != nil {
		return "", "", oops.Code("RESET_TOKEN_GENERATE_FAILED").Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	hash = HashResetToken(token)

	return token, hash, nil
}

// VerifyResetToken checks if the plaintext token matches the stored hash.
// Uses constant-time comparison to prevent timing attacks.
func VerifyResetToken(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	computed := HashResetToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

// HashResetToken computes the SHA256 hash of a token. Stores index accounts
// by this value so the plaintext never reaches the database.
func HashResetToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// ResetTokens issues and redeems password reset tokens.
type ResetTokens struct {
	clock  Clock
	expiry time.Duration
	hasher PasswordHasher
	random io.Reader
}

// NewResetTokens creates a reset manager. A non-positive expiry uses
// ResetTokenExpiry.
func NewResetTokens(clock Clock, expiry time.Duration, hasher PasswordHasher) *ResetTokens {
	if clock == nil {
		clock = SystemClock{}
	}
	if expiry <= 0 {
		expiry = ResetTokenExpiry
	}
	return &ResetTokens{clock: clock, expiry: expiry, hasher: hasher, random: rand.Reader}
}

// Request stores a new token hash on a verified account, replacing any
// unconsumed token. The plaintext token is returned for delivery.
func (r *ResetTokens) Request(account *Account) (string, time.Time, error) {
	if !account.Enabled {
		return "", time.Time{}, oops.Code(CodeNotVerified).
			With("account_id", account.ID.String()).
			Errorf("account not verified")
	}
	token, hash, err := GenerateResetToken(r.random)
	if err != nil {
		return "", time.Time{}, err
	}
	now := r.clock.Now()
	expiresAt := now.Add(r.expiry)
	account.ResetTokenHash = &hash
	account.ResetTokenExpiresAt = &expiresAt
	account.UpdatedAt = now
	return token, expiresAt, nil
}

// Redeem replaces the password of an account found by its reset token and
// clears the token in the same mutation. The caller persists both together.
func (r *ResetTokens) Redeem(account *Account, token, newPassword string) error {
	if account.ResetTokenHash == nil || !VerifyResetToken(token, *account.ResetTokenHash) {
		return oops.Code(CodeResetTokenNotFound).Errorf("reset token not found")
	}
	now := r.clock.Now()
	if account.ResetTokenExpiresAt == nil || now.After(*account.ResetTokenExpiresAt) {
		return oops.Code(CodeResetTokenExpired).
			With("account_id", account.ID.String()).
			Errorf("password reset token has expired")
	}
	hashed, err := r.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}
	account.PasswordHash = hashed
	account.ResetTokenHash = nil
	account.ResetTokenExpiresAt = nil
	account.FailedAttempts = 0
	account.LockedUntil = nil
	account.UpdatedAt = now
	return nil
}
