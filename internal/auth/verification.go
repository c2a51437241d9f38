// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"io"
	"math/big"
	"strconv"
	"time"

	"github.com/samber/oops"
)

// Verification code configuration.
const (
	VerificationCodeMin    = 100000
	VerificationCodeMax    = 999999
	VerificationCodeLength = 6
	VerificationCodeExpiry = 30 * time.Minute
)

// verificationCodeSpan is the number of distinct codes.
var verificationCodeSpan = big.NewInt(VerificationCodeMax - VerificationCodeMin + 1)

// VerificationCodes issues and checks email confirmation codes on accounts
// that are not yet enabled.
type VerificationCodes struct {
	clock  Clock
	expiry time.Duration
	random io.Reader
}

// NewVerificationCodes creates a code manager. A non-positive expiry uses
// VerificationCodeExpiry.
func NewVerificationCodes(clock Clock, expiry time.Duration) *VerificationCodes {
	if clock == nil {
		clock = SystemClock{}
	}
	if expiry <= 0 {
		expiry = VerificationCodeExpiry
	}
	return &VerificationCodes{clock: clock, expiry: expiry, random: rand.Reader}
}

// GenerateVerificationCode returns a uniformly distributed code in
// [VerificationCodeMin, VerificationCodeMax] read from r.
func GenerateVerificationCode(r io.Reader) (string, error) {
	n, err := rand.Int(r, verificationCodeSpan)
	if err != nil {
		return "", oops.Code("AUTH_CODE_GENERATE_FAILED").Wrap(err)
	}
	return strconv.FormatInt(n.Int64()+VerificationCodeMin, 10), nil
}

// Issue generates a new code on the account, replacing any previous one.
func (v *VerificationCodes) Issue(account *Account) (string, time.Time, error) {
	if account.Enabled {
		return "", time.Time{}, v.alreadyVerified(account)
	}
	code, err := GenerateVerificationCode(v.random)
	if err != nil {
		return "", time.Time{}, err
	}
	now := v.clock.Now()
	expiresAt := now.Add(v.expiry)
	account.VerificationCode = &code
	account.VerificationCodeExpiresAt = &expiresAt
	account.UpdatedAt = now
	return code, expiresAt, nil
}

// Verify checks supplied against the stored code. On success the account is
// enabled and the code pair cleared. A failed check leaves the account
// untouched.
func (v *VerificationCodes) Verify(account *Account, supplied string) error {
	if account.Enabled {
		return v.alreadyVerified(account)
	}
	if account.VerificationCode == nil ||
		subtle.ConstantTimeCompare([]byte(*account.VerificationCode), []byte(supplied)) != 1 {
		return oops.Code(CodeCodeInvalid).
			With("account_id", account.ID.String()).
			Errorf("invalid verification code")
	}
	now := v.clock.Now()
	if account.VerificationCodeExpiresAt == nil || now.After(*account.VerificationCodeExpiresAt) {
		return oops.Code(CodeCodeExpired).
			With("account_id", account.ID.String()).
			With("expired_at", account.VerificationCodeExpiresAt).
			Errorf("verification code has expired")
	}
	account.Enabled = true
	account.VerificationCode = nil
	account.VerificationCodeExpiresAt = nil
	account.UpdatedAt = now
	return nil
}

// Resend issues a replacement code once the current one has expired.
func (v *VerificationCodes) Resend(account *Account) (string, time.Time, error) {
	if account.Enabled {
		return "", time.Time{}, v.alreadyVerified(account)
	}
	if v.HasLiveCode(account) {
		return "", time.Time{}, oops.Code(CodeCodeStillValid).
			With("account_id", account.ID.String()).
			With("expires_at", *account.VerificationCodeExpiresAt).
			Errorf("current verification code is still valid")
	}
	return v.Issue(account)
}

// HasLiveCode reports whether the account holds an unexpired code.
func (v *VerificationCodes) HasLiveCode(account *Account) bool {
	return account.VerificationCode != nil &&
		account.VerificationCodeExpiresAt != nil &&
		!v.clock.Now().After(*account.VerificationCodeExpiresAt)
}

func (v *VerificationCodes) alreadyVerified(account *Account) error {
	return oops.Code(CodeAlreadyVerified).
		With("account_id", account.ID.String()).
		Errorf("account is already verified")
}
