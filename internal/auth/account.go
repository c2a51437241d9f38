// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Role is the capability tag carried by an account and its bearer tokens.
type Role string

// Known roles.
const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// ParseRole converts a role name to a Role. Matching is case-insensitive.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleUser:
		return RoleUser, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", oops.Code(CodeInvalidInput).
			With("role", s).
			Errorf("unknown role %q", s)
	}
}

// Password length limits. The maximum bounds hashing cost per request.
const (
	MinPasswordLength = 6
	MaxPasswordLength = 128
)

// Account is the persisted identity record.
type Account struct {
	ID           ulid.ULID
	Email        string
	PasswordHash string `json:"-"`
	FirstName    string
	LastName     string
	Role         Role
	Enabled      bool

	VerificationCode          *string
	VerificationCodeExpiresAt *time.Time

	ResetTokenHash      *string
	ResetTokenExpiresAt *time.Time

	FailedAttempts int
	LockedUntil    *time.Time

	// Version is the optimistic concurrency counter. Zero means not yet stored.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewAccount creates a pending-verification account with a fresh ULID.
func NewAccount(email, passwordHash string, role Role, now time.Time) (*Account, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code(CodeInvalidInput).Errorf("password hash cannot be empty")
	}
	if role == "" {
		role = RoleUser
	}
	return &Account{
		ID:           ulid.Make(),
		Email:        normalized,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Validate checks the record-level invariants.
func (a *Account) Validate() error {
	if a.PasswordHash == "" {
		return oops.Code(CodeInvalidInput).With("account_id", a.ID.String()).
			Errorf("password hash cannot be empty")
	}
	if (a.VerificationCode == nil) != (a.VerificationCodeExpiresAt == nil) {
		return oops.Code(CodeInvalidInput).With("account_id", a.ID.String()).
			Errorf("verification code and expiry must be set together")
	}
	if (a.ResetTokenHash == nil) != (a.ResetTokenExpiresAt == nil) {
		return oops.Code(CodeInvalidInput).With("account_id", a.ID.String()).
			Errorf("reset token and expiry must be set together")
	}
	if a.Enabled && a.VerificationCode != nil {
		return oops.Code(CodeInvalidInput).With("account_id", a.ID.String()).
			Errorf("verified account cannot hold a verification code")
	}
	return nil
}

// Clone returns a deep copy so stores never share pointers with callers.
func (a *Account) Clone() *Account {
	c := *a
	c.VerificationCode = clonePtr(a.VerificationCode)
	c.VerificationCodeExpiresAt = clonePtr(a.VerificationCodeExpiresAt)
	c.ResetTokenHash = clonePtr(a.ResetTokenHash)
	c.ResetTokenExpiresAt = clonePtr(a.ResetTokenExpiresAt)
	c.LockedUntil = clonePtr(a.LockedUntil)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// NormalizeEmail trims, lower-cases and validates an email address.
func NormalizeEmail(email string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(email))
	if trimmed == "" {
		return "", ErrInvalidInput("email", "cannot be empty")
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", ErrInvalidInput("email", "must be a valid address")
	}
	return trimmed, nil
}

// ValidatePassword checks the plaintext length rules.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return oops.Code(CodeInvalidInput).
			With("field", "password").
			With("min", MinPasswordLength).
			Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return oops.Code(CodeInvalidInput).
			With("field", "password").
			With("max", MaxPasswordLength).
			Errorf("password must be at most %d characters", MaxPasswordLength)
	}
	return nil
}

// AccountRepository is the credential store.
type AccountRepository interface {
	// FindByEmail retrieves an account by email (case-insensitive).
	// Returns ErrNotFound if no account has the given email.
	FindByEmail(ctx context.Context, email string) (*Account, error)

	// FindByResetToken retrieves the account holding the given reset token hash.
	FindByResetToken(ctx context.Context, tokenHash string) (*Account, error)

	// FindByID retrieves an account by ID.
	FindByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// Save inserts the account when Version is zero, otherwise updates it
	// when the stored version still equals Version. On success Version is
	// incremented in place. Returns ErrAlreadyExists on a duplicate email and
	// ErrConflict when the stored version moved.
	Save(ctx context.Context, account *Account) error

	// ExistsByEmail reports whether an account uses the email.
	ExistsByEmail(ctx context.Context, email string) (bool, error)

	// List returns accounts ordered by creation time.
	List(ctx context.Context, offset, limit int) ([]*Account, error)

	// Delete removes an account.
	Delete(ctx context.Context, id ulid.ULID) error
}
