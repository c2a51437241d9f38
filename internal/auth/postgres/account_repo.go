// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

// Package postgres implements the account store on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/credence/credence/internal/auth"
)

// poolIface is the subset of *pgxpool.Pool the repository uses. It is
// satisfied by pgxmock pools in unit tests.
type poolIface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const accountColumns = `id, email, password_hash, first_name, last_name, role, enabled,
		       verification_code, verification_code_expires_at,
		       reset_token_hash, reset_token_expires_at,
		       failed_attempts, locked_until, version, created_at, updated_at`

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	pool poolIface
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool poolIface) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// FindByEmail retrieves an account by email (case-insensitive).
func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*auth.Account, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE LOWER(email) = LOWER($1)
	`, email)

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_EMAIL_FAILED").
			With("operation", "get account by email").
			With("email", email).
			Wrap(err)
	}
	return account, nil
}

// FindByResetToken retrieves the account holding a reset token hash.
func (r *AccountRepository) FindByResetToken(ctx context.Context, tokenHash string) (*auth.Account, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE reset_token_hash = $1
	`, tokenHash)

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_RESET_TOKEN_FAILED").
			With("operation", "get account by reset token").
			Wrap(err)
	}
	return account, nil
}

// FindByID retrieves an account by ID.
func (r *AccountRepository) FindByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
	`, id.String())

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_ID_FAILED").
			With("operation", "get account by id").
			With("id", id.String()).
			Wrap(err)
	}
	return account, nil
}

// Save inserts a new account (Version 0) or updates an existing one when
// its stored version still matches. Version is incremented on success.
func (r *AccountRepository) Save(ctx context.Context, account *auth.Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	if account.Version == 0 {
		return r.insert(ctx, account)
	}
	return r.update(ctx, account)
}

func (r *AccountRepository) insert(ctx context.Context, account *auth.Account) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO accounts (
			id, email, password_hash, first_name, last_name, role, enabled,
			verification_code, verification_code_expires_at,
			reset_token_hash, reset_token_expires_at,
			failed_attempts, locked_until, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1, $14, $15)
	`,
		account.ID.String(),
		account.Email,
		account.PasswordHash,
		account.FirstName,
		account.LastName,
		string(account.Role),
		account.Enabled,
		account.VerificationCode,
		account.VerificationCodeExpiresAt,
		account.ResetTokenHash,
		account.ResetTokenExpiresAt,
		account.FailedAttempts,
		account.LockedUntil,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.With("email", account.Email).Wrap(auth.ErrAlreadyExists)
		}
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("id", account.ID.String()).
			Wrap(err)
	}
	account.Version = 1
	return nil
}

func (r *AccountRepository) update(ctx context.Context, account *auth.Account) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE accounts SET
			email = $3,
			password_hash = $4,
			first_name = $5,
			last_name = $6,
			role = $7,
			enabled = $8,
			verification_code = $9,
			verification_code_expires_at = $10,
			reset_token_hash = $11,
			reset_token_expires_at = $12,
			failed_attempts = $13,
			locked_until = $14,
			updated_at = $15,
			version = version + 1
		WHERE id = $1 AND version = $2
	`,
		account.ID.String(),
		account.Version,
		account.Email,
		account.PasswordHash,
		account.FirstName,
		account.LastName,
		string(account.Role),
		account.Enabled,
		account.VerificationCode,
		account.VerificationCodeExpiresAt,
		account.ResetTokenHash,
		account.ResetTokenExpiresAt,
		account.FailedAttempts,
		account.LockedUntil,
		account.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.With("email", account.Email).Wrap(auth.ErrAlreadyExists)
		}
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "update account").
			With("id", account.ID.String()).
			Wrap(err)
	}

	if result.RowsAffected() == 0 {
		// Either the row is gone or another writer bumped the version.
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`,
			account.ID.String()).Scan(&exists); err != nil {
			return oops.Code("ACCOUNT_UPDATE_FAILED").
				With("operation", "check account exists").
				With("id", account.ID.String()).
				Wrap(err)
		}
		if !exists {
			return oops.Code("ACCOUNT_NOT_FOUND").
				With("id", account.ID.String()).
				Wrap(auth.ErrNotFound)
		}
		return oops.
			With("id", account.ID.String()).
			With("expected_version", account.Version).
			Wrap(auth.ErrConflict)
	}

	account.Version++
	return nil
}

// ExistsByEmail reports whether an account uses the email.
func (r *AccountRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM accounts WHERE LOWER(email) = LOWER($1))
	`, email).Scan(&exists)
	if err != nil {
		return false, oops.Code("ACCOUNT_EXISTS_CHECK_FAILED").
			With("operation", "check email").
			With("email", email).
			Wrap(err)
	}
	return exists, nil
}

// List returns accounts ordered by creation time.
func (r *AccountRepository) List(ctx context.Context, offset, limit int) ([]*auth.Account, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		ORDER BY created_at, id
		OFFSET $1 LIMIT $2
	`, offset, limit)
	if err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").
			With("operation", "list accounts").
			Wrap(err)
	}
	defer rows.Close()

	accounts := make([]*auth.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").
			With("operation", "iterate accounts").
			Wrap(err)
	}
	return accounts, nil
}

// Delete removes an account.
func (r *AccountRepository) Delete(ctx context.Context, id ulid.ULID) error {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM accounts WHERE id = $1
	`, id.String())
	if err != nil {
		return oops.Code("ACCOUNT_DELETE_FAILED").
			With("operation", "delete account").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// scanAccount scans a single row into an Account.
// Callers are responsible for handling pgx.ErrNoRows.
func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		idStr                 string
		email                 string
		passwordHash          string
		firstName             string
		lastName              string
		role                  string
		enabled               bool
		verificationCode      *string
		verificationExpiresAt *time.Time
		resetTokenHash        *string
		resetExpiresAt        *time.Time
		failedAttempts        int
		lockedUntil           *time.Time
		version               int64
		createdAt             time.Time
		updatedAt             time.Time
	)

	err := row.Scan(
		&idStr,
		&email,
		&passwordHash,
		&firstName,
		&lastName,
		&role,
		&enabled,
		&verificationCode,
		&verificationExpiresAt,
		&resetTokenHash,
		&resetExpiresAt,
		&failedAttempts,
		&lockedUntil,
		&version,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("ACCOUNT_SCAN_FAILED").
			With("operation", "scan account").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").
			With("operation", "parse account id").
			With("id", idStr).
			Wrap(err)
	}

	return &auth.Account{
		ID:                        id,
		Email:                     email,
		PasswordHash:              passwordHash,
		FirstName:                 firstName,
		LastName:                  lastName,
		Role:                      auth.Role(role),
		Enabled:                   enabled,
		VerificationCode:          verificationCode,
		VerificationCodeExpiresAt: utcPtr(verificationExpiresAt),
		ResetTokenHash:            resetTokenHash,
		ResetTokenExpiresAt:       utcPtr(resetExpiresAt),
		FailedAttempts:            failedAttempts,
		LockedUntil:               utcPtr(lockedUntil),
		Version:                   version,
		CreatedAt:                 createdAt.UTC(),
		UpdatedAt:                 updatedAt.UTC(),
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// Compile-time interface check.
var _ auth.AccountRepository = (*AccountRepository)(nil)
