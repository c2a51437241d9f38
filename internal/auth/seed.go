// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/samber/oops"

	"github.com/credence/credence/internal/schema"
)

// SeedSchemaName names the seed file schema.
const SeedSchemaName = "seed-file"

// SeedAccount describes an account provisioned out of band, such as the
// initial administrator. Seeded accounts are created already verified.
type SeedAccount struct {
	Email     string `yaml:"email" json:"email" jsonschema:"required,format=email"`
	Password  string `yaml:"password" json:"password" jsonschema:"required,minLength=6,maxLength=128"`
	FirstName string `yaml:"first_name,omitempty" json:"first_name,omitempty"`
	LastName  string `yaml:"last_name,omitempty" json:"last_name,omitempty"`
	Role      Role   `yaml:"role,omitempty" json:"role,omitempty" jsonschema:"enum=USER,enum=ADMIN"`
}

// SeedFile is the document read by `credence seed` and `serve --seed-admin`.
type SeedFile struct {
	Accounts []SeedAccount `yaml:"accounts" json:"accounts" jsonschema:"required,minItems=1"`
}

// SeedDefinition describes the seed file document for validation and
// schema generation.
func SeedDefinition() schema.Definition {
	return schema.Definition{
		Name:        SeedSchemaName,
		Title:       "Credence seed accounts",
		Description: "Accounts created verified by credence seed and serve --seed.",
		Prototype:   &SeedFile{},
	}
}

// EnsureAccount creates the seed account if its email is unused. An existing
// account is left untouched. Reports whether an account was created.
func (s *Service) EnsureAccount(ctx context.Context, seed SeedAccount) (created bool, err error) {
	ctx, done := s.trace(ctx, "ensure_account")
	defer func() { done(err) }()

	email, err := NormalizeEmail(seed.Email)
	if err != nil {
		return false, err
	}
	if err := ValidatePassword(seed.Password); err != nil {
		return false, err
	}
	role := RoleUser
	if seed.Role != "" {
		if role, err = ParseRole(string(seed.Role)); err != nil {
			return false, err
		}
	}

	exists, err := s.accounts.ExistsByEmail(ctx, email)
	if err != nil {
		return false, oops.Code("AUTH_SEED_FAILED").
			With("operation", "check email").
			With("email", email).
			Wrap(err)
	}
	if exists {
		s.logger.InfoContext(ctx, "seed account already exists, skipping", "email", email)
		return false, nil
	}

	hash, err := s.hasher.Hash(seed.Password)
	if err != nil {
		return false, oops.Code("AUTH_SEED_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}
	account, err := NewAccount(email, hash, role, s.clock.Now())
	if err != nil {
		return false, err
	}
	account.FirstName = strings.TrimSpace(seed.FirstName)
	account.LastName = strings.TrimSpace(seed.LastName)
	account.Enabled = true

	if err := s.save(ctx, account); err != nil {
		// Lost a race with a concurrent seed or registration.
		if errors.Is(err, ErrAlreadyExists) {
			return false, nil
		}
		return false, err
	}

	s.logger.InfoContext(ctx, "seed account created",
		"account_id", account.ID.String(),
		"role", string(account.Role))
	return true, nil
}
