// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Paging limits for ListAccounts.
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Page selects a slice of the account list.
type Page struct {
	Offset int
	Limit  int
}

// Normalized clamps the offset and limit to the allowed range.
func (p Page) Normalized() Page {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	return p
}

// ProfileUpdate lists the fields a caller may change. Nil fields are left
// alone. Credentials, verification and reset state are never updatable here.
type ProfileUpdate struct {
	Email     *string
	FirstName *string
	LastName  *string
	Role      *Role
}

// GetAccount returns an account the principal may view.
func (s *Service) GetAccount(ctx context.Context, p Principal, id ulid.ULID) (_ *Account, err error) {
	ctx, done := s.trace(ctx, "get_account")
	defer func() { done(err) }()

	if err := authorize(p, id, "view account"); err != nil {
		return nil, err
	}
	return s.findByID(ctx, id)
}

// ListAccounts returns a page of accounts. Admin only.
func (s *Service) ListAccounts(ctx context.Context, p Principal, page Page) (_ []*Account, err error) {
	ctx, done := s.trace(ctx, "list_accounts")
	defer func() { done(err) }()

	if p.IsAnonymous() {
		return nil, errUnauthenticated()
	}
	if !p.IsAdmin() {
		return nil, ErrForbidden("list accounts")
	}

	page = page.Normalized()
	accounts, err := s.accounts.List(ctx, page.Offset, page.Limit)
	if err != nil {
		return nil, oops.Code("AUTH_LIST_FAILED").
			With("offset", page.Offset).
			With("limit", page.Limit).
			Wrap(err)
	}
	return accounts, nil
}

// UpdateProfile applies a profile change. Users may edit their own profile;
// only admins may edit others or change a role.
func (s *Service) UpdateProfile(ctx context.Context, p Principal, id ulid.ULID, upd ProfileUpdate) (_ *Account, err error) {
	ctx, done := s.trace(ctx, "update_profile")
	defer func() { done(err) }()

	if err := authorize(p, id, "update account"); err != nil {
		return nil, err
	}
	if upd.Role != nil && !p.IsAdmin() {
		return nil, ErrForbidden("change role")
	}

	var email string
	if upd.Email != nil {
		email, err = NormalizeEmail(*upd.Email)
		if err != nil {
			return nil, err
		}
	}
	if upd.Role != nil {
		if _, err := ParseRole(string(*upd.Role)); err != nil {
			return nil, err
		}
	}

	account, err := s.update(ctx, func(ctx context.Context) (*Account, error) {
		return s.findByID(ctx, id)
	}, func(account *Account) error {
		if upd.Email != nil && email != account.Email {
			exists, existsErr := s.accounts.ExistsByEmail(ctx, email)
			if existsErr != nil {
				return oops.Code("AUTH_UPDATE_FAILED").
					With("operation", "check email").
					Wrap(existsErr)
			}
			if exists {
				return errAlreadyExists(email)
			}
			account.Email = email
		}
		if upd.FirstName != nil {
			account.FirstName = strings.TrimSpace(*upd.FirstName)
		}
		if upd.LastName != nil {
			account.LastName = strings.TrimSpace(*upd.LastName)
		}
		if upd.Role != nil {
			role, _ := ParseRole(string(*upd.Role))
			account.Role = role
		}
		account.UpdatedAt = s.clock.Now()
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyExists) && upd.Email != nil {
			return nil, errAlreadyExists(email)
		}
		return nil, err
	}
	return account, nil
}

// DeleteAccount removes an account. Users may delete their own account.
func (s *Service) DeleteAccount(ctx context.Context, p Principal, id ulid.ULID) (err error) {
	ctx, done := s.trace(ctx, "delete_account")
	defer func() { done(err) }()

	if err := authorize(p, id, "delete account"); err != nil {
		return err
	}
	if err := s.accounts.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return errAccountIDNotFound(id)
		}
		return oops.Code("AUTH_DELETE_FAILED").
			With("account_id", id.String()).
			Wrap(err)
	}
	s.logger.InfoContext(ctx, "account deleted",
		"account_id", id.String(),
		"deleted_by", p.AccountID.String())
	return nil
}

func (s *Service) findByID(ctx context.Context, id ulid.ULID) (*Account, error) {
	account, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, errAccountIDNotFound(id)
		}
		return nil, oops.Code("AUTH_LOOKUP_FAILED").
			With("operation", "find account by id").
			With("account_id", id.String()).
			Wrap(err)
	}
	return account, nil
}

func authorize(p Principal, id ulid.ULID, action string) error {
	if p.IsAnonymous() {
		return errUnauthenticated()
	}
	if !p.CanManage(id) {
		return ErrForbidden(action)
	}
	return nil
}

func errUnauthenticated() error {
	return oops.Code(CodeUnauthenticated).Errorf("authentication required")
}

func errAccountIDNotFound(id ulid.ULID) error {
	return oops.Code(CodeNotFound).
		With("account_id", id.String()).
		Wrap(ErrNotFound)
}
