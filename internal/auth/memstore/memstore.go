// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

// Package memstore is an in-memory account store for development and tests.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/credence/credence/internal/auth"
)

// AccountRepository keeps accounts in a map. Callers always receive copies.
type AccountRepository struct {
	mu       sync.RWMutex
	byID     map[ulid.ULID]*auth.Account
	byEmail  map[string]ulid.ULID
	byResets map[string]ulid.ULID
}

// NewAccountRepository creates an empty store.
func NewAccountRepository() *AccountRepository {
	return &AccountRepository{
		byID:     make(map[ulid.ULID]*auth.Account),
		byEmail:  make(map[string]ulid.ULID),
		byResets: make(map[string]ulid.ULID),
	}
}

// FindByEmail implements auth.AccountRepository.
func (r *AccountRepository) FindByEmail(_ context.Context, email string) (*auth.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, oops.With("email", email).Wrap(auth.ErrNotFound)
	}
	return r.byID[id].Clone(), nil
}

// FindByResetToken implements auth.AccountRepository.
func (r *AccountRepository) FindByResetToken(_ context.Context, tokenHash string) (*auth.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byResets[tokenHash]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return r.byID[id].Clone(), nil
}

// FindByID implements auth.AccountRepository.
func (r *AccountRepository) FindByID(_ context.Context, id ulid.ULID) (*auth.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.byID[id]
	if !ok {
		return nil, oops.With("account_id", id.String()).Wrap(auth.ErrNotFound)
	}
	return account.Clone(), nil
}

// Save implements auth.AccountRepository.
func (r *AccountRepository) Save(_ context.Context, account *auth.Account) error {
	if err := account.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, taken := r.byEmail[account.Email]; taken && owner != account.ID {
		return oops.With("email", account.Email).Wrap(auth.ErrAlreadyExists)
	}

	existing, stored := r.byID[account.ID]
	switch {
	case account.Version == 0 && stored:
		return oops.With("account_id", account.ID.String()).Wrap(auth.ErrAlreadyExists)
	case account.Version != 0 && !stored:
		return oops.With("account_id", account.ID.String()).Wrap(auth.ErrNotFound)
	case stored && existing.Version != account.Version:
		return oops.
			With("account_id", account.ID.String()).
			With("expected_version", account.Version).
			With("stored_version", existing.Version).
			Wrap(auth.ErrConflict)
	}

	if stored {
		delete(r.byEmail, existing.Email)
		if existing.ResetTokenHash != nil {
			delete(r.byResets, *existing.ResetTokenHash)
		}
	}

	account.Version++
	saved := account.Clone()
	r.byID[saved.ID] = saved
	r.byEmail[saved.Email] = saved.ID
	if saved.ResetTokenHash != nil {
		r.byResets[*saved.ResetTokenHash] = saved.ID
	}
	return nil
}

// ExistsByEmail implements auth.AccountRepository.
func (r *AccountRepository) ExistsByEmail(_ context.Context, email string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byEmail[email]
	return ok, nil
}

// List implements auth.AccountRepository.
func (r *AccountRepository) List(_ context.Context, offset, limit int) ([]*auth.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*auth.Account, 0, len(r.byID))
	for _, account := range r.byID {
		all = append(all, account)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID.Compare(all[j].ID) < 0
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []*auth.Account{}, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	page := make([]*auth.Account, 0, end-offset)
	for _, account := range all[offset:end] {
		page = append(page, account.Clone())
	}
	return page, nil
}

// Delete implements auth.AccountRepository.
func (r *AccountRepository) Delete(_ context.Context, id ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.byID[id]
	if !ok {
		return oops.With("account_id", id.String()).Wrap(auth.ErrNotFound)
	}
	delete(r.byID, id)
	delete(r.byEmail, account.Email)
	if account.ResetTokenHash != nil {
		delete(r.byResets, *account.ResetTokenHash)
	}
	return nil
}

// Len returns the number of stored accounts.
func (r *AccountRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

var _ auth.AccountRepository = (*AccountRepository)(nil)
