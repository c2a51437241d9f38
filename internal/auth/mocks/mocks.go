// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

// Package mocks provides testify mocks for the auth interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/credence/credence/internal/auth"
	"github.com/credence/credence/internal/token"
)

// T is the subset of testing.TB the constructors need.
type T interface {
	mock.TestingT
	Cleanup(func())
}

// MockAccountRepository mocks auth.AccountRepository.
type MockAccountRepository struct {
	mock.Mock
}

// NewMockAccountRepository creates a mock that asserts its expectations on cleanup.
func NewMockAccountRepository(t T) *MockAccountRepository {
	m := &MockAccountRepository{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func accountResult(ret mock.Arguments) (*auth.Account, error) {
	var account *auth.Account
	if v := ret.Get(0); v != nil {
		account = v.(*auth.Account)
	}
	return account, ret.Error(1)
}

// FindByEmail mocks the repository method.
func (m *MockAccountRepository) FindByEmail(ctx context.Context, email string) (*auth.Account, error) {
	return accountResult(m.Called(ctx, email))
}

// FindByResetToken mocks the repository method.
func (m *MockAccountRepository) FindByResetToken(ctx context.Context, tokenHash string) (*auth.Account, error) {
	return accountResult(m.Called(ctx, tokenHash))
}

// FindByID mocks the repository method.
func (m *MockAccountRepository) FindByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	return accountResult(m.Called(ctx, id))
}

// Save mocks the repository method.
func (m *MockAccountRepository) Save(ctx context.Context, account *auth.Account) error {
	return m.Called(ctx, account).Error(0)
}

// ExistsByEmail mocks the repository method.
func (m *MockAccountRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	ret := m.Called(ctx, email)
	return ret.Bool(0), ret.Error(1)
}

// List mocks the repository method.
func (m *MockAccountRepository) List(ctx context.Context, offset, limit int) ([]*auth.Account, error) {
	ret := m.Called(ctx, offset, limit)
	var accounts []*auth.Account
	if v := ret.Get(0); v != nil {
		accounts = v.([]*auth.Account)
	}
	return accounts, ret.Error(1)
}

// Delete mocks the repository method.
func (m *MockAccountRepository) Delete(ctx context.Context, id ulid.ULID) error {
	return m.Called(ctx, id).Error(0)
}

// MockPasswordHasher mocks auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a mock that asserts its expectations on cleanup.
func NewMockPasswordHasher(t T) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Hash mocks the hasher method.
func (m *MockPasswordHasher) Hash(password string) (string, error) {
	ret := m.Called(password)
	return ret.String(0), ret.Error(1)
}

// Verify mocks the hasher method.
func (m *MockPasswordHasher) Verify(password, hash string) (bool, error) {
	ret := m.Called(password, hash)
	return ret.Bool(0), ret.Error(1)
}

// NeedsUpgrade mocks the hasher method.
func (m *MockPasswordHasher) NeedsUpgrade(hash string) bool {
	return m.Called(hash).Bool(0)
}

// MockNotifier mocks auth.Notifier.
type MockNotifier struct {
	mock.Mock
}

// NewMockNotifier creates a mock that asserts its expectations on cleanup.
func NewMockNotifier(t T) *MockNotifier {
	m := &MockNotifier{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// SendVerificationCode mocks the notifier method.
func (m *MockNotifier) SendVerificationCode(ctx context.Context, to, code string, expiresAt time.Time) error {
	return m.Called(ctx, to, code, expiresAt).Error(0)
}

// SendPasswordReset mocks the notifier method.
func (m *MockNotifier) SendPasswordReset(ctx context.Context, to, resetToken string, expiresAt time.Time) error {
	return m.Called(ctx, to, resetToken, expiresAt).Error(0)
}

// MockTokenManager mocks auth.TokenManager.
type MockTokenManager struct {
	mock.Mock
}

// NewMockTokenManager creates a mock that asserts its expectations on cleanup.
func NewMockTokenManager(t T) *MockTokenManager {
	m := &MockTokenManager{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Issue mocks the token method.
func (m *MockTokenManager) Issue(subject token.Subject) (string, error) {
	ret := m.Called(subject)
	return ret.String(0), ret.Error(1)
}

// Parse mocks the token method.
func (m *MockTokenManager) Parse(raw string) (*token.Claims, error) {
	ret := m.Called(raw)
	var claims *token.Claims
	if v := ret.Get(0); v != nil {
		claims = v.(*token.Claims)
	}
	return claims, ret.Error(1)
}

// State mocks the token method.
func (m *MockTokenManager) State(claims *token.Claims) token.State {
	return m.Called(claims).Get(0).(token.State)
}

// Renew mocks the token method.
func (m *MockTokenManager) Renew(claims *token.Claims, current token.Subject) (string, error) {
	ret := m.Called(claims, current)
	return ret.String(0), ret.Error(1)
}

var (
	_ auth.AccountRepository = (*MockAccountRepository)(nil)
	_ auth.PasswordHasher    = (*MockPasswordHasher)(nil)
	_ auth.Notifier          = (*MockNotifier)(nil)
	_ auth.TokenManager      = (*MockTokenManager)(nil)
)
