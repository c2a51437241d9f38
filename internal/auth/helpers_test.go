// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

package auth_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/credence/credence/internal/auth"
	"github.com/credence/credence/internal/auth/memstore"
	"github.com/credence/credence/internal/token"
)

// fakeClock is a settable auth.Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testDigest is a syntactically valid argon2id digest that matches nothing.
const testDigest = "$argon2id$v=19$m=65536,t=1,p=4$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaGhhc2hoYXNoaGFzaGhhc2g"

func newPendingAccount(t *testing.T, clock auth.Clock) *auth.Account {
	t.Helper()
	account, err := auth.NewAccount("alice@example.com", testDigest, auth.RoleUser, clock.Now())
	require.NoError(t, err)
	return account
}

func newVerifiedAccount(t *testing.T, clock auth.Clock) *auth.Account {
	t.Helper()
	account := newPendingAccount(t, clock)
	account.Enabled = true
	return account
}

// outbox records notifications instead of sending them.
type outbox struct {
	mu     sync.Mutex
	codes  map[string]string
	sent   map[string]int
	resets map[string]string
	fail   error
}

func newOutbox() *outbox {
	return &outbox{codes: map[string]string{}, sent: map[string]int{}, resets: map[string]string{}}
}

func (o *outbox) SendVerificationCode(_ context.Context, to, code string, _ time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.codes[to] = code
	o.sent[to]++
	return o.fail
}

func (o *outbox) SendPasswordReset(_ context.Context, to, resetToken string, _ time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resets[to] = resetToken
	return o.fail
}

func (o *outbox) code(to string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.codes[to]
}

// codesSent counts verification emails addressed to to.
func (o *outbox) codesSent(to string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sent[to]
}

func (o *outbox) reset(to string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.resets[to]
}

// fataler is satisfied by *testing.T and GinkgoT().
type fataler interface {
	Fatalf(format string, args ...any)
}

// engine bundles a Service wired to in-memory collaborators.
type engine struct {
	svc    *auth.Service
	store  *memstore.AccountRepository
	tokens *token.Manager
	mail   *outbox
	clock  *fakeClock
}

func newEngine(t fataler, opts ...auth.ServiceOption) *engine {
	clock := newFakeClock()
	tokens, err := token.NewManager(token.Config{
		Secret: []byte("0123456789abcdef0123456789abcdef"),
		TTL:    30 * time.Minute,
		Grace:  24 * time.Hour,
	}, clock)
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	e := &engine{
		store:  memstore.NewAccountRepository(),
		tokens: tokens,
		mail:   newOutbox(),
		clock:  clock,
	}
	opts = append([]auth.ServiceOption{auth.WithClock(clock)}, opts...)
	e.svc, err = auth.NewServiceWithLogger(e.store, auth.NewArgon2idHasher(), tokens, e.mail,
		slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return e
}

// registerVerified registers and verifies an account, returning it.
func (e *engine) registerVerified(t fataler, email, password string) *auth.Account {
	ctx := context.Background()
	if _, err := e.svc.Register(ctx, auth.RegisterInput{Email: email, Password: password}); err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	if err := e.svc.Verify(ctx, email, e.mail.code(email)); err != nil {
		t.Fatalf("verify %s: %v", email, err)
	}
	account, err := e.store.FindByEmail(ctx, email)
	if err != nil {
		t.Fatalf("find %s: %v", email, err)
	}
	return account
}

// promote makes an account an admin directly in the store.
func (e *engine) promote(t fataler, account *auth.Account) auth.Principal {
	account.Role = auth.RoleAdmin
	if err := e.store.Save(context.Background(), account); err != nil {
		t.Fatalf("promote: %v", err)
	}
	return auth.Principal{AccountID: account.ID, Email: account.Email, Role: auth.RoleAdmin}
}

func principalFor(account *auth.Account) auth.Principal {
	return auth.Principal{AccountID: account.ID, Email: account.Email, Role: account.Role}
}
