// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/credence/credence/internal/auth"
	"github.com/credence/credence/internal/auth/memstore"
	"github.com/credence/credence/internal/httpapi"
	"github.com/credence/credence/internal/token"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

// outbox keeps the last code and reset token sent to each address.
type outbox struct {
	mu     sync.Mutex
	codes  map[string]string
	resets map[string]string
}

func (o *outbox) SendVerificationCode(_ context.Context, to, code string, _ time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.codes[to] = code
	return nil
}

func (o *outbox) SendPasswordReset(_ context.Context, to, resetToken string, _ time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resets[to] = resetToken
	return nil
}

func (o *outbox) code(to string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.codes[to]
}

func (o *outbox) reset(to string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.resets[to]
}

type fixture struct {
	t      *testing.T
	svc    *auth.Service
	store  *memstore.AccountRepository
	mail   *outbox
	clock  *fakeClock
	server *httptest.Server
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, opts ...httpapi.Option) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)}
	tokens, err := token.NewManager(token.Config{
		Secret: []byte("0123456789abcdef0123456789abcdef"),
		TTL:    30 * time.Minute,
		Grace:  24 * time.Hour,
	}, clock)
	require.NoError(t, err)

	f := &fixture{
		t:     t,
		store: memstore.NewAccountRepository(),
		mail:  &outbox{codes: map[string]string{}, resets: map[string]string{}},
		clock: clock,
	}
	f.svc, err = auth.NewServiceWithLogger(f.store, auth.NewArgon2idHasher(), tokens, f.mail,
		quietLogger(), auth.WithClock(clock))
	require.NoError(t, err)

	opts = append([]httpapi.Option{httpapi.WithLogger(quietLogger())}, opts...)
	srv, err := httpapi.NewServer(httpapi.Config{MaxBodyBytes: 1 << 16}, f.svc, opts...)
	require.NoError(t, err)

	f.server = httptest.NewServer(srv.Handler())
	t.Cleanup(f.server.Close)
	return f
}

type response struct {
	status int
	header http.Header
	body   map[string]any
}

func (r response) errorCode() string {
	code, _ := r.body["code"].(string)
	return code
}

func (f *fixture) do(method, path string, body any, bearer string) response {
	f.t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(f.t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, f.server.URL+path, reader)
	require.NoError(f.t, err)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := f.server.Client().Do(req)
	require.NoError(f.t, err)
	defer func() { _ = resp.Body.Close() }()

	out := response{status: resp.StatusCode, header: resp.Header}
	data, err := io.ReadAll(resp.Body)
	require.NoError(f.t, err)
	if len(bytes.TrimSpace(data)) > 0 {
		require.NoError(f.t, json.Unmarshal(data, &out.body), "body: %s", data)
	}
	return out
}

// signUp registers, verifies and logs in, returning the account id and a
// bearer token.
func (f *fixture) signUp(email, password string) (string, string) {
	f.t.Helper()

	resp := f.do(http.MethodPost, "/api/auth/register", map[string]string{
		"email": email, "password": password,
	}, "")
	require.Equal(f.t, http.StatusCreated, resp.status, resp.body)
	id, _ := resp.body["id"].(string)

	resp = f.do(http.MethodPost, "/api/auth/verify", map[string]string{
		"email": email, "code": f.mail.code(email),
	}, "")
	require.Equal(f.t, http.StatusOK, resp.status, resp.body)

	resp = f.do(http.MethodPost, "/api/auth/login", map[string]string{
		"email": email, "password": password,
	}, "")
	require.Equal(f.t, http.StatusOK, resp.status, resp.body)
	bearer, _ := resp.body["token"].(string)
	return id, bearer
}

// promote gives an account the admin role directly in the store.
func (f *fixture) promote(email string) {
	f.t.Helper()
	account, err := f.store.FindByEmail(context.Background(), email)
	require.NoError(f.t, err)
	account.Role = auth.RoleAdmin
	require.NoError(f.t, f.store.Save(context.Background(), account))
}
