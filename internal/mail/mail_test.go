// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

package mail

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credence/credence/pkg/errutil"
)

// recorder is a Dispatcher that keeps what it was asked to send.
type recorder struct {
	mu   sync.Mutex
	sent []Message
	errs []error
}

func (r *recorder) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return err
	}
	return nil
}

func (r *recorder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		ok   bool
	}{
		{name: "valid", msg: Message{To: "alice@example.com", Subject: "Hi"}, ok: true},
		{name: "no recipient", msg: Message{Subject: "Hi"}},
		{name: "header injection in subject", msg: Message{To: "alice@example.com", Subject: "Hi\r\nBcc: eve@example.com"}},
		{name: "newline in recipient", msg: Message{To: "alice@example.com\nbob@example.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			errutil.AssertErrorCode(t, err, CodeInvalidMessage)
		})
	}
}

func TestNewSMTP(t *testing.T) {
	_, err := NewSMTP(SMTPConfig{From: "noreply@example.com"})
	errutil.AssertErrorCode(t, err, CodeInvalidMessage)

	_, err = NewSMTP(SMTPConfig{Host: "smtp.example.com"})
	errutil.AssertErrorCode(t, err, CodeInvalidMessage)

	s, err := NewSMTP(SMTPConfig{Host: "smtp.example.com", From: "noreply@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com:587", s.addr)
	assert.Nil(t, s.auth)

	s, err = NewSMTP(SMTPConfig{Host: "smtp.example.com", Port: 2525, Username: "u", Password: "p", From: "noreply@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com:2525", s.addr)
	assert.NotNil(t, s.auth)
}

func TestSMTPSend(t *testing.T) {
	s, err := NewSMTP(SMTPConfig{Host: "smtp.example.com", From: "noreply@example.com"})
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC) }

	var (
		gotAddr string
		gotFrom string
		gotTo   []string
		gotBody string
	)
	s.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotBody = addr, from, to, string(msg)
		return nil
	}

	err = s.Send(context.Background(), Message{To: "alice@example.com", Subject: "Verify your account", HTML: "<p>123456</p>"})
	require.NoError(t, err)

	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "noreply@example.com", gotFrom)
	assert.Equal(t, []string{"alice@example.com"}, gotTo)
	assert.Contains(t, gotBody, "From: noreply@example.com\r\n")
	assert.Contains(t, gotBody, "To: alice@example.com\r\n")
	assert.Contains(t, gotBody, "Subject: Verify your account\r\n")
	assert.Contains(t, gotBody, "Content-Type: text/html; charset=\"utf-8\"\r\n")
	assert.True(t, strings.HasSuffix(gotBody, "\r\n\r\n<p>123456</p>"))
}

func TestSMTPSendFailures(t *testing.T) {
	s, err := NewSMTP(SMTPConfig{Host: "smtp.example.com", From: "noreply@example.com"})
	require.NoError(t, err)
	s.send = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("421 service not available")
	}

	err = s.Send(context.Background(), Message{To: "alice@example.com"})
	errutil.AssertErrorCode(t, err, CodeSendFailed)
	errutil.AssertErrorContext(t, err, "to", "alice@example.com")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Send(ctx, Message{To: "alice@example.com"})
	errutil.AssertErrorCode(t, err, CodeSendFailed)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSMTPSendGivesUpWhenContextEnds(t *testing.T) {
	s, err := NewSMTP(SMTPConfig{Host: "smtp.example.com", From: "noreply@example.com"})
	require.NoError(t, err)
	release := make(chan struct{})
	defer close(release)
	s.send = func(string, smtp.Auth, string, []string, []byte) error {
		<-release
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = s.Send(ctx, Message{To: "alice@example.com"})
	errutil.AssertErrorCode(t, err, CodeSendFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestLogMailer(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	m := NewLogMailer(logger)

	require.NoError(t, m.Send(context.Background(), Message{To: "alice@example.com", Subject: "Hi", HTML: "secret-code"}))
	assert.Contains(t, buf.String(), "alice@example.com")
	assert.NotContains(t, buf.String(), "secret-code")

	errutil.AssertErrorCode(t, m.Send(context.Background(), Message{}), CodeInvalidMessage)
}

func TestRetrying(t *testing.T) {
	transient := errors.New("connection reset")
	quiet := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   bool
	}{
		{name: "first try", wantCalls: 1},
		{name: "recovers", errs: []error{transient, transient}, wantCalls: 3},
		{name: "gives up", errs: []error{transient, transient, transient}, wantCalls: 3, wantErr: true},
		{
			name:      "invalid message is not retried",
			errs:      []error{(Message{}).Validate()},
			wantCalls: 1,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := &recorder{errs: tt.errs}
			r := NewRetrying(next, 3, time.Millisecond, quiet)

			err := r.Send(context.Background(), Message{To: "alice@example.com"})
			assert.Equal(t, tt.wantCalls, next.calls())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRetryingStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	next := DispatcherFunc(func(context.Context, Message) error {
		cancel()
		return errors.New("timeout")
	})
	r := NewRetrying(next, 5, time.Hour, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	err := r.Send(ctx, Message{To: "alice@example.com"})
	require.Error(t, err)
}
