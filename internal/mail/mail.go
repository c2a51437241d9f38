// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

// Package mail delivers account emails. A Notifier renders messages and
// hands them to a Dispatcher, which is SMTP in production and a log sink in
// development.
package mail

import (
	"context"
	"strings"

	"github.com/samber/oops"
)

// Error codes for mail delivery.
const (
	CodeSendFailed     = "MAIL_SEND_FAILED"
	CodeRenderFailed   = "MAIL_RENDER_FAILED"
	CodeInvalidMessage = "MAIL_INVALID_MESSAGE"
)

// Message is a rendered HTML email.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Validate rejects messages that cannot be put on the wire. Header values
// must not contain line breaks.
func (m Message) Validate() error {
	if m.To == "" {
		return oops.Code(CodeInvalidMessage).Errorf("recipient is required")
	}
	for field, value := range map[string]string{"from": m.From, "to": m.To, "subject": m.Subject} {
		if strings.ContainsAny(value, "\r\n") {
			return oops.Code(CodeInvalidMessage).With("field", field).Errorf("header contains a line break")
		}
	}
	return nil
}

// Dispatcher sends a rendered message.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, msg Message) error

// Send calls f.
func (f DispatcherFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}
