// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

package mail

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"time"

	"github.com/samber/oops"
)

// SMTPConfig configures an SMTP dispatcher.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTP sends messages through a relay with PLAIN auth when a username is set.
type SMTP struct {
	addr string
	from string
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	now  func() time.Time
}

// NewSMTP creates an SMTP dispatcher.
func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	if cfg.Host == "" {
		return nil, oops.Code(CodeInvalidMessage).Errorf("smtp host is required")
	}
	if cfg.From == "" {
		return nil, oops.Code(CodeInvalidMessage).Errorf("smtp sender address is required")
	}
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	s := &SMTP{
		addr: net.JoinHostPort(cfg.Host, fmt.Sprint(port)),
		from: cfg.From,
		send: smtp.SendMail,
		now:  time.Now,
	}
	if cfg.Username != "" {
		s.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return s, nil
}

// Send implements Dispatcher. net/smtp has no context support, so a send
// still in flight when ctx ends is abandoned and finishes in the background.
func (s *SMTP) Send(ctx context.Context, msg Message) error {
	if msg.From == "" {
		msg.From = s.from
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return oops.Code(CodeSendFailed).With("to", msg.To).Wrap(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.send(s.addr, s.auth, msg.From, []string{msg.To}, s.encode(msg))
	}()

	select {
	case err := <-done:
		if err != nil {
			return oops.Code(CodeSendFailed).
				With("to", msg.To).
				With("addr", s.addr).
				Wrap(err)
		}
		return nil
	case <-ctx.Done():
		return oops.Code(CodeSendFailed).
			With("to", msg.To).
			With("addr", s.addr).
			Wrap(ctx.Err())
	}
}

func (s *SMTP) encode(msg Message) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", msg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", s.now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(msg.HTML)
	return buf.Bytes()
}

var _ Dispatcher = (*SMTP)(nil)
