// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

package mail

import (
	"context"
	"log/slog"
)

// LogMailer writes messages to a logger instead of sending them. The body
// is included only at debug level since it carries codes and tokens.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a LogMailer. A nil logger uses slog.Default().
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

// Send implements Dispatcher.
func (l *LogMailer) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	l.logger.InfoContext(ctx, "mail not sent, log dispatcher in use",
		"to", msg.To,
		"subject", msg.Subject)
	l.logger.DebugContext(ctx, "mail body", "to", msg.To, "html", msg.HTML)
	return nil
}

var _ Dispatcher = (*LogMailer)(nil)
