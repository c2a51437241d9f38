// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

package mail

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Retry defaults.
const (
	DefaultSendAttempts = 3
	DefaultSendBackoff  = 250 * time.Millisecond
)

// Retrying retries transient send failures with exponential backoff.
// Invalid messages are not retried.
type Retrying struct {
	next     Dispatcher
	attempts uint64
	backoff  time.Duration
	logger   *slog.Logger
}

// NewRetrying wraps next. Zero attempts or backoff use the defaults.
func NewRetrying(next Dispatcher, attempts uint64, backoff time.Duration, logger *slog.Logger) *Retrying {
	if attempts == 0 {
		attempts = DefaultSendAttempts
	}
	if backoff <= 0 {
		backoff = DefaultSendBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{next: next, attempts: attempts, backoff: backoff, logger: logger}
}

// Send implements Dispatcher.
func (r *Retrying) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	var try int
	b := retry.WithMaxRetries(r.attempts-1, retry.NewExponential(r.backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		try++
		if err := r.next.Send(ctx, msg); err != nil {
			if isInvalid(err) {
				return err
			}
			r.logger.WarnContext(ctx, "mail send attempt failed",
				"to", msg.To,
				"attempt", try,
				"max_attempts", r.attempts,
				"error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.With("attempts", try).Wrap(err)
	}
	return nil
}

func isInvalid(err error) bool {
	oopsErr, ok := oops.AsOops(err)
	return ok && oopsErr.Code() == CodeInvalidMessage
}

var _ Dispatcher = (*Retrying)(nil)
