// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

package auth

import (
	"context"
	"time"
)

// Notifier delivers account emails. Delivery failures never undo the state
// change that triggered them.
type Notifier interface {
	// SendVerificationCode delivers a registration confirmation code.
	SendVerificationCode(ctx context.Context, to, code string, expiresAt time.Time) error

	// SendPasswordReset delivers a password reset token.
	SendPasswordReset(ctx context.Context, to, token string, expiresAt time.Time) error
}
