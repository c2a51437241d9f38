// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

package auth

import (
	"time"
)

// Lockout configuration.
const (
	// LockoutDuration is the time an account is locked after too many failures.
	LockoutDuration = 15 * time.Minute

	// LockoutThreshold is the number of consecutive failures that triggers a lockout.
	LockoutThreshold = 7
)

// Lockout tracks consecutive login failures on an account.
type Lockout struct {
	clock     Clock
	threshold int
	duration  time.Duration
}

// NewLockout creates a lockout policy. Non-positive values use the defaults.
func NewLockout(clock Clock, threshold int, duration time.Duration) *Lockout {
	if clock == nil {
		clock = SystemClock{}
	}
	if threshold <= 0 {
		threshold = LockoutThreshold
	}
	if duration <= 0 {
		duration = LockoutDuration
	}
	return &Lockout{clock: clock, threshold: threshold, duration: duration}
}

// IsLocked returns true if the account's lockout is still in the future.
func (l *Lockout) IsLocked(account *Account) bool {
	return account.LockedUntil != nil && account.LockedUntil.After(l.clock.Now())
}

// Remaining returns how long the lockout has left, or zero.
func (l *Lockout) Remaining(account *Account) time.Duration {
	if !l.IsLocked(account) {
		return 0
	}
	return account.LockedUntil.Sub(l.clock.Now())
}

// RecordFailure increments the failure counter and sets the lockout once the
// threshold is reached.
func (l *Lockout) RecordFailure(account *Account) {
	now := l.clock.Now()
	account.FailedAttempts++
	if account.FailedAttempts >= l.threshold {
		until := now.Add(l.duration)
		account.LockedUntil = &until
	}
	account.UpdatedAt = now
}

// RecordSuccess resets the failure counter and lockout. It reports whether
// anything changed so callers can skip a write.
func (l *Lockout) RecordSuccess(account *Account) bool {
	if account.FailedAttempts == 0 && account.LockedUntil == nil {
		return false
	}
	account.FailedAttempts = 0
	account.LockedUntil = nil
	account.UpdatedAt = l.clock.Now()
	return true
}
