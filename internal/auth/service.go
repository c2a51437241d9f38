// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/credence/credence/internal/token"
)

var tracer = otel.Tracer("credence/auth")

// dummyPasswordHash is used when an account doesn't exist to prevent timing attacks.
// We still run password verification to make response time consistent.
// This is NOT a real credential - it's a fake hash that will never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// DefaultConflictBackoff is the pause before re-reading an account whose
// save lost an optimistic version race.
const DefaultConflictBackoff = 10 * time.Millisecond

// DefaultNotifyTimeout bounds how long an operation waits on email delivery
// after its state change is saved.
const DefaultNotifyTimeout = 5 * time.Second

// TokenManager issues and renews bearer tokens.
type TokenManager interface {
	Issue(subject token.Subject) (string, error)
	Parse(raw string) (*token.Claims, error)
	State(claims *token.Claims) token.State
	Renew(claims *token.Claims, current token.Subject) (string, error)
}

// RegisterInput is the data supplied at self-registration.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// LoginResult is a successful login.
type LoginResult struct {
	Token   string
	Account *Account
}

// Service runs the account lifecycle: registration, email verification,
// login, password reset, and bearer token renewal.
type Service struct {
	accounts AccountRepository
	hasher   PasswordHasher
	tokens   TokenManager
	notifier Notifier
	logger   *slog.Logger
	metrics  *Metrics
	clock    Clock

	verificationExpiry time.Duration
	resetExpiry        time.Duration
	lockoutThreshold   int
	lockoutDuration    time.Duration
	conflictBackoff    time.Duration
	notifyTimeout      time.Duration

	codes   *VerificationCodes
	resets  *ResetTokens
	lockout *Lockout
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock sets the time source for every expiry decision.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithMetrics records operation outcomes.
func WithMetrics(m *Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithVerificationExpiry sets the lifetime of verification codes.
func WithVerificationExpiry(d time.Duration) ServiceOption {
	return func(s *Service) { s.verificationExpiry = d }
}

// WithResetExpiry sets the lifetime of password reset tokens.
func WithResetExpiry(d time.Duration) ServiceOption {
	return func(s *Service) { s.resetExpiry = d }
}

// WithLockout sets the failed-login threshold and lock duration.
func WithLockout(threshold int, duration time.Duration) ServiceOption {
	return func(s *Service) {
		s.lockoutThreshold = threshold
		s.lockoutDuration = duration
	}
}

// WithConflictBackoff sets the pause before retrying a conflicted save.
func WithConflictBackoff(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.conflictBackoff = d
		}
	}
}

// WithNotifyTimeout bounds each verification or reset email.
func WithNotifyTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

// NewService creates a Service that logs to slog.Default().
func NewService(accounts AccountRepository, hasher PasswordHasher, tokens TokenManager, notifier Notifier, opts ...ServiceOption) (*Service, error) {
	return NewServiceWithLogger(accounts, hasher, tokens, notifier, slog.Default(), opts...)
}

// NewServiceWithLogger creates a Service with an explicit logger.
func NewServiceWithLogger(accounts AccountRepository, hasher PasswordHasher, tokens TokenManager, notifier Notifier, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if accounts == nil {
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("accounts repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("password hasher is required")
	}
	if tokens == nil {
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("token manager is required")
	}
	if notifier == nil {
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("notifier is required")
	}
	if logger == nil {
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("logger is required")
	}

	s := &Service{
		accounts:        accounts,
		hasher:          hasher,
		tokens:          tokens,
		notifier:        notifier,
		logger:          logger,
		clock:           SystemClock{},
		conflictBackoff: DefaultConflictBackoff,
		notifyTimeout:   DefaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.codes = NewVerificationCodes(s.clock, s.verificationExpiry)
	s.resets = NewResetTokens(s.clock, s.resetExpiry, hasher)
	s.lockout = NewLockout(s.clock, s.lockoutThreshold, s.lockoutDuration)
	return s, nil
}

// Register creates a pending-verification account and emails its code.
func (s *Service) Register(ctx context.Context, in RegisterInput) (_ *Account, err error) {
	ctx, done := s.trace(ctx, "register")
	defer func() { done(err) }()

	email, err := NormalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	exists, err := s.accounts.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "check email").
			Wrap(err)
	}
	if exists {
		return nil, errAlreadyExists(email)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	account, err := NewAccount(email, hash, RoleUser, s.clock.Now())
	if err != nil {
		return nil, err
	}
	account.FirstName = strings.TrimSpace(in.FirstName)
	account.LastName = strings.TrimSpace(in.LastName)

	code, expiresAt, err := s.codes.Issue(account)
	if err != nil {
		return nil, err
	}

	if err := s.save(ctx, account); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, errAlreadyExists(email)
		}
		return nil, err
	}

	s.logger.InfoContext(ctx, "account registered", "account_id", account.ID.String())
	s.sendVerification(ctx, account, code, expiresAt)
	return account, nil
}

// Verify enables the account when code matches its live verification code.
func (s *Service) Verify(ctx context.Context, email, code string) (err error) {
	ctx, done := s.trace(ctx, "verify")
	defer func() { done(err) }()

	account, err := s.update(ctx, s.byEmail(email), func(account *Account) error {
		return s.codes.Verify(account, code)
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "account verified", "account_id", account.ID.String())
	return nil
}

// Resend issues a fresh verification code once the previous one expired.
func (s *Service) Resend(ctx context.Context, email string) (err error) {
	ctx, done := s.trace(ctx, "resend")
	defer func() { done(err) }()

	var (
		code      string
		expiresAt time.Time
	)
	account, err := s.update(ctx, s.byEmail(email), func(account *Account) error {
		var issueErr error
		code, expiresAt, issueErr = s.codes.Resend(account)
		return issueErr
	})
	if err != nil {
		return err
	}
	s.sendVerification(ctx, account, code, expiresAt)
	return nil
}

// Login authenticates by email and password and issues a bearer token.
// Uses constant-time operations to prevent timing-based account enumeration.
func (s *Service) Login(ctx context.Context, email, password string) (_ *LoginResult, err error) {
	ctx, done := s.trace(ctx, "login")
	defer func() { done(err) }()

	// Determine which hash to verify against (real or dummy for timing attack prevention)
	targetHash := dummyPasswordHash
	var account *Account

	if normalized, normErr := NormalizeEmail(email); normErr == nil {
		found, lookupErr := s.accounts.FindByEmail(ctx, normalized)
		switch {
		case lookupErr == nil:
			account = found
			targetHash = found.PasswordHash
		case errors.Is(lookupErr, ErrNotFound):
		default:
			return nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "find account by email").
				Wrap(lookupErr)
		}
	}

	// A locked account answers the same whether or not the password matches,
	// and attempts during the lock do not extend it.
	if account != nil && s.lockout.IsLocked(account) {
		_, _ = s.hasher.Verify(password, dummyPasswordHash)
		return nil, s.lockedError(account)
	}

	// Always verify password (constant-time operation for timing attack prevention)
	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if account == nil {
			return nil, ErrWrongCredentials()
		}
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			Wrap(verifyErr)
	}

	if account == nil || !valid {
		if account != nil {
			s.lockout.RecordFailure(account)
			s.saveBestEffort(ctx, account, "record_failure")
		}
		return nil, ErrWrongCredentials()
	}

	// Verification state is reported only once the password matched.
	if !account.Enabled {
		return nil, oops.Code(CodeNotVerified).
			With("account_id", account.ID.String()).
			Errorf("account not verified")
	}

	changed := s.lockout.RecordSuccess(account)
	if s.hasher.NeedsUpgrade(account.PasswordHash) {
		newHash, hashErr := s.hasher.Hash(password)
		if hashErr == nil {
			account.PasswordHash = newHash
			changed = true
		} else {
			s.logger.WarnContext(ctx, "best-effort password hash upgrade failed",
				"operation", "upgrade_hash",
				"account_id", account.ID.String(),
				"error", hashErr)
		}
	}
	if changed {
		s.saveBestEffort(ctx, account, "record_success")
	}

	signed, err := s.tokens.Issue(subjectOf(account))
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "issue token").
			Wrap(err)
	}
	return &LoginResult{Token: signed, Account: account}, nil
}

// RequestReset stores a new reset token on a verified account and emails
// it, replacing any unconsumed token.
func (s *Service) RequestReset(ctx context.Context, email string) (err error) {
	ctx, done := s.trace(ctx, "request_reset")
	defer func() { done(err) }()

	var (
		plaintext string
		expiresAt time.Time
	)
	account, err := s.update(ctx, s.byEmail(email), func(account *Account) error {
		var issueErr error
		plaintext, expiresAt, issueErr = s.resets.Request(account)
		return issueErr
	})
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.notifyTimeout)
	defer cancel()
	if err := s.notifier.SendPasswordReset(sendCtx, account.Email, plaintext, expiresAt); err != nil {
		s.logger.WarnContext(ctx, "best-effort password reset email failed",
			"operation", "send_password_reset",
			"account_id", account.ID.String(),
			"error", err)
	}
	return nil
}

func (s *Service) lockedError(account *Account) error {
	return oops.Code(CodeAccountLocked).
		With("account_id", account.ID.String()).
		With("locked_until", *account.LockedUntil).
		With("retry_after_ms", s.lockout.Remaining(account).Milliseconds()).
		Errorf("account is temporarily locked")
}

// ResetPassword redeems a reset token. The token is consumed in the same
// save that stores the new password hash.
func (s *Service) ResetPassword(ctx context.Context, resetToken, newPassword string) (err error) {
	ctx, done := s.trace(ctx, "reset_password")
	defer func() { done(err) }()

	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	if resetToken == "" {
		return errResetTokenNotFound()
	}

	account, err := s.update(ctx, s.byResetToken(resetToken), func(account *Account) error {
		return s.resets.Redeem(account, resetToken, newPassword)
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "password reset", "account_id", account.ID.String())
	return nil
}

// Authenticate resolves a bearer token to a principal. A token past its
// soft expiry but inside its grace window is renewed from the current
// account state and the new token is returned alongside.
func (s *Service) Authenticate(ctx context.Context, raw string) (_ Principal, renewed string, err error) {
	ctx, done := s.trace(ctx, "authenticate")
	defer func() { done(err) }()

	claims, err := s.tokens.Parse(raw)
	if err != nil {
		return Anonymous, "", err
	}
	id, err := claims.AccountID()
	if err != nil {
		return Anonymous, "", err
	}

	switch s.tokens.State(claims) {
	case token.StateFresh:
		role, roleErr := ParseRole(claims.Role)
		if roleErr != nil {
			return Anonymous, "", oops.Code(token.CodeUnsupported).
				With("role", claims.Role).
				Errorf("token carries an unknown role")
		}
		return Principal{AccountID: id, Email: claims.Email, Role: role}, "", nil
	case token.StateExpired:
		return Anonymous, "", oops.Code(token.CodeExpired).
			With("account_id", id.String()).
			Errorf("token has expired")
	}

	account, renewed, err := s.renew(ctx, id, claims)
	if err != nil {
		return Anonymous, "", err
	}
	return principalOf(account), renewed, nil
}

// RenewToken explicitly renews a soft-expired token inside its grace window.
func (s *Service) RenewToken(ctx context.Context, raw string) (_ string, err error) {
	ctx, done := s.trace(ctx, "renew")
	defer func() { done(err) }()

	claims, err := s.tokens.Parse(raw)
	if err != nil {
		return "", err
	}
	id, err := claims.AccountID()
	if err != nil {
		return "", err
	}
	_, renewed, err := s.renew(ctx, id, claims)
	return renewed, err
}

func (s *Service) renew(ctx context.Context, id ulid.ULID, claims *token.Claims) (*Account, string, error) {
	account, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, "", oops.Code(CodeUnauthenticated).
				With("account_id", id.String()).
				Errorf("account no longer exists")
		}
		return nil, "", oops.Code("AUTH_RENEW_FAILED").
			With("operation", "find account by id").
			Wrap(err)
	}
	if !account.Enabled {
		return nil, "", oops.Code(CodeUnauthenticated).
			With("account_id", id.String()).
			Errorf("account is not enabled")
	}

	renewed, err := s.tokens.Renew(claims, subjectOf(account))
	if err != nil {
		return nil, "", err
	}
	s.logger.DebugContext(ctx, "token renewed", "account_id", id.String())
	return account, renewed, nil
}

// finder loads the account an update applies to.
type finder func(ctx context.Context) (*Account, error)

func (s *Service) byEmail(email string) finder {
	return func(ctx context.Context) (*Account, error) {
		normalized, err := NormalizeEmail(email)
		if err != nil {
			return nil, err
		}
		account, err := s.accounts.FindByEmail(ctx, normalized)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, ErrAccountNotFound(normalized)
			}
			return nil, oops.Code("AUTH_LOOKUP_FAILED").
				With("operation", "find account by email").
				Wrap(err)
		}
		return account, nil
	}
}

func (s *Service) byResetToken(plaintext string) finder {
	return func(ctx context.Context) (*Account, error) {
		account, err := s.accounts.FindByResetToken(ctx, HashResetToken(plaintext))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, errResetTokenNotFound()
			}
			return nil, oops.Code("AUTH_LOOKUP_FAILED").
				With("operation", "find account by reset token").
				Wrap(err)
		}
		return account, nil
	}
}

// update runs a read-modify-write cycle. A save that loses a version race
// is retried once from a fresh read, so the loser observes the winner's
// state.
func (s *Service) update(ctx context.Context, find finder, mutate func(*Account) error) (*Account, error) {
	var updated *Account
	backoff := retry.WithMaxRetries(1, retry.NewConstant(s.conflictBackoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		account, err := find(ctx)
		if err != nil {
			return err
		}
		if err := mutate(account); err != nil {
			return err
		}
		if err := s.save(ctx, account); err != nil {
			if errors.Is(err, ErrConflict) {
				return retry.RetryableError(err)
			}
			return err
		}
		updated = account
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			s.logger.WarnContext(ctx, "account update lost a concurrent modification race", "error", err)
			return nil, oops.Code(CodeConflict).Wrap(ErrConflict)
		}
		return nil, err
	}
	return updated, nil
}

// save validates and persists. Store sentinels pass through unwrapped so
// callers can match them.
func (s *Service) save(ctx context.Context, account *Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	if err := s.accounts.Save(ctx, account); err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrAlreadyExists) {
			return err
		}
		return oops.Code("AUTH_SAVE_FAILED").
			With("operation", "save account").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	return nil
}

func (s *Service) saveBestEffort(ctx context.Context, account *Account, operation string) {
	if err := s.save(ctx, account); err != nil {
		s.logger.WarnContext(ctx, "best-effort account update failed",
			"operation", operation,
			"account_id", account.ID.String(),
			"error", err)
	}
}

func (s *Service) sendVerification(ctx context.Context, account *Account, code string, expiresAt time.Time) {
	sendCtx, cancel := context.WithTimeout(ctx, s.notifyTimeout)
	defer cancel()
	if err := s.notifier.SendVerificationCode(sendCtx, account.Email, code, expiresAt); err != nil {
		s.logger.WarnContext(ctx, "best-effort verification email failed",
			"operation", "send_verification_code",
			"account_id", account.ID.String(),
			"error", err)
	}
}

// trace starts a span for an operation. The returned func ends it and
// records the outcome.
func (s *Service) trace(ctx context.Context, operation string) (context.Context, func(error)) {
	ctx, span := tracer.Start(ctx, "auth."+operation)
	return ctx, func(err error) {
		if err != nil {
			span.SetAttributes(attribute.String("auth.error_code", CodeOf(err)))
			if KindOf(err) == KindInternal {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
		}
		s.metrics.observe(operation, err)
		span.End()
	}
}

func subjectOf(account *Account) token.Subject {
	return token.Subject{ID: account.ID, Email: account.Email, Role: string(account.Role)}
}

func principalOf(account *Account) Principal {
	return Principal{AccountID: account.ID, Email: account.Email, Role: account.Role}
}

func errAlreadyExists(email string) error {
	return oops.Code(CodeAlreadyExists).
		With("email", email).
		Wrap(ErrAlreadyExists)
}

func errResetTokenNotFound() error {
	return oops.Code(CodeResetTokenNotFound).Errorf("reset token not found")
}
