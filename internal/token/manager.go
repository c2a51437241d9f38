// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

// Package token issues, parses and renews signed bearer tokens.
//
// A token has a soft expiry (exp) after which it must be renewed and a hard
// expiry (rex) after which renewal is refused and the holder must log in
// again. Parse checks structure and signature only; expiry is queried
// separately so that middleware can renew a soft-expired token.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Defaults and limits.
const (
	DefaultTTL       = 30 * time.Minute
	MinTTL           = 15 * time.Minute
	MaxTTL           = 60 * time.Minute
	DefaultGrace     = 24 * time.Hour
	DefaultIssuer    = "credence"
	MinSecretLength  = 32
	headerTypeJWT    = "JWT"
	signingAlgorithm = "HS256"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// State is the lifecycle position of a parsed token.
type State int

// Token states.
const (
	StateFresh State = iota
	StateRenewable
	StateExpired
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateRenewable:
		return "renewable"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Subject is the account snapshot embedded in a token.
type Subject struct {
	ID    ulid.ULID
	Email string
	Role  string
}

// Claims is the payload of a bearer token.
type Claims struct {
	Email      string           `json:"email"`
	Role       string           `json:"role"`
	RenewUntil *jwt.NumericDate `json:"rex"`
	jwt.RegisteredClaims
}

// AccountID parses the subject claim.
func (c *Claims) AccountID() (ulid.ULID, error) {
	id, err := ulid.Parse(c.Subject)
	if err != nil {
		return ulid.ULID{}, unsupported("subject is not an account id")
	}
	return id, nil
}

// Config configures a Manager.
type Config struct {
	// Secret is the HMAC key. Must be at least MinSecretLength bytes.
	Secret []byte

	// Issuer is written to and required in the iss claim.
	Issuer string

	// TTL is the soft expiry horizon. Defaults to DefaultTTL.
	TTL time.Duration

	// Grace is how long after soft expiry a token can still be renewed.
	// Defaults to DefaultGrace when zero.
	Grace time.Duration
}

// Manager issues and validates tokens. It is immutable and safe for
// concurrent use.
type Manager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	grace  time.Duration
	clock  Clock
	parser *jwt.Parser
}

// NewManager creates a Manager. A nil clock uses the wall clock.
func NewManager(cfg Config, clock Clock) (*Manager, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, oops.Code(CodeConfigInvalid).
			With("min_length", MinSecretLength).
			Errorf("signing secret must be at least %d bytes", MinSecretLength)
	}
	if cfg.TTL < 0 || cfg.Grace < 0 {
		return nil, oops.Code(CodeConfigInvalid).Errorf("token ttl and grace must not be negative")
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Grace == 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if clock == nil {
		clock = systemClock{}
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	return &Manager{
		secret: secret,
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		grace:  cfg.Grace,
		clock:  clock,
		// Expiry is evaluated by IsExpired/IsRenewable, not by the parser.
		parser: jwt.NewParser(jwt.WithoutClaimsValidation()),
	}, nil
}

// TTL returns the soft expiry horizon.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Grace returns the renewal window after soft expiry.
func (m *Manager) Grace() time.Duration { return m.grace }

// Issue signs a new token for the subject.
func (m *Manager) Issue(subject Subject) (string, error) {
	if subject.ID == (ulid.ULID{}) {
		return "", oops.Code(CodeIssueFailed).Errorf("subject id is required")
	}
	now := m.clock.Now()
	softExpiry := now.Add(m.ttl)
	claims := Claims{
		Email:      subject.Email,
		Role:       subject.Role,
		RenewUntil: jwt.NewNumericDate(softExpiry.Add(m.grace)),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.ID.String(),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(softExpiry),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", oops.Code(CodeIssueFailed).
			With("account_id", subject.ID.String()).
			Wrap(err)
	}
	return signed, nil
}

// Parse verifies structure and signature and returns the claims. A
// soft-expired or even hard-expired token parses successfully.
func (m *Manager) Parse(raw string) (*Claims, error) {
	if raw == "" {
		return nil, malformed(errors.New("empty token"))
	}

	claims := &Claims{}
	tok, err := m.parser.ParseWithClaims(raw, claims, m.keyFunc)
	if err != nil {
		return nil, classify(err)
	}
	if typ, ok := tok.Header["typ"]; ok && typ != headerTypeJWT {
		return nil, unsupported("unexpected token type")
	}
	if claims.Subject == "" || claims.ExpiresAt == nil || claims.IssuedAt == nil || claims.RenewUntil == nil {
		return nil, unsupported("missing required claims")
	}
	if claims.Issuer != m.issuer {
		return nil, unsupported("unexpected issuer")
	}
	if _, err := claims.AccountID(); err != nil {
		return nil, err
	}
	return claims, nil
}

func (m *Manager) keyFunc(t *jwt.Token) (any, error) {
	if t.Method.Alg() != signingAlgorithm {
		return nil, errUnsupportedAlgorithm
	}
	return m.secret, nil
}

// classify maps parser errors onto token error codes.
func classify(err error) error {
	switch {
	case errors.Is(err, errUnsupportedAlgorithm), errors.Is(err, jwt.ErrTokenUnverifiable):
		return oops.Code(CodeUnsupported).With("reason", "unexpected signing algorithm").Wrap(err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return invalidSignature(err)
	default:
		return malformed(err)
	}
}

// IsExpired reports whether the soft expiry has passed.
func (m *Manager) IsExpired(claims *Claims) bool {
	return m.clock.Now().After(claims.ExpiresAt.Time)
}

// IsRenewable reports whether the hard expiry has not yet passed. It does
// not re-check the signature.
func (m *Manager) IsRenewable(claims *Claims) bool {
	return !m.clock.Now().After(claims.RenewUntil.Time)
}

// State classifies the claims at the current time.
func (m *Manager) State(claims *Claims) State {
	switch {
	case !m.IsExpired(claims):
		return StateFresh
	case m.IsRenewable(claims):
		return StateRenewable
	default:
		return StateExpired
	}
}

// Renew re-issues a soft-expired token inside its grace window from the
// current account state, so role changes take effect at renewal.
func (m *Manager) Renew(claims *Claims, current Subject) (string, error) {
	switch m.State(claims) {
	case StateFresh:
		return "", oops.Code(CodeNotRenewable).
			With("expires_at", claims.ExpiresAt.Time).
			Errorf("token has not expired yet")
	case StateExpired:
		return "", oops.Code(CodeExpired).
			With("renew_until", claims.RenewUntil.Time).
			Errorf("token is past its renewal window")
	}
	if claims.Subject != current.ID.String() {
		return "", oops.Code(CodeSubjectMismatch).
			With("token_subject", claims.Subject).
			With("account_id", current.ID.String()).
			Errorf("token subject does not match account")
	}
	return m.Issue(current)
}
