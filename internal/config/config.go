// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

// Package config loads the layered service configuration: built-in
// defaults, then a YAML file, then a dotenv file and CREDENCE_* environment
// variables, then command-line flags.
package config

import (
	"net/url"
	"time"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/credence/credence/internal/auth"
	"github.com/credence/credence/internal/logging"
	"github.com/credence/credence/internal/ratelimit"
	"github.com/credence/credence/internal/token"
)

// CodeInvalid marks a configuration that failed validation.
const CodeInvalid = "CONFIG_INVALID"

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Mail drivers.
const (
	MailLog  = "log"
	MailSMTP = "smtp"
)

// Config is the complete service configuration.
type Config struct {
	HTTP      HTTPConfig      `koanf:"http" yaml:"http" json:"http"`
	Metrics   MetricsConfig   `koanf:"metrics" yaml:"metrics" json:"metrics"`
	Log       LogConfig       `koanf:"log" yaml:"log" json:"log"`
	Store     StoreConfig     `koanf:"store" yaml:"store" json:"store"`
	Database  DatabaseConfig  `koanf:"database" yaml:"database" json:"database"`
	Token     TokenConfig     `koanf:"token" yaml:"token" json:"token"`
	Auth      AuthConfig      `koanf:"auth" yaml:"auth" json:"auth"`
	RateLimit RateLimitConfig `koanf:"ratelimit" yaml:"ratelimit" json:"ratelimit"`
	Mail      MailConfig      `koanf:"mail" yaml:"mail" json:"mail"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string        `koanf:"addr" yaml:"addr" json:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout" yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout" yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64 `koanf:"max_body_bytes" yaml:"max_body_bytes" json:"max_body_bytes"`
}

// MetricsConfig configures the observability listener. An empty address
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" yaml:"addr" json:"addr"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `koanf:"level" yaml:"level" json:"level"`
	Format string `koanf:"format" yaml:"format" json:"format"`
}

// StoreConfig selects the account store.
type StoreConfig struct {
	Driver string `koanf:"driver" yaml:"driver" json:"driver"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL             string        `koanf:"url" yaml:"url" json:"url"`
	MaxConns        int32         `koanf:"max_conns" yaml:"max_conns" json:"max_conns"`
	ConnectAttempts uint64        `koanf:"connect_attempts" yaml:"connect_attempts" json:"connect_attempts"`
	ConnectBackoff  time.Duration `koanf:"connect_backoff" yaml:"connect_backoff" json:"connect_backoff"`
	// AutoMigrate applies pending migrations at startup.
	AutoMigrate bool `koanf:"auto_migrate" yaml:"auto_migrate" json:"auto_migrate"`
}

// TokenConfig configures bearer tokens.
type TokenConfig struct {
	Secret string        `koanf:"secret" yaml:"secret" json:"secret"`
	Issuer string        `koanf:"issuer" yaml:"issuer" json:"issuer"`
	TTL    time.Duration `koanf:"ttl" yaml:"ttl" json:"ttl"`
	Grace  time.Duration `koanf:"grace" yaml:"grace" json:"grace"`
}

// AuthConfig tunes the account lifecycle.
type AuthConfig struct {
	VerificationExpiry time.Duration `koanf:"verification_expiry" yaml:"verification_expiry" json:"verification_expiry"`
	ResetExpiry        time.Duration `koanf:"reset_expiry" yaml:"reset_expiry" json:"reset_expiry"`
	LockoutThreshold   int           `koanf:"lockout_threshold" yaml:"lockout_threshold" json:"lockout_threshold"`
	LockoutDuration    time.Duration `koanf:"lockout_duration" yaml:"lockout_duration" json:"lockout_duration"`
}

// Budget is one category allowance.
type Budget struct {
	Limit  int           `koanf:"limit" yaml:"limit" json:"limit"`
	Period time.Duration `koanf:"period" yaml:"period" json:"period"`
}

// RateLimitConfig configures the request guard.
type RateLimitConfig struct {
	Categories      map[string]Budget `koanf:"categories" yaml:"categories" json:"categories"`
	Routes          []ratelimit.Route `koanf:"routes" yaml:"routes" json:"routes"`
	PerClient       bool              `koanf:"per_client" yaml:"per_client" json:"per_client"`
	CleanupInterval time.Duration     `koanf:"cleanup_interval" yaml:"cleanup_interval" json:"cleanup_interval"`
	ClientMaxAge    time.Duration     `koanf:"client_max_age" yaml:"client_max_age" json:"client_max_age"`
}

// Registry converts the limiter section to a ratelimit.Config.
func (c RateLimitConfig) Registry() ratelimit.Config {
	categories := make(map[string]ratelimit.Budget, len(c.Categories))
	for name, b := range c.Categories {
		categories[name] = ratelimit.Budget{Limit: b.Limit, Period: b.Period}
	}
	return ratelimit.Config{
		Categories:      categories,
		PerClient:       c.PerClient,
		CleanupInterval: c.CleanupInterval,
		ClientMaxAge:    c.ClientMaxAge,
	}
}

// MailConfig selects and configures email delivery.
type MailConfig struct {
	Driver   string        `koanf:"driver" yaml:"driver" json:"driver"`
	From     string        `koanf:"from" yaml:"from" json:"from"`
	Product  string        `koanf:"product" yaml:"product" json:"product"`
	ResetURL string        `koanf:"reset_url" yaml:"reset_url" json:"reset_url"`
	Attempts uint64        `koanf:"attempts" yaml:"attempts" json:"attempts"`
	Backoff  time.Duration `koanf:"backoff" yaml:"backoff" json:"backoff"`
	Timeout  time.Duration `koanf:"timeout" yaml:"timeout" json:"timeout"`
	SMTP     SMTPConfig    `koanf:"smtp" yaml:"smtp" json:"smtp"`
}

// SMTPConfig is the relay used by the smtp mail driver.
type SMTPConfig struct {
	Host     string `koanf:"host" yaml:"host" json:"host"`
	Port     int    `koanf:"port" yaml:"port" json:"port"`
	Username string `koanf:"username" yaml:"username" json:"username"`
	Password string `koanf:"password" yaml:"password" json:"password"`
}

// Default returns the built-in configuration. The token secret has no
// default and must be supplied.
func Default() Config {
	budgets := ratelimit.DefaultBudgets()
	categories := make(map[string]Budget, len(budgets))
	for name, b := range budgets {
		categories[name] = Budget{Limit: b.Limit, Period: b.Period}
	}

	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Log:     LogConfig{Level: "info", Format: "json"},
		Store:   StoreConfig{Driver: StoreMemory},
		Database: DatabaseConfig{
			ConnectAttempts: 5,
			ConnectBackoff:  500 * time.Millisecond,
		},
		Token: TokenConfig{
			Issuer: token.DefaultIssuer,
			TTL:    token.DefaultTTL,
			Grace:  token.DefaultGrace,
		},
		Auth: AuthConfig{
			VerificationExpiry: auth.VerificationCodeExpiry,
			ResetExpiry:        auth.ResetTokenExpiry,
			LockoutThreshold:   auth.LockoutThreshold,
			LockoutDuration:    auth.LockoutDuration,
		},
		RateLimit: RateLimitConfig{
			Categories:      categories,
			Routes:          ratelimit.DefaultRoutes(),
			CleanupInterval: ratelimit.DefaultCleanupInterval,
			ClientMaxAge:    ratelimit.DefaultClientMaxAge,
		},
		Mail: MailConfig{
			Driver:   MailLog,
			From:     "noreply@localhost",
			Product:  "Credence",
			ResetURL: "http://localhost:4200/reset-password",
			Attempts: 3,
			Backoff:  250 * time.Millisecond,
			Timeout:  auth.DefaultNotifyTimeout,
			SMTP:     SMTPConfig{Port: 587},
		},
	}
}

// Validate checks required values and ranges.
func (c Config) Validate() error {
	invalid := func(key, format string, args ...any) error {
		return oops.Code(CodeInvalid).With("key", key).Errorf(format, args...)
	}

	if c.HTTP.Addr == "" {
		return invalid("http.addr", "http address is required")
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return invalid("http.max_body_bytes", "max body size must be positive")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "unknown log level %q", c.Log.Level)
	}
	if !logging.ValidFormat(c.Log.Format) {
		return invalid("log.format", "log format must be json or text, got %q", c.Log.Format)
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Database.URL == "" {
			return invalid("database.url", "database url is required for the postgres store")
		}
	default:
		return invalid("store.driver", "store driver must be %s or %s, got %q", StoreMemory, StorePostgres, c.Store.Driver)
	}

	if len(c.Token.Secret) < token.MinSecretLength {
		return invalid("token.secret", "token secret must be at least %d bytes", token.MinSecretLength)
	}
	if c.Token.TTL < token.MinTTL || c.Token.TTL > token.MaxTTL {
		return invalid("token.ttl", "token ttl must be between %s and %s, got %s", token.MinTTL, token.MaxTTL, c.Token.TTL)
	}
	if c.Token.Grace < 0 {
		return invalid("token.grace", "token grace must not be negative")
	}

	if c.Auth.VerificationExpiry <= 0 || c.Auth.ResetExpiry <= 0 {
		return invalid("auth", "verification and reset expiry must be positive")
	}
	if c.Auth.LockoutThreshold <= 0 || c.Auth.LockoutDuration <= 0 {
		return invalid("auth", "lockout threshold and duration must be positive")
	}

	if err := c.RateLimit.Registry().Validate(); err != nil {
		return oops.Code(CodeInvalid).With("key", "ratelimit.categories").Wrap(err)
	}
	for _, rt := range c.RateLimit.Routes {
		if _, ok := c.RateLimit.Categories[rt.Category]; !ok {
			return invalid("ratelimit.routes", "route %q uses unknown category %q", rt.Pattern, rt.Category)
		}
	}

	switch c.Mail.Driver {
	case MailLog:
	case MailSMTP:
		if c.Mail.SMTP.Host == "" {
			return invalid("mail.smtp.host", "smtp host is required for the smtp mail driver")
		}
	default:
		return invalid("mail.driver", "mail driver must be %s or %s, got %q", MailLog, MailSMTP, c.Mail.Driver)
	}
	if c.Mail.From == "" {
		return invalid("mail.from", "sender address is required")
	}
	if c.Mail.Timeout <= 0 {
		return invalid("mail.timeout", "mail timeout must be positive")
	}
	if u, err := url.Parse(c.Mail.ResetURL); err != nil || u.Scheme == "" || u.Host == "" {
		return invalid("mail.reset_url", "reset url must be absolute")
	}
	return nil
}

// Redacted returns a copy with secrets masked.
func (c Config) Redacted() Config {
	out := c
	if out.Token.Secret != "" {
		out.Token.Secret = logging.Redacted
	}
	if out.Mail.SMTP.Password != "" {
		out.Mail.SMTP.Password = logging.Redacted
	}
	if u, err := url.Parse(out.Database.URL); err == nil && u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
			out.Database.URL = u.String()
		}
	}
	out.RateLimit.Categories = make(map[string]Budget, len(c.RateLimit.Categories))
	for k, v := range c.RateLimit.Categories {
		out.RateLimit.Categories[k] = v
	}
	out.RateLimit.Routes = append([]ratelimit.Route(nil), c.RateLimit.Routes...)
	return out
}

// YAML renders the configuration with secrets masked.
func (c Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, oops.Code("CONFIG_ENCODE_FAILED").Wrap(err)
	}
	return out, nil
}
