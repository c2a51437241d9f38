// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

// Package httpapi exposes the account lifecycle over JSON HTTP.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/credence/credence/internal/auth"
	"github.com/credence/credence/internal/observability"
	"github.com/credence/credence/internal/ratelimit"
	"github.com/credence/credence/internal/schema"
)

// Service is the part of auth.Service the API drives.
type Service interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.Account, error)
	Verify(ctx context.Context, email, code string) error
	Resend(ctx context.Context, email string) error
	Login(ctx context.Context, email, password string) (*auth.LoginResult, error)
	RequestReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, resetToken, newPassword string) error
	Authenticate(ctx context.Context, raw string) (auth.Principal, string, error)
	RenewToken(ctx context.Context, raw string) (string, error)
	GetAccount(ctx context.Context, p auth.Principal, id ulid.ULID) (*auth.Account, error)
	ListAccounts(ctx context.Context, p auth.Principal, page auth.Page) ([]*auth.Account, error)
	UpdateProfile(ctx context.Context, p auth.Principal, id ulid.ULID, upd auth.ProfileUpdate) (*auth.Account, error)
	DeleteAccount(ctx context.Context, p auth.Principal, id ulid.ULID) error
}

var _ Service = (*auth.Service)(nil)

// Limiter decides whether a request may proceed.
type Limiter interface {
	TryAcquireKey(category, key string) ratelimit.Decision
}

// Config holds the listener settings.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxBodyBytes int64
}

// Option configures a Server.
type Option func(*Server)

// WithLimiter guards routes with the limiter. Paths the router does not
// match are never throttled.
func WithLimiter(limiter Limiter, routes *ratelimit.Router) Option {
	return func(s *Server) {
		s.limiter = limiter
		s.routes = routes
	}
}

// WithMetrics records request counts and latency.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithSchemas replaces the request schema registry.
func WithSchemas(r *schema.Registry) Option {
	return func(s *Server) { s.schemas = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server serves the JSON API.
type Server struct {
	cfg          Config
	auth         Service
	limiter      Limiter
	routes       *ratelimit.Router
	metrics      *observability.Metrics
	schemas      *schema.Registry
	logger       *slog.Logger
	maxBodyBytes int64

	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// NewServer builds the API server. Request schemas are compiled here so a
// broken schema fails at startup.
func NewServer(cfg Config, svc Service, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, oops.Code("HTTP_CONFIG_INVALID").Errorf("service is required")
	}
	s := &Server{
		cfg:          cfg,
		auth:         svc,
		logger:       slog.Default(),
		maxBodyBytes: cfg.MaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.schemas == nil {
		registry, err := schema.NewRegistry(RequestSchemas()...)
		if err != nil {
			return nil, oops.With("operation", "compile request schemas").Wrap(err)
		}
		s.schemas = registry
	}
	return s, nil
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.handle(mux, "POST /api/auth/register", s.handleRegister, false)
	s.handle(mux, "POST /api/auth/verify", s.handleVerify, false)
	s.handle(mux, "POST /api/auth/resend", s.handleResend, false)
	s.handle(mux, "POST /api/auth/login", s.handleLogin, false)
	s.handle(mux, "POST /api/auth/reset-request", s.handleResetRequest, false)
	s.handle(mux, "POST /api/auth/reset", s.handleReset, false)
	s.handle(mux, "POST /api/auth/renew", s.handleRenew, false)

	s.handle(mux, "GET /api/users/me", s.handleMe, true)
	s.handle(mux, "GET /api/users", s.handleList, true)
	s.handle(mux, "GET /api/users/{id}", s.handleGet, true)
	s.handle(mux, "PUT /api/users/{id}", s.handleUpdate, true)
	s.handle(mux, "DELETE /api/users/{id}", s.handleDelete, true)

	return s.observe(s.limitBody(mux))
}

// handle registers a route. Throttling runs first so a rejected request
// never reaches token verification or the service.
func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc, authenticated bool) {
	var next http.Handler = h
	if authenticated {
		next = s.authenticate(next)
	}
	mux.Handle(pattern, s.guard(next))
}

// Start begins serving on the configured address. The returned channel
// receives a serve error, and is closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Code("HTTP_ALREADY_RUNNING").Errorf("api server already running")
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("HTTP_LISTEN_FAILED").With("addr", s.cfg.Addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("api server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("api server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_api_server").Wrap(err)
		}
	}
	s.logger.Info("api server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
