// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/credence/credence/internal/auth"
)

type principalKey struct{}

// WithPrincipal stores the authenticated caller on ctx. Only the HTTP
// boundary does this; the service always receives the principal explicitly.
func WithPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller stored by the bearer middleware, or
// auth.Anonymous.
func PrincipalFrom(ctx context.Context) auth.Principal {
	if p, ok := ctx.Value(principalKey{}).(auth.Principal); ok {
		return p
	}
	return auth.Anonymous
}

// statusRecorder remembers the status written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// observe records the route, status and latency of every request.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.ObserveRequest(route, status, time.Since(start))
	})
}

// limitBody caps request bodies.
func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && s.maxBodyBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// guard rejects throttled requests before the handler runs.
func (s *Server) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil || s.routes == nil {
			next.ServeHTTP(w, r)
			return
		}
		category, ok := s.routes.Category(r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		decision := s.limiter.TryAcquireKey(category, clientKey(r))
		if err := decision.Err(category); err != nil {
			writeError(w, r, s.logger, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey identifies the caller for per-client buckets.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// authenticate resolves the bearer token and stores the principal on the
// request context. A token renewed inside its grace window is returned in
// the Authorization response header.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := bearerToken(r)
		if err != nil {
			writeError(w, r, s.logger, err)
			return
		}

		principal, renewed, err := s.auth.Authenticate(r.Context(), raw)
		if err != nil {
			writeError(w, r, s.logger, err)
			return
		}
		if renewed != "" {
			w.Header().Set("Authorization", "Bearer "+renewed)
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	scheme, raw, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(raw) == "" {
		return "", oops.Code(auth.CodeUnauthenticated).Errorf("bearer token required")
	}
	return strings.TrimSpace(raw), nil
}
