// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

package ratelimit

import (
	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Route maps a path pattern to a category. Patterns use '/' as separator:
// '*' matches within a segment and '**' across segments.
type Route struct {
	Pattern  string `koanf:"pattern" yaml:"pattern" json:"pattern"`
	Category string `koanf:"category" yaml:"category" json:"category"`
}

// DefaultRoutes covers the public auth endpoints and account management.
func DefaultRoutes() []Route {
	return []Route{
		{Pattern: "/api/auth/**", Category: CategoryAuth},
		{Pattern: "/api/users", Category: CategoryUser},
		{Pattern: "/api/users/**", Category: CategoryUser},
	}
}

type compiledRoute struct {
	glob     glob.Glob
	category string
}

// Router resolves request paths to categories. First match wins.
type Router struct {
	routes []compiledRoute
}

// NewRouter compiles the routes in order.
func NewRouter(routes []Route) (*Router, error) {
	compiled := make([]compiledRoute, 0, len(routes))
	for _, rt := range routes {
		if rt.Category == "" {
			return nil, oops.Code("RATELIMIT_ROUTE_INVALID").
				With("pattern", rt.Pattern).
				Errorf("route has no category")
		}
		g, err := glob.Compile(rt.Pattern, '/')
		if err != nil {
			return nil, oops.Code("RATELIMIT_ROUTE_INVALID").
				With("pattern", rt.Pattern).
				Wrap(err)
		}
		compiled = append(compiled, compiledRoute{glob: g, category: rt.Category})
	}
	return &Router{routes: compiled}, nil
}

// Category returns the category for path, or false when no route matches.
func (r *Router) Category(path string) (string, bool) {
	for _, rt := range r.routes {
		if rt.glob.Match(path) {
			return rt.category, true
		}
	}
	return "", false
}
