// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

// Package ratelimit guards request categories with token buckets.
//
// Each category has a budget of Limit requests per Period. The bucket holds
// at most Limit tokens and refills at Limit/Period tokens per second, so a
// full burst is followed by a steady trickle. Decisions never perform I/O.
package ratelimit

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
)

// CodeRateLimited is the error code for a rejected request.
const CodeRateLimited = "RATE_LIMITED"

// Well-known categories.
const (
	CategoryAuth = "auth"
	CategoryUser = "user"
)

// Defaults.
const (
	// DefaultCleanupInterval is how often stale per-client buckets are swept.
	DefaultCleanupInterval = 5 * time.Minute

	// DefaultClientMaxAge is how long an idle per-client bucket is kept.
	DefaultClientMaxAge = time.Hour
)

// Budget is the allowance for one category.
type Budget struct {
	// Limit is the burst capacity and the number of requests per Period.
	Limit int `koanf:"limit" yaml:"limit" json:"limit"`

	// Period is the window over which Limit requests refill.
	Period time.Duration `koanf:"period" yaml:"period" json:"period"`
}

func (b Budget) rate() float64 {
	return float64(b.Limit) / b.Period.Seconds()
}

// DefaultBudgets mirrors the stock deployment: a tight budget on the public
// auth endpoints and a looser one on account management.
func DefaultBudgets() map[string]Budget {
	return map[string]Budget{
		CategoryAuth: {Limit: 10, Period: time.Minute},
		CategoryUser: {Limit: 60, Period: time.Minute},
	}
}

// Config configures a Registry.
type Config struct {
	// Categories maps category names to budgets. Required.
	Categories map[string]Budget

	// PerClient gives every client key its own bucket within a category
	// instead of one shared bucket per category.
	PerClient bool

	// CleanupInterval is the sweep interval for per-client buckets.
	// Defaults to DefaultCleanupInterval.
	CleanupInterval time.Duration

	// ClientMaxAge is the idle age after which a per-client bucket is
	// dropped. Defaults to DefaultClientMaxAge and is raised to the longest
	// budget period so that a dropped bucket would have been full anyway.
	ClientMaxAge time.Duration
}

// Validate checks every budget.
func (c Config) Validate() error {
	if len(c.Categories) == 0 {
		return oops.Code("RATELIMIT_CONFIG_INVALID").Errorf("at least one category budget is required")
	}
	for name, b := range c.Categories {
		if name == "" {
			return oops.Code("RATELIMIT_CONFIG_INVALID").Errorf("category name cannot be empty")
		}
		if b.Limit <= 0 || b.Period <= 0 {
			return oops.Code("RATELIMIT_CONFIG_INVALID").
				With("category", name).
				With("limit", b.Limit).
				With("period", b.Period.String()).
				Errorf("category %q needs a positive limit and period", name)
		}
	}
	return nil
}

// Decision is the outcome of an acquire attempt.
type Decision struct {
	Permitted bool

	// RetryAfter is the time until the next token is available. Zero when
	// permitted.
	RetryAfter time.Duration
}

// Err converts a rejection into an error carrying CodeRateLimited. It
// returns nil for a permitted decision.
func (d Decision) Err(category string) error {
	if d.Permitted {
		return nil
	}
	return oops.Code(CodeRateLimited).
		With("category", category).
		With("retry_after_ms", d.RetryAfter.Milliseconds()).
		Errorf("too many requests")
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

type clientKey struct {
	category string
	key      string
}

// Registry holds one token bucket per category, or per category and client
// when per-client keying is enabled. It is safe for concurrent use.
//
// With per-client keying a background goroutine drops idle buckets. Call
// Close to stop it.
type Registry struct {
	mu        sync.Mutex
	budgets   map[string]Budget
	shared    map[string]*bucket
	clients   map[clientKey]*bucket
	unknown   map[string]struct{}
	perClient bool
	maxAge    time.Duration

	now    func() time.Time
	logger *slog.Logger

	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	decisions   *prometheus.CounterVec
	bucketGauge prometheus.Gauge
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the logger used for unknown-category notices.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRegisterer registers decision counters and the bucket gauge.
func WithRegisterer(reg prometheus.Registerer) RegistryOption {
	return func(r *Registry) {
		if reg == nil {
			return
		}
		r.decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credence_ratelimit_decisions_total",
			Help: "Rate limiter decisions by category and outcome",
		}, []string{"category", "decision"})
		r.bucketGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "credence_ratelimit_buckets",
			Help: "Current number of tracked rate limiter buckets",
		})
		reg.MustRegister(r.decisions, r.bucketGauge)
	}
}

// NewRegistry builds the registry from cfg. All buckets start full.
func NewRegistry(cfg Config, opts ...RegistryOption) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Registry{
		budgets:   make(map[string]Budget, len(cfg.Categories)),
		shared:    make(map[string]*bucket, len(cfg.Categories)),
		clients:   make(map[clientKey]*bucket),
		unknown:   make(map[string]struct{}),
		perClient: cfg.PerClient,
		now:       time.Now,
		logger:    slog.Default(),
		stopChan:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	var longest time.Duration
	now := r.now()
	for name, b := range cfg.Categories {
		r.budgets[name] = b
		r.shared[name] = &bucket{tokens: float64(b.Limit), lastCheck: now}
		if b.Period > longest {
			longest = b.Period
		}
	}

	r.maxAge = cfg.ClientMaxAge
	if r.maxAge <= 0 {
		r.maxAge = DefaultClientMaxAge
	}
	if r.maxAge < longest {
		r.maxAge = longest
	}

	r.updateGauge()

	if r.perClient {
		interval := cfg.CleanupInterval
		if interval <= 0 {
			interval = DefaultCleanupInterval
		}
		r.wg.Add(1)
		go r.cleanupLoop(interval)
	}

	return r, nil
}

// Categories returns the configured category names, sorted.
func (r *Registry) Categories() []string {
	names := make([]string, 0, len(r.budgets))
	for name := range r.budgets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PerClient reports whether buckets are keyed per client.
func (r *Registry) PerClient() bool {
	return r.perClient
}

// TryAcquire takes one token from the category's shared bucket. A category
// with no configured budget is always permitted.
func (r *Registry) TryAcquire(category string) Decision {
	return r.TryAcquireKey(category, "")
}

// TryAcquireKey takes one token for a client within a category. The key is
// ignored unless per-client keying is enabled.
func (r *Registry) TryAcquireKey(category, key string) Decision {
	r.mu.Lock()
	defer r.mu.Unlock()

	budget, ok := r.budgets[category]
	if !ok {
		if _, seen := r.unknown[category]; !seen {
			r.unknown[category] = struct{}{}
			r.logger.Debug("no rate limit budget for category, permitting", "category", category)
		}
		r.record(category, true)
		return Decision{Permitted: true}
	}

	now := r.now()
	b := r.bucketFor(category, key, budget, now)

	// Refill based on elapsed time
	elapsed := now.Sub(b.lastCheck).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * budget.rate()
		if b.tokens > float64(budget.Limit) {
			b.tokens = float64(budget.Limit)
		}
		b.lastCheck = now
	}

	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		r.record(category, true)
		return Decision{Permitted: true}
	}

	deficit := 1.0 - b.tokens
	retryAfter := time.Duration(deficit / budget.rate() * float64(time.Second))
	if retryAfter <= 0 {
		retryAfter = time.Millisecond
	}
	r.record(category, false)
	return Decision{RetryAfter: retryAfter}
}

func (r *Registry) bucketFor(category, key string, budget Budget, now time.Time) *bucket {
	if !r.perClient {
		return r.shared[category]
	}
	ck := clientKey{category: category, key: key}
	b, ok := r.clients[ck]
	if !ok {
		b = &bucket{tokens: float64(budget.Limit), lastCheck: now}
		r.clients[ck] = b
		r.updateGauge()
	}
	return b
}

func (r *Registry) record(category string, permitted bool) {
	if r.decisions == nil {
		return
	}
	decision := "rejected"
	if permitted {
		decision = "permitted"
	}
	r.decisions.WithLabelValues(category, decision).Inc()
}

// BucketCount returns the number of tracked buckets.
func (r *Registry) BucketCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bucketCount()
}

func (r *Registry) bucketCount() int {
	if r.perClient {
		return len(r.clients)
	}
	return len(r.shared)
}

func (r *Registry) updateGauge() {
	if r.bucketGauge != nil {
		r.bucketGauge.Set(float64(r.bucketCount()))
	}
}

// Cleanup drops per-client buckets idle for longer than maxAge. It is run
// by the background goroutine but may be called directly.
func (r *Registry) Cleanup(maxAge time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	threshold := r.now().Add(-maxAge)
	for key, b := range r.clients {
		if b.lastCheck.Before(threshold) {
			delete(r.clients, key)
		}
	}
	r.updateGauge()
}

func (r *Registry) cleanupLoop(interval time.Duration) {
	defer r.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.Cleanup(r.maxAge)
		}
	}
}

// Close stops the cleanup goroutine, if any, and waits for it to exit.
// It is safe to call more than once.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()
}
