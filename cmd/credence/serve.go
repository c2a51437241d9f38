// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/credence/credence/internal/auth"
	"github.com/credence/credence/internal/auth/memstore"
	authpg "github.com/credence/credence/internal/auth/postgres"
	"github.com/credence/credence/internal/config"
	"github.com/credence/credence/internal/httpapi"
	"github.com/credence/credence/internal/logging"
	"github.com/credence/credence/internal/mail"
	"github.com/credence/credence/internal/observability"
	"github.com/credence/credence/internal/ratelimit"
	"github.com/credence/credence/internal/token"
)

const serviceName = "credence"

// serveFlagKeys maps serve flags onto configuration keys.
var serveFlagKeys = map[string]string{
	"addr":         "http.addr",
	"metrics-addr": "metrics.addr",
	"log-format":   "log.format",
	"log-level":    "log.level",
	"store":        "store.driver",
	"database-url": "database.url",
	"auto-migrate": "database.auto_migrate",
	"mail":         "mail.driver",
}

// serveConfig holds the serve options that are not configuration keys.
type serveConfig struct {
	seedFile string
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return newServeCmd(nil)
}

func newServeCmd(deps *ServeDeps) *cobra.Command {
	opts := &serveConfig{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the account API",
		Long: `Start the JSON HTTP API and, when metrics.addr is set, the metrics and
health listener. Flags override the config file and CREDENCE_* variables.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, opts, deps)
		},
	}

	flags := cmd.Flags()
	flags.String("addr", "", "API listen address (default :8080)")
	flags.String("metrics-addr", "", "metrics/health HTTP address (empty = disabled)")
	flags.String("log-format", "", "log format (json or text)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("store", "", "account store (memory or postgres)")
	flags.String("database-url", "", "PostgreSQL connection URL")
	flags.Bool("auto-migrate", false, "apply pending migrations at startup")
	flags.String("mail", "", "mail driver (log or smtp)")
	flags.StringVar(&opts.seedFile, "seed", "", "YAML file of accounts to ensure at startup")

	return cmd
}

// runServeWithDeps starts the service with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, opts *serveConfig, deps *ServeDeps) error {
	deps = deps.withDefaults()

	cfg, err := loadConfig(cmd, serveFlagKeys)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.Setup(serviceName, version, cfg.Log.Format, cfg.Log.Level, deps.LogOutput)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	logger.Info("starting credence",
		"version", version,
		"store", cfg.Store.Driver,
		"mail", cfg.Mail.Driver)

	accounts, ready, closeStore, err := openStore(ctx, cfg, logger, deps)
	if err != nil {
		return err
	}
	defer closeStore()

	obsServer := deps.ObservabilityServerFactory(cfg.Metrics.Addr, ready, logger)

	svc, err := newService(cfg, accounts, obsServer.Registerer(), logger, deps)
	if err != nil {
		return err
	}

	if opts.seedFile != "" {
		seeds, err := readSeedFile(opts.seedFile)
		if err != nil {
			return err
		}
		if err := ensureSeeds(ctx, cmd, svc, seeds); err != nil {
			return err
		}
	}

	limiter, err := ratelimit.NewRegistry(cfg.RateLimit.Registry(),
		ratelimit.WithLogger(logger),
		ratelimit.WithRegisterer(obsServer.Registerer()))
	if err != nil {
		return err
	}
	defer limiter.Close()

	routes, err := ratelimit.NewRouter(cfg.RateLimit.Routes)
	if err != nil {
		return err
	}

	api, err := httpapi.NewServer(httpapi.Config{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	}, svc,
		httpapi.WithLimiter(limiter, routes),
		httpapi.WithMetrics(obsServer.Metrics()),
		httpapi.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	apiErrCh, err := api.Start()
	if err != nil {
		return err
	}
	go monitorServerErrors(ctx, cancel, apiErrCh, "api")

	obsStarted := false
	if cfg.Metrics.Addr != "" {
		obsErrCh, err := obsServer.Start()
		if err != nil {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer stopCancel()
			if stopErr := api.Stop(stopCtx); stopErr != nil {
				logger.Warn("failed to stop api server during cleanup", "error", stopErr)
			}
			return oops.With("operation", "start observability server").Wrap(err)
		}
		obsStarted = true
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	sigCh, stopSignals := deps.Signals()
	defer stopSignals()

	cmd.Println("Credence started")
	logger.Info("credence ready", "api_addr", api.Addr())
	deps.OnReady(api.Addr())

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := api.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping api server", "error", err)
	}
	if obsStarted {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// openStore returns the configured account repository, its readiness probe
// and a close function that is always safe to call.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger, deps *ServeDeps) (auth.AccountRepository, observability.ReadinessChecker, func(), error) {
	if cfg.Store.Driver != config.StorePostgres {
		logger.Warn("using the in-memory account store, accounts are lost on restart")
		return memstore.NewAccountRepository(), func(context.Context) error { return nil }, func() {}, nil
	}

	if cfg.Database.AutoMigrate {
		if err := autoMigrate(cfg.Database.URL, deps.MigratorFactory, logger); err != nil {
			return nil, nil, nil, err
		}
	}

	pool, err := deps.PoolFactory(ctx, cfg.Database, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Info("connected to database")
	return authpg.NewAccountRepository(pool), pool.Ping, pool.Close, nil
}

// autoMigrate applies pending migrations before the pool is opened.
func autoMigrate(databaseURL string, factory func(string) (Migrator, error), logger *slog.Logger) error {
	migrator, err := factory(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.With("operation", "auto-migrate").Wrap(err)
	}
	logger.Info("database schema up to date")
	return nil
}

// newService wires the token manager, the mail notifier and the account
// service. reg may be nil.
func newService(cfg config.Config, accounts auth.AccountRepository, reg prometheus.Registerer, logger *slog.Logger, deps *ServeDeps) (*auth.Service, error) {
	tokens, err := token.NewManager(token.Config{
		Secret: []byte(cfg.Token.Secret),
		Issuer: cfg.Token.Issuer,
		TTL:    cfg.Token.TTL,
		Grace:  cfg.Token.Grace,
	}, nil)
	if err != nil {
		return nil, err
	}

	dispatcher, err := deps.DispatcherFactory(cfg.Mail, logger)
	if err != nil {
		return nil, err
	}
	notifier, err := mail.NewNotifier(mail.NotifierConfig{
		From:     cfg.Mail.From,
		Product:  cfg.Mail.Product,
		ResetURL: cfg.Mail.ResetURL,
	}, mail.NewRetrying(dispatcher, cfg.Mail.Attempts, cfg.Mail.Backoff, logger), reg)
	if err != nil {
		return nil, err
	}

	return auth.NewServiceWithLogger(accounts, auth.NewArgon2idHasher(), tokens, notifier, logger,
		auth.WithMetrics(auth.NewMetrics(reg)),
		auth.WithVerificationExpiry(cfg.Auth.VerificationExpiry),
		auth.WithResetExpiry(cfg.Auth.ResetExpiry),
		auth.WithLockout(cfg.Auth.LockoutThreshold, cfg.Auth.LockoutDuration),
		auth.WithNotifyTimeout(cfg.Mail.Timeout))
}

// monitorServerErrors watches a server's error channel and cancels the
// context if an error occurs. This enables graceful shutdown when a server
// fails unexpectedly.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
