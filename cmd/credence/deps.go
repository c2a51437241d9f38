package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/credence/credence/internal/config"
	"github.com/credence/credence/internal/mail"
	"github.com/credence/credence/internal/observability"
	"github.com/credence/credence/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// PoolFactory opens the PostgreSQL pool.
	// Default: store.Connect with the database section's retry settings
	PoolFactory func(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*pgxpool.Pool, error)

	// MigratorFactory opens a migrator for auto-migrate.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)

	// DispatcherFactory builds the mail transport.
	// Default: newDispatcher
	DispatcherFactory func(cfg config.MailConfig, logger *slog.Logger) (mail.Dispatcher, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// Signals returns the shutdown signal channel and a function that
	// stops delivery.
	// Default: SIGINT and SIGTERM
	Signals func() (<-chan os.Signal, func())

	// LogOutput receives the service log.
	// Default: os.Stderr
	LogOutput io.Writer

	// OnReady is called with the bound API address once serving.
	OnReady func(apiAddr string)
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.PoolFactory == nil {
		out.PoolFactory = connectPool
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = openMigrator
	}
	if out.DispatcherFactory == nil {
		out.DispatcherFactory = newDispatcher
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, ready, logger)
		}
	}
	if out.Signals == nil {
		out.Signals = func() (<-chan os.Signal, func()) {
			ch := make(chan os.Signal, 1)
			signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
			return ch, func() { signal.Stop(ch) }
		}
	}
	if out.LogOutput == nil {
		out.LogOutput = os.Stderr
	}
	if out.OnReady == nil {
		out.OnReady = func(string) {}
	}
	return &out
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Registerer() prometheus.Registerer
	Metrics() *observability.Metrics
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	Status() (store.Status, error)
	Close() error
}

func openMigrator(databaseURL string) (Migrator, error) {
	m, err := store.NewMigrator(databaseURL)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func connectPool(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	return store.Connect(ctx, cfg.URL,
		store.WithConnectAttempts(cfg.ConnectAttempts),
		store.WithConnectBackoff(cfg.ConnectBackoff),
		store.WithMaxConns(cfg.MaxConns),
		store.WithConnectLogger(logger),
	)
}

// newDispatcher returns the transport named by the mail driver.
func newDispatcher(cfg config.MailConfig, logger *slog.Logger) (mail.Dispatcher, error) {
	if cfg.Driver != config.MailSMTP {
		return mail.NewLogMailer(logger), nil
	}
	relay, err := mail.NewSMTP(mail.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.From,
	})
	if err != nil {
		return nil, err
	}
	return relay, nil
}
