// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/credence/credence/internal/auth"
	"github.com/credence/credence/internal/config"
	"github.com/credence/credence/internal/logging"
	"github.com/credence/credence/internal/schema"
)

// Default timeout for seed command.
const defaultSeedTimeout = 30 * time.Second

// seedConfig holds configuration for the seed command.
type seedConfig struct {
	timeout time.Duration
	dryRun  bool
}

var seedFlagKeys = map[string]string{
	"database-url": "database.url",
}

// NewSeedCmd creates the seed subcommand.
func NewSeedCmd() *cobra.Command {
	cfg := &seedConfig{}

	cmd := &cobra.Command{
		Use:   "seed FILE",
		Short: "Create the accounts listed in a YAML file",
		Long: `Creates verified accounts, typically the first administrator, from a
YAML file with an accounts list. Accounts whose email is already registered
are left untouched, so the command can be run repeatedly.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, args[0], cfg)
		},
	}

	cmd.Flags().DurationVar(&cfg.timeout, "timeout", defaultSeedTimeout, "timeout for database operations (e.g., 30s, 1m)")
	cmd.Flags().BoolVar(&cfg.dryRun, "dry-run", false, "validate the file without touching the database")
	cmd.Flags().String("database-url", "", "PostgreSQL connection URL")

	return cmd
}

func runSeed(cmd *cobra.Command, path string, opts *seedConfig) error {
	seeds, err := readSeedFile(path)
	if err != nil {
		return err
	}
	if opts.dryRun {
		cmd.Printf("%s is valid: %d account(s)\n", path, len(seeds.Accounts))
		return nil
	}

	cfg, err := loadConfig(cmd, seedFlagKeys)
	if err != nil {
		return err
	}
	// Seeding an in-memory store would be lost when the command exits.
	cfg.Store.Driver = config.StorePostgres
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.Setup(serviceName, version, cfg.Log.Format, cfg.Log.Level, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	// Use cmd.Context() to respect SIGINT/SIGTERM signals
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	deps := (&ServeDeps{}).withDefaults()
	cmd.Println("Connecting to database...")
	accounts, _, closeStore, err := openStore(ctx, cfg, logger, deps)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer closeStore()

	svc, err := newService(cfg, accounts, nil, logger, deps)
	if err != nil {
		return err
	}
	return ensureSeeds(ctx, cmd, svc, seeds)
}

// readSeedFile loads and validates a seed file. Validation failures carry
// the offending JSON pointer paths.
func readSeedFile(path string) (auth.SeedFile, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is an operator-supplied CLI argument
	if err != nil {
		return auth.SeedFile{}, oops.Code("SEED_READ_FAILED").With("file", path).Wrap(err)
	}

	registry, err := schema.NewRegistry(auth.SeedDefinition())
	if err != nil {
		return auth.SeedFile{}, err
	}
	if err := registry.ValidateYAML(auth.SeedSchemaName, data); err != nil {
		return auth.SeedFile{}, invalidSeedFile(path, err)
	}

	var seeds auth.SeedFile
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		return auth.SeedFile{}, oops.Code("SEED_DECODE_FAILED").With("file", path).Wrap(err)
	}
	return seeds, nil
}

// invalidSeedFile puts the failing paths into the message, since the CLI
// prints only that.
func invalidSeedFile(path string, err error) error {
	var fields []schema.FieldError
	if oopsErr, ok := oops.AsOops(err); ok {
		fields, _ = oopsErr.Context()["fields"].([]schema.FieldError)
	}
	if len(fields) == 0 {
		return oops.With("file", path).Wrap(err)
	}

	msgs := make([]string, len(fields))
	for i, f := range fields {
		loc := f.Path
		if loc == "" {
			loc = "/"
		}
		msgs[i] = loc + ": " + f.Message
	}
	return oops.Code(schema.CodeInvalidDocument).
		With("file", path).
		With("fields", fields).
		Errorf("%s is invalid: %s", path, strings.Join(msgs, "; "))
}

// accountSeeder is the part of *auth.Service used for seeding.
type accountSeeder interface {
	EnsureAccount(ctx context.Context, seed auth.SeedAccount) (bool, error)
}

// ensureSeeds creates each missing account and reports what it did. It
// stops at the first failure.
func ensureSeeds(ctx context.Context, cmd *cobra.Command, seeder accountSeeder, seeds auth.SeedFile) error {
	var created int
	for _, seed := range seeds.Accounts {
		ok, err := seeder.EnsureAccount(ctx, seed)
		if err != nil {
			return oops.With("email", seed.Email).Wrap(err)
		}
		if ok {
			created++
			cmd.Printf("Created %s\n", seed.Email)
		} else {
			cmd.Printf("Exists  %s\n", seed.Email)
		}
	}
	cmd.Printf("Seeding complete: %d created, %d already present\n", created, len(seeds.Accounts)-created)
	return nil
}
