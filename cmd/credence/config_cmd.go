// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/credence/credence/internal/config"
	"github.com/credence/credence/internal/xdg"
)

// generatedSecretBytes is the entropy of a secret written by config init.
const generatedSecretBytes = 32

// NewConfigCmd creates the config subcommand.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and initialize configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, nil)
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			cmd.Print(string(out))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, nil)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			cmd.Println("Configuration is valid")
			return nil
		},
	})

	var (
		output string
		force  bool
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file with a generated token secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := writeDefaultConfig(output, force)
			if err != nil {
				return err
			}
			cmd.Printf("Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().StringVar(&output, "output", "", "file to write (default: XDG_CONFIG_HOME/credence/config.yaml)")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)

	return cmd
}

// writeDefaultConfig writes the built-in defaults plus a fresh token secret
// and returns the path written.
func writeDefaultConfig(path string, force bool) (string, error) {
	if path == "" {
		var err error
		if path, err = xdg.ConfigFile(); err != nil {
			return "", err
		}
	}

	if !force {
		if _, err := os.Stat(path); err == nil {
			return "", oops.Code("CONFIG_EXISTS").With("file", path).Errorf("config file already exists; pass --force to overwrite")
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", oops.Code("CONFIG_WRITE_FAILED").With("file", path).Wrap(err)
		}
	}

	secret := make([]byte, generatedSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", oops.Code("CONFIG_WRITE_FAILED").With("operation", "generate secret").Wrap(err)
	}
	cfg := config.Default()
	cfg.Token.Secret = hex.EncodeToString(secret)

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return "", oops.Code("CONFIG_ENCODE_FAILED").Wrap(err)
	}
	if err := xdg.EnsureDir(filepath.Dir(path)); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return "", oops.Code("CONFIG_WRITE_FAILED").With("file", path).Wrap(err)
	}
	return path, nil
}
