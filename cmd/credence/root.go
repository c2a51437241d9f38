package main

import (
	"github.com/spf13/cobra"

	"github.com/credence/credence/internal/config"
)

// Global flags available to all subcommands.
var (
	configFile string
	envFile    string
)

// NewRootCmd creates the root command for the Credence CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(nil)
}

func newRootCmd(serveDeps *ServeDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credence",
		Short: "Credence - account and token lifecycle service",
		Long: `Credence registers accounts, verifies them by email, issues renewable
bearer tokens and handles password resets behind a JSON HTTP API.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/credence/config.yaml)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file path (default: XDG_CONFIG_HOME/credence/.env)")

	cmd.AddCommand(newServeCmd(serveDeps))
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewSeedCmd())
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// loadConfig layers defaults, files, environment and the flags of cmd named
// in flagKeys.
func loadConfig(cmd *cobra.Command, flagKeys map[string]string) (config.Config, error) {
	return config.Load(config.LoadOptions{
		File:     configFile,
		EnvFile:  envFile,
		Flags:    cmd.Flags(),
		FlagKeys: flagKeys,
	})
}
