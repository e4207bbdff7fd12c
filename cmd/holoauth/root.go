// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/holoauth/internal/config"
)

// NewRootCmd creates the root command for the holoauth CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(nil, nil)
}

// newRootCmd builds the command tree with injectable dependencies. Nil deps
// use the default implementations.
func newRootCmd(serveDeps *ServeDeps, migrateDeps *MigrateDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "holoauth",
		Short: "holoauth - authentication token service",
		Long: `holoauth registers users, verifies credentials, and issues and
rotates signed access and refresh tokens over an HTTP API.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "YAML config file path (default $XDG_CONFIG_HOME/holoauth/config.yaml if present)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(newServeCmdWithDeps(serveDeps))
	cmd.AddCommand(newMigrateCmdWithDeps(migrateDeps))
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// configOptions collects the config file and override flags for cmd.
func configOptions(cmd *cobra.Command) config.Options {
	path, _ := cmd.Flags().GetString("config") //nolint:errcheck // registered on the root command
	return config.Options{File: config.ResolveFile(path), Flags: cmd.Flags()}
}
