// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Hallpass Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/hallpass/hallpass/internal/config"
)

// NewRootCmd creates the root command for the hallpass CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hallpass",
		Short: "hallpass - authorization engine for chat platforms",
		Long: `hallpass decides whether a subject may exercise a capability within
a guild, channel, category, or thread, layering time-bounded explicit
grants over a legacy level table. Every decision is audited.`,
	}

	// Persistent flags mirror config keys; posflag overlays them onto
	// the file configuration.
	pf := cmd.PersistentFlags()
	pf.String("config", "", "config file path")
	pf.String("database.url", "", "PostgreSQL connection string")
	pf.String("log.format", "", "log format: json or text")
	pf.String("audit.mode", "", "audit mode: all, denials_only, or lifecycle")
	pf.Duration("cache.ttl", 0, "decision cache TTL")
	pf.Duration("sweeper.interval", 0, "cleanup sweep interval")
	pf.String("observability.addr", "", "metrics/health listen address")

	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewSweepCmd())
	cmd.AddCommand(NewCheckCmd())
	cmd.AddCommand(NewGrantCmd())
	cmd.AddCommand(NewRevokeCmd())

	return cmd
}

// loadConfig reads the configuration for a command invocation.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, err //nolint:wrapcheck // flag plumbing
	}
	return config.Load(path, cmd.Flags())
}
