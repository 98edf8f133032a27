// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Hallpass Contributors

package main

import (
	"errors"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // registers the pgx5 driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/hallpass/hallpass/internal/authz/store"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Run all pending schema migrations against the PostgreSQL database.`,
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database.url is required")
	}

	src, err := iofs.New(store.Migrations, "migrations")
	if err != nil {
		return oops.Code("MIGRATION_FAILED").Wrapf(err, "loading embedded migrations")
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, pgxURL(cfg.Database.URL))
	if err != nil {
		return oops.Code("MIGRATION_FAILED").Wrapf(err, "initializing migrator")
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			cmd.PrintErrln("warning: migrator close:", srcErr, dbErr)
		}
	}()

	cmd.Println("Running migrations...")
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			cmd.Println("Database is up to date")
			return nil
		}
		return oops.Code("MIGRATION_FAILED").Wrap(err)
	}

	cmd.Println("Migrations completed successfully")
	return nil
}

// pgxURL rewrites a postgres:// DSN to the scheme golang-migrate's pgx
// driver registers under.
func pgxURL(dsn string) string {
	if rest, ok := strings.CutPrefix(dsn, "postgres://"); ok {
		return "pgx5://" + rest
	}
	if rest, ok := strings.CutPrefix(dsn, "postgresql://"); ok {
		return "pgx5://" + rest
	}
	return dsn
}
