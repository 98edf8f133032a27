// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Hallpass Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/hallpass/hallpass/internal/authz/audit"
	"github.com/hallpass/hallpass/internal/authz/engine"
	"github.com/hallpass/hallpass/internal/authz/store"
	"github.com/hallpass/hallpass/internal/config"
	"github.com/hallpass/hallpass/internal/logging"
)

// runtime bundles the wired-up engine and its dependencies for a
// command invocation.
type runtime struct {
	cfg    config.Config
	pool   *pgxpool.Pool
	engine *engine.Engine
	audit  *audit.Logger
}

// setupRuntime loads config, connects the store, replays the audit WAL,
// and assembles the engine.
func setupRuntime(ctx context.Context, cmd *cobra.Command) (*runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logging.SetDefault("hallpass", version, logging.Options{Format: cfg.Log.Format})

	if cfg.Database.URL == "" {
		return nil, oops.Code("CONFIG_INVALID").Errorf("database.url is required")
	}

	pool, err := store.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}

	writer := audit.NewPostgresWriter(pool)
	auditLogger := audit.NewLogger(cfg.Audit.Mode, writer, cfg.Audit.WALPath)
	if err := auditLogger.ReplayWAL(ctx); err != nil {
		// The WAL is best-effort recovery state; a replay failure must
		// not block startup.
		slog.Warn("audit WAL replay failed", "error", err)
	}

	levels, err := cfg.LevelTable()
	if err != nil {
		closeQuietly(auditLogger, pool)
		return nil, err
	}

	cache := engine.NewDecisionCache(cfg.Cache.TTL)
	eng := engine.NewEngine(
		store.NewPostgresGrantStore(pool),
		cache,
		auditLogger,
		levels,
		engine.WithStoreTimeout(cfg.Engine.CheckTimeout),
	)

	return &runtime{cfg: cfg, pool: pool, engine: eng, audit: auditLogger}, nil
}

// close tears down the runtime in dependency order.
func (r *runtime) close() {
	closeQuietly(r.audit, r.pool)
}

func closeQuietly(auditLogger *audit.Logger, pool *pgxpool.Pool) {
	if auditLogger != nil {
		if err := auditLogger.Close(); err != nil {
			slog.Warn("audit logger close failed", "error", err)
		}
	}
	if pool != nil {
		pool.Close()
	}
}
