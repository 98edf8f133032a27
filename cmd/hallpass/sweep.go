// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Hallpass Contributors

package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/hallpass/hallpass/internal/authz/engine"
	"github.com/hallpass/hallpass/internal/observability"
)

// NewSweepCmd creates the sweep subcommand.
func NewSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired permission grants",
		Long: `Run a cleanup sweep that physically deletes expired grants and
invalidates affected cache entries. With --daemon, keep sweeping on the
configured interval and expose metrics and health probes.`,
		RunE: runSweep,
	}
	cmd.Flags().Bool("daemon", false, "sweep periodically until interrupted")
	return cmd
}

func runSweep(cmd *cobra.Command, _ []string) error {
	daemon, err := cmd.Flags().GetBool("daemon")
	if err != nil {
		return err //nolint:wrapcheck // flag plumbing
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := setupRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	if !daemon {
		purged, err := rt.engine.CleanupExpired(ctx)
		if err != nil {
			return err
		}
		cmd.Printf("Purged %d expired grants\n", purged)
		return nil
	}

	obs := observability.NewServer(rt.cfg.Observability.Addr, func() bool {
		pingCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		return rt.pool.Ping(pingCtx) == nil
	})
	obsErr, err := obs.Start()
	if err != nil {
		return err
	}
	cmd.Println("Observability server listening on", obs.Addr())

	sweeper := engine.NewSweeper(engine.SweeperConfig{Interval: rt.cfg.Sweeper.Interval}, rt.engine)
	sweeper.Start(ctx)
	cmd.Println("Sweeper running; press Ctrl-C to stop")

	select {
	case <-ctx.Done():
	case serveErr := <-obsErr:
		if serveErr != nil {
			sweeper.Stop()
			return oops.Wrapf(serveErr, "observability server failed")
		}
	}

	sweeper.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return obs.Shutdown(shutdownCtx)
}
