// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Hallpass Contributors

package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SweeperConfig defines the cleanup cadence.
type SweeperConfig struct {
	// Interval between sweeps. Correctness never depends on this: the
	// check path already treats expired grants as absent; the sweeper
	// only reclaims storage and cache entries.
	Interval time.Duration
}

// DefaultSweeperConfig returns the default cleanup configuration.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{Interval: 5 * time.Minute}
}

// Sweeper periodically removes expired grants through the engine. It is
// the only component that physically deletes them.
type Sweeper struct {
	cfg    SweeperConfig
	engine *Engine
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a sweeper over the given engine.
func NewSweeper(cfg SweeperConfig, e *Engine) *Sweeper {
	if cfg.Interval <= 0 {
		cfg = DefaultSweeperConfig()
	}
	return &Sweeper{
		cfg:    cfg,
		engine: e,
		logger: slog.Default(),
	}
}

// RunOnce executes a single cleanup sweep.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	purged, err := s.engine.CleanupExpired(ctx)
	if err != nil {
		s.logger.Error("cleanup sweep failed", "error", err)
		return err
	}
	if purged > 0 {
		s.logger.Info("purged expired grants", "count", purged)
	}
	return nil
}

// Start begins periodic sweeping: one immediate sweep, then one per
// interval until the context is cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop cancels the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	// Sweep failures are logged inside RunOnce; the loop keeps going.
	_ = s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.RunOnce(ctx)
		}
	}
}
