// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Hallpass Contributors

package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/oops"
)

// Mode controls which check events are recorded. Lifecycle events
// (grant, revoke, cleanup, error) are always recorded regardless of mode.
type Mode string

// Audit modes.
const (
	// ModeAll audits every check, including cache hits. The default:
	// the audit trail covers access, not just grant lifecycle.
	ModeAll Mode = "all"
	// ModeDenialsOnly audits denied checks plus lifecycle events.
	ModeDenialsOnly Mode = "denials_only"
	// ModeLifecycle audits lifecycle events only. The volume relief
	// valve for deployments where per-check auditing is too chatty.
	ModeLifecycle Mode = "lifecycle"
)

// ParseMode validates a configured mode string.
func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case ModeAll, ModeDenialsOnly, ModeLifecycle:
		return Mode(raw), nil
	case "":
		return ModeAll, nil
	}
	return "", oops.Code("UNKNOWN_AUDIT_MODE").With("mode", raw).Errorf("unknown audit mode %q", raw)
}

// Writer is the interface for persisting audit events to a backend.
type Writer interface {
	WriteSync(ctx context.Context, event Event) error
	WriteAsync(event Event) error
	Close() error
}

var (
	droppedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "authz_audit_dropped_total",
		Help: "Total number of audit events dropped because the async buffer was full",
	})

	failuresCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authz_audit_failures_total",
		Help: "Total number of audit write failures",
	}, []string{"reason"})

	walEntriesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "authz_audit_wal_entries",
		Help: "Current number of events in the audit WAL",
	})
)

// Logger routes audit events to a Writer according to the configured
// mode. Negative and lifecycle events go through the synchronous path
// with a WAL fallback; allows are queued to the async path.
type Logger struct {
	mode    Mode
	writer  Writer
	walPath string

	walMu   sync.Mutex
	walFile *os.File

	asyncChan chan Event
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewLogger creates a Logger. If walPath is empty, a file under the
// system temp directory is used.
func NewLogger(mode Mode, writer Writer, walPath string) *Logger {
	if walPath == "" {
		walPath = filepath.Join(os.TempDir(), "hallpass-audit-wal.jsonl")
	}

	l := &Logger{
		mode:      mode,
		writer:    writer,
		walPath:   walPath,
		asyncChan: make(chan Event, 1024),
		stopChan:  make(chan struct{}),
	}

	l.wg.Add(1)
	go l.asyncConsumer()

	return l
}

// Log records an event. The returned error is always nil for callers'
// convenience in fire-and-forget positions; failures are counted and
// logged here instead of propagating.
func (l *Logger) Log(ctx context.Context, event Event) error {
	record, sync := l.route(event)
	if !record {
		return nil
	}

	if sync {
		if err := l.writer.WriteSync(ctx, event); err != nil {
			if walErr := l.writeToWAL(event); walErr != nil {
				slog.Error("audit write failed on both backend and WAL",
					"backend_error", err,
					"wal_error", walErr,
					"type", event.Type,
					"subject", event.Subject,
				)
				failuresCounter.WithLabelValues("wal_failed").Inc()
			}
		}
		return nil
	}

	select {
	case l.asyncChan <- event:
	default:
		droppedCounter.Inc()
	}
	return nil
}

// route decides whether an event is recorded and on which path.
func (l *Logger) route(event Event) (record, sync bool) {
	// Lifecycle events bypass mode filtering and are always sync.
	if event.Type != TypeCheck {
		return true, true
	}

	switch l.mode {
	case ModeAll:
		return true, event.Denied()
	case ModeDenialsOnly:
		return event.Denied(), true
	case ModeLifecycle:
		return false, false
	default:
		return false, false
	}
}

func (l *Logger) asyncConsumer() {
	defer l.wg.Done()

	for {
		select {
		case event := <-l.asyncChan:
			if err := l.writer.WriteAsync(event); err != nil {
				slog.Error("async audit write failed",
					"error", err,
					"type", event.Type,
					"subject", event.Subject,
				)
				failuresCounter.WithLabelValues("async_write_failed").Inc()
			}
		case <-l.stopChan:
			l.drain()
			return
		}
	}
}

// drain flushes whatever is left in the async buffer during shutdown.
func (l *Logger) drain() {
	for {
		select {
		case event := <-l.asyncChan:
			if err := l.writer.WriteAsync(event); err != nil {
				slog.Error("async audit write failed during drain",
					"error", err,
					"subject", event.Subject,
				)
				failuresCounter.WithLabelValues("async_write_failed").Inc()
			}
		default:
			return
		}
	}
}

// writeToWAL appends an event to the local write-ahead log.
func (l *Logger) writeToWAL(event Event) error {
	l.walMu.Lock()
	defer l.walMu.Unlock()

	if l.walFile == nil {
		file, err := os.OpenFile(l.walPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY|os.O_SYNC, 0o600)
		if err != nil {
			return oops.With("path", l.walPath).Wrap(err)
		}
		l.walFile = file
	}

	data, err := json.Marshal(event)
	if err != nil {
		return oops.Wrap(err)
	}
	if _, err := fmt.Fprintf(l.walFile, "%s\n", data); err != nil {
		return oops.Wrap(err)
	}

	walEntriesGauge.Inc()
	return nil
}

// ReplayWAL re-submits WAL events to the writer, truncating the WAL on
// success. Call once at startup, after the backend is reachable.
func (l *Logger) ReplayWAL(ctx context.Context) error {
	l.walMu.Lock()
	defer l.walMu.Unlock()

	file, err := os.Open(l.walPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return oops.With("path", l.walPath).Wrap(err)
	}
	defer file.Close() //nolint:errcheck // read-only handle

	replayed := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			slog.Error("skipping malformed WAL event", "error", err)
			failuresCounter.WithLabelValues("wal_unmarshal_failed").Inc()
			continue
		}
		if err := l.writer.WriteSync(ctx, event); err != nil {
			slog.Error("failed to replay WAL event", "error", err, "id", event.ID)
			failuresCounter.WithLabelValues("wal_replay_failed").Inc()
			continue
		}
		replayed++
	}
	if err := scanner.Err(); err != nil {
		return oops.With("path", l.walPath).Wrap(err)
	}

	if err := os.Truncate(l.walPath, 0); err != nil {
		return oops.With("path", l.walPath).Wrap(err)
	}
	walEntriesGauge.Set(0)

	if replayed > 0 {
		slog.Info("replayed audit WAL", "count", replayed)
	}
	return nil
}

// Close drains the async buffer, closes the writer and the WAL file.
// Safe to call more than once.
func (l *Logger) Close() error {
	l.stopOnce.Do(func() { close(l.stopChan) })
	l.wg.Wait()

	if err := l.writer.Close(); err != nil {
		return oops.Wrap(err)
	}

	l.walMu.Lock()
	defer l.walMu.Unlock()
	if l.walFile != nil {
		if err := l.walFile.Close(); err != nil {
			return oops.Wrap(err)
		}
		l.walFile = nil
	}
	return nil
}
