// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Hallpass Contributors

package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"
)

const insertEventSQL = `
	INSERT INTO access_audit_log (
		id, event_type, subject, permission, context, allowed, reason, extra, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

// PostgresWriter implements Writer for PostgreSQL. Async events are
// accumulated and flushed in a single pgx batch by size or period.
type PostgresWriter struct {
	db          execBatcher
	asyncChan   chan Event
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	batchSize   int
	flushPeriod time.Duration
}

// execBatcher is what PostgresWriter actually needs from a pool.
type execBatcher interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// NewPostgresWriter creates a PostgresWriter on the given pool.
func NewPostgresWriter(db execBatcher) *PostgresWriter {
	w := &PostgresWriter{
		db:          db,
		asyncChan:   make(chan Event, 1024),
		stopChan:    make(chan struct{}),
		batchSize:   100,
		flushPeriod: time.Second,
	}

	w.wg.Add(1)
	go w.batchConsumer()

	return w
}

// eventArgs renders an event into insert arguments.
func eventArgs(event Event) ([]any, error) {
	var contextJSON, extraJSON []byte
	var err error
	if event.Context != nil {
		if contextJSON, err = json.Marshal(event.Context); err != nil {
			return nil, oops.With("id", event.ID).Wrap(err)
		}
	}
	if event.Extra != nil {
		if extraJSON, err = json.Marshal(event.Extra); err != nil {
			return nil, oops.With("id", event.ID).Wrap(err)
		}
	}
	return []any{
		event.ID,
		string(event.Type),
		event.Subject,
		event.Permission,
		contextJSON,
		event.Allowed,
		event.Reason,
		extraJSON,
		event.Timestamp,
	}, nil
}

// WriteSync persists a single event immediately.
func (w *PostgresWriter) WriteSync(ctx context.Context, event Event) error {
	args, err := eventArgs(event)
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	batch.Queue(insertEventSQL, args...)
	if err := w.db.SendBatch(ctx, batch).Close(); err != nil {
		return oops.
			With("id", event.ID).
			With("type", string(event.Type)).
			With("subject", event.Subject).
			Wrap(err)
	}
	return nil
}

// WriteAsync queues an event for batched insertion.
func (w *PostgresWriter) WriteAsync(event Event) error {
	select {
	case w.asyncChan <- event:
		return nil
	default:
		droppedCounter.Inc()
		return oops.Errorf("audit async buffer full")
	}
}

func (w *PostgresWriter) batchConsumer() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.flushPeriod)
	defer ticker.Stop()

	var pending []Event

	flush := func() {
		if len(pending) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := w.flushBatch(ctx, pending); err != nil {
			slog.Error("audit batch flush failed", "error", err, "count", len(pending))
			failuresCounter.WithLabelValues("batch_write_failed").Inc()
		}
		cancel()
		pending = pending[:0]
	}

	for {
		select {
		case event := <-w.asyncChan:
			pending = append(pending, event)
			if len(pending) >= w.batchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-w.stopChan:
			for {
				select {
				case event := <-w.asyncChan:
					pending = append(pending, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

// flushBatch inserts events as a single pipelined batch. Individual
// marshal failures skip the event; the batch itself is all-or-nothing.
func (w *PostgresWriter) flushBatch(ctx context.Context, events []Event) error {
	batch := &pgx.Batch{}
	for i := range events {
		args, err := eventArgs(events[i])
		if err != nil {
			slog.Error("failed to encode audit event", "error", err, "id", events[i].ID)
			continue
		}
		batch.Queue(insertEventSQL, args...)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := w.db.SendBatch(ctx, batch).Close(); err != nil {
		return oops.With("count", batch.Len()).Wrap(err)
	}
	return nil
}

// Close drains the batch consumer. Safe to call more than once.
func (w *PostgresWriter) Close() error {
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	return nil
}
