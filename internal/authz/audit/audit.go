// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Hallpass Contributors

// Package audit records authorization decisions and grant lifecycle
// events. Events are write-once: nothing in the engine ever updates or
// deletes one, and retention is an operator concern handled outside the
// hot path.
//
// Audit failures never fail the decision they describe. Denials and
// lifecycle events are written synchronously with a local WAL fallback;
// allows are buffered and written asynchronously in batches.
package audit

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hallpass/hallpass/internal/authz"
)

// EventType classifies an audit event.
type EventType string

// Event types emitted by the engine.
const (
	TypeCheck   EventType = "check"
	TypeGrant   EventType = "grant"
	TypeRevoke  EventType = "revoke"
	TypeError   EventType = "error"
	TypeCleanup EventType = "cleanup"
)

// Event is a single immutable audit record.
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Subject    string         `json:"subject"`
	Permission string         `json:"permission,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
	Allowed    *bool          `json:"allowed,omitempty"`
	Reason     string         `json:"reason"`
	Extra      map[string]any `json:"extra,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// NewEvent creates an event with a fresh ULID and the given timestamp.
func NewEvent(t EventType, subject string, perm authz.Permission, ts time.Time) Event {
	return Event{
		ID:         ulid.Make().String(),
		Type:       t,
		Subject:    subject,
		Permission: string(perm),
		Timestamp:  ts,
	}
}

// WithResult sets the boolean outcome and reason code of a check event.
func (e Event) WithResult(allowed bool, reason string) Event {
	e.Allowed = &allowed
	e.Reason = reason
	return e
}

// WithContext attaches a context snapshot.
func (e Event) WithContext(cc authz.CheckContext) Event {
	e.Context = cc.Snapshot()
	return e
}

// WithExtra attaches structured extra data.
func (e Event) WithExtra(extra map[string]any) Event {
	e.Extra = extra
	return e
}

// Denied reports whether the event records a negative decision. Used for
// sync-vs-async routing; lifecycle events without a result count as
// denials so they are never dropped.
func (e Event) Denied() bool {
	return e.Allowed == nil || !*e.Allowed
}
