// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Hallpass Contributors

// Package authztest provides in-memory test doubles for the grant store
// and audit writer, plus a controllable clock.
package authztest

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hallpass/hallpass/internal/authz"
	"github.com/hallpass/hallpass/internal/authz/audit"
	"github.com/hallpass/hallpass/internal/authz/store"
)

// MemoryGrantStore is a mutex-guarded in-memory GrantStore. A forced
// error can be injected with FailWith to simulate an outage.
type MemoryGrantStore struct {
	mu      sync.Mutex
	grants  []authz.Grant
	levels  map[levelKey]authz.Level
	failErr error
}

type levelKey struct {
	subject string
	guildID string // "" for the global row
}

// Compile-time check that MemoryGrantStore implements GrantStore.
var _ store.GrantStore = (*MemoryGrantStore)(nil)

// NewMemoryGrantStore creates an empty store.
func NewMemoryGrantStore() *MemoryGrantStore {
	return &MemoryGrantStore{levels: make(map[levelKey]authz.Level)}
}

// FailWith makes every subsequent operation return err. Pass nil to
// restore normal behavior.
func (m *MemoryGrantStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// SetLevel assigns a level row. An empty guildID sets the global row.
func (m *MemoryGrantStore) SetLevel(subject, guildID string, level authz.Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[levelKey{subject: subject, guildID: guildID}] = level
}

// Grants returns a copy of all stored grants.
func (m *MemoryGrantStore) Grants() []authz.Grant {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]authz.Grant, len(m.grants))
	copy(out, m.grants)
	return out
}

// FindGrants implements store.GrantStore.
func (m *MemoryGrantStore) FindGrants(_ context.Context, subject string, perm authz.Permission) ([]authz.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	var out []authz.Grant
	for _, g := range m.grants {
		if g.Subject == subject && g.Permission == perm {
			out = append(out, g)
		}
	}
	return out, nil
}

// FindAllGrants implements store.GrantStore.
func (m *MemoryGrantStore) FindAllGrants(_ context.Context, subject string) ([]authz.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	var out []authz.Grant
	for _, g := range m.grants {
		if g.Subject == subject {
			out = append(out, g)
		}
	}
	return out, nil
}

// Insert implements store.GrantStore.
func (m *MemoryGrantStore) Insert(_ context.Context, g authz.Grant) (authz.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return authz.Grant{}, m.failErr
	}
	g.ID = ulid.Make().String()
	m.grants = append(m.grants, g)
	return g, nil
}

// Delete implements store.GrantStore.
func (m *MemoryGrantStore) Delete(_ context.Context, subject string, perm authz.Permission, scope authz.Scope, scopeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return false, m.failErr
	}
	kept := m.grants[:0]
	deleted := false
	for _, g := range m.grants {
		if g.Subject == subject && g.Permission == perm && g.Scope == scope && g.ScopeID == scopeID {
			deleted = true
			continue
		}
		kept = append(kept, g)
	}
	m.grants = kept
	return deleted, nil
}

// DeleteExpired implements store.GrantStore.
func (m *MemoryGrantStore) DeleteExpired(_ context.Context, before time.Time) ([]authz.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	kept := m.grants[:0]
	var removed []authz.Grant
	for _, g := range m.grants {
		if g.ExpiresAt != nil && g.ExpiresAt.Before(before) {
			removed = append(removed, g)
			continue
		}
		kept = append(kept, g)
	}
	m.grants = kept
	return removed, nil
}

// ResolveLevel implements store.GrantStore: guild row first, then the
// global row.
func (m *MemoryGrantStore) ResolveLevel(_ context.Context, subject, guildID string) (authz.Level, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return 0, false, m.failErr
	}
	if guildID != "" {
		if level, ok := m.levels[levelKey{subject: subject, guildID: guildID}]; ok {
			return level, true, nil
		}
	}
	if level, ok := m.levels[levelKey{subject: subject}]; ok {
		return level, true, nil
	}
	return 0, false, nil
}

// MemoryAuditWriter captures audit events for assertions.
type MemoryAuditWriter struct {
	mu     sync.Mutex
	events []audit.Event
}

// Compile-time check that MemoryAuditWriter implements audit.Writer.
var _ audit.Writer = (*MemoryAuditWriter)(nil)

// NewMemoryAuditWriter creates an empty writer.
func NewMemoryAuditWriter() *MemoryAuditWriter {
	return &MemoryAuditWriter{}
}

// WriteSync implements audit.Writer.
func (m *MemoryAuditWriter) WriteSync(_ context.Context, event audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// WriteAsync implements audit.Writer.
func (m *MemoryAuditWriter) WriteAsync(event audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Close implements audit.Writer.
func (m *MemoryAuditWriter) Close() error {
	return nil
}

// Events returns a copy of the captured events.
func (m *MemoryAuditWriter) Events() []audit.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]audit.Event, len(m.events))
	copy(out, m.events)
	return out
}

// EventsOfType returns captured events of the given type.
func (m *MemoryAuditWriter) EventsOfType(t audit.EventType) []audit.Event {
	var out []audit.Event
	for _, e := range m.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
