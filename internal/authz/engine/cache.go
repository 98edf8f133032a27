// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Hallpass Contributors

package engine

import (
	"strings"
	"sync"
	"time"

	"github.com/hallpass/hallpass/internal/authz"
)

// DefaultCacheTTL bounds how long a cached decision can outlive the
// store state it was derived from. A grant or revoke becomes effective
// within one TTL window even without explicit invalidation.
const DefaultCacheTTL = 2 * time.Minute

// DecisionCache is a TTL-bounded in-memory cache of boolean decisions
// keyed on (subject, permission, context fingerprint). Entries are
// derived data: the grant store and level table stay authoritative.
//
// Safe for concurrent use. Writes are idempotent overwrites, so racing
// checks for the same key need no coordination beyond the internal lock.
type DecisionCache struct {
	ttl   time.Duration
	clock func() time.Time

	mu       sync.RWMutex
	entries  map[string]cacheEntry
	subjects map[string]map[string]struct{} // subject -> keys, for broad invalidation
}

type cacheEntry struct {
	allowed   bool
	subject   string
	expiresAt time.Time
}

// CacheOption configures a DecisionCache.
type CacheOption func(*DecisionCache)

// WithCacheClock substitutes the time source, for tests.
func WithCacheClock(clock func() time.Time) CacheOption {
	return func(c *DecisionCache) {
		c.clock = clock
	}
}

// NewDecisionCache creates a cache with the given TTL. A non-positive
// TTL falls back to DefaultCacheTTL.
func NewDecisionCache(ttl time.Duration, opts ...CacheOption) *DecisionCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := &DecisionCache{
		ttl:      ttl,
		clock:    time.Now,
		entries:  make(map[string]cacheEntry),
		subjects: make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// cacheKey builds the lookup key. The unit separator cannot occur in
// platform identifiers, so the key is collision-free.
func cacheKey(subject string, perm authz.Permission, cc authz.CheckContext) string {
	var b strings.Builder
	b.WriteString(subject)
	b.WriteString("\x1f")
	b.WriteString(string(perm))
	b.WriteString("\x1f")
	b.WriteString(cc.Fingerprint())
	return b.String()
}

// Get looks up a cached decision. found=false means the caller must
// resolve from the source of truth. Expired entries are removed on read.
func (c *DecisionCache) Get(subject string, perm authz.Permission, cc authz.CheckContext) (allowed, found bool) {
	key := cacheKey(subject, perm, cc)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return false, false
	}
	if c.clock().After(entry.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock: a fresh Set may have raced us.
		if current, still := c.entries[key]; still && c.clock().After(current.expiresAt) {
			c.remove(key, current.subject)
		}
		c.mu.Unlock()
		return false, false
	}
	return entry.allowed, true
}

// Set stores a decision, valid for one TTL from now. Overwrites are
// idempotent for concurrent checks computing the same answer.
func (c *DecisionCache) Set(subject string, perm authz.Permission, cc authz.CheckContext, allowed bool) {
	key := cacheKey(subject, perm, cc)
	entry := cacheEntry{
		allowed:   allowed,
		subject:   subject,
		expiresAt: c.clock().Add(c.ttl),
	}

	c.mu.Lock()
	c.entries[key] = entry
	keys, ok := c.subjects[subject]
	if !ok {
		keys = make(map[string]struct{})
		c.subjects[subject] = keys
	}
	keys[key] = struct{}{}
	c.mu.Unlock()
}

// InvalidateSubject removes every entry for the subject, regardless of
// permission or context. A grant or revoke can affect many cached
// decisions at once and the engine cannot enumerate the affected
// fingerprints, so it invalidates broadly. Returns the number removed.
func (c *DecisionCache) InvalidateSubject(subject string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.subjects[subject]
	for key := range keys {
		delete(c.entries, key)
	}
	delete(c.subjects, subject)
	return len(keys)
}

// Len returns the number of live entries, counting expired-but-unswept
// ones. Diagnostic use only.
func (c *DecisionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// remove deletes an entry and its subject-index record. Callers hold the
// write lock.
func (c *DecisionCache) remove(key, subject string) {
	delete(c.entries, key)
	if keys, ok := c.subjects[subject]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(c.subjects, subject)
		}
	}
}
