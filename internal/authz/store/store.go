// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Hallpass Contributors

// Package store defines the GrantStore contract the authorization engine
// consumes, plus the PostgreSQL implementation. The store is the source
// of truth for grants and subject levels; the engine's decision cache is
// derived data only.
package store

import (
	"context"
	"time"

	"github.com/hallpass/hallpass/internal/authz"
)

// GrantStore is the durable storage contract for permission grants and
// legacy subject levels. Implementations must be safe for concurrent use.
type GrantStore interface {
	// FindGrants returns all grants held by subject for the given
	// permission, regardless of scope or expiry. Expiry filtering is the
	// caller's responsibility (lazy expiry).
	FindGrants(ctx context.Context, subject string, perm authz.Permission) ([]authz.Grant, error)

	// FindAllGrants returns every grant held by subject.
	FindAllGrants(ctx context.Context, subject string) ([]authz.Grant, error)

	// Insert persists a new grant and returns it with its store-assigned ID.
	Insert(ctx context.Context, g authz.Grant) (authz.Grant, error)

	// Delete removes grants matching subject+permission+scope+scopeID.
	// Returns whether anything was deleted; a miss is not an error.
	Delete(ctx context.Context, subject string, perm authz.Permission, scope authz.Scope, scopeID string) (bool, error)

	// DeleteExpired physically removes grants whose expiry precedes the
	// given instant and returns the removed grants, so callers can
	// invalidate per-subject cache state.
	DeleteExpired(ctx context.Context, before time.Time) ([]authz.Grant, error)

	// ResolveLevel returns the subject's level for the guild, falling
	// back to the subject's global level (system ranks) when no guild row
	// exists. found is false when the subject has no level at all.
	ResolveLevel(ctx context.Context, subject, guildID string) (level authz.Level, found bool, err error)
}
