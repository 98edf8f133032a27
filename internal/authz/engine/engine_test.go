// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Hallpass Contributors

package engine_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hallpass/hallpass/internal/authz"
	"github.com/hallpass/hallpass/internal/authz/audit"
	"github.com/hallpass/hallpass/internal/authz/authztest"
	"github.com/hallpass/hallpass/internal/authz/engine"
)

// fixture wires an engine over in-memory doubles with a controllable
// clock shared by the engine and its cache.
type fixture struct {
	store  *authztest.MemoryGrantStore
	sink   *authztest.MemoryAuditWriter
	logger *audit.Logger
	clock  *authztest.Clock
	cache  *engine.DecisionCache
	engine *engine.Engine

	closed bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store: authztest.NewMemoryGrantStore(),
		sink:  authztest.NewMemoryAuditWriter(),
		clock: authztest.NewClock(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)),
	}
	f.logger = audit.NewLogger(audit.ModeAll, f.sink, filepath.Join(t.TempDir(), "wal.jsonl"))
	f.cache = engine.NewDecisionCache(time.Minute, engine.WithCacheClock(f.clock.Now))
	f.engine = engine.NewEngine(f.store, f.cache, f.logger, authz.DefaultLevelTable(),
		engine.WithClock(f.clock.Now))

	t.Cleanup(func() { f.flushAudit(t) })
	return f
}

// flushAudit drains the async audit buffer so captured events are
// complete before assertions.
func (f *fixture) flushAudit(t *testing.T) {
	t.Helper()
	if f.closed {
		return
	}
	f.closed = true
	require.NoError(t, f.logger.Close())
}

func (f *fixture) mustGrant(t *testing.T, req engine.GrantRequest) authz.Grant {
	t.Helper()
	g, err := f.engine.Grant(context.Background(), req)
	require.NoError(t, err)
	return g
}

func TestEngine_Check_DefaultDeny(t *testing.T) {
	f := newFixture(t)

	decision, err := f.engine.Check(context.Background(), "alice", authz.PermMessageModerate, authz.CheckContext{GuildID: "g1"})
	require.NoError(t, err)
	assert.False(t, decision.Allowed())
	assert.Equal(t, engine.ReasonDefaultDeny, decision.Reason)

	f.flushAudit(t)
	events := f.sink.EventsOfType(audit.TypeCheck)
	require.Len(t, events, 1)
	assert.Equal(t, "alice", events[0].Subject)
	assert.Equal(t, string(authz.PermMessageModerate), events[0].Permission)
	assert.True(t, events[0].Denied())
	assert.Equal(t, engine.ReasonDefaultDeny, events[0].Reason)
	assert.Equal(t, "g1", events[0].Context["guild_id"])
}

func TestEngine_Check_ExplicitGrant(t *testing.T) {
	f := newFixture(t)
	f.mustGrant(t, engine.GrantRequest{
		Subject:    "alice",
		Permission: authz.PermMessageModerate,
		Scope:      authz.ScopeGuild,
		ScopeID:    "g1",
		GrantedBy:  "admin",
	})

	cc := authz.CheckContext{GuildID: "g1"}
	decision, err := f.engine.Check(context.Background(), "alice", authz.PermMessageModerate, cc)
	require.NoError(t, err)
	assert.True(t, decision.Allowed())
	assert.Equal(t, engine.ReasonExplicitGrant, decision.Reason)

	// Second identical check is served from cache.
	decision, err = f.engine.Check(context.Background(), "alice", authz.PermMessageModerate, cc)
	require.NoError(t, err)
	assert.True(t, decision.Allowed())
	assert.Equal(t, engine.ReasonCacheHit, decision.Reason)
}

func TestEngine_Check_ScopeMismatch(t *testing.T) {
	f := newFixture(t)
	f.mustGrant(t, engine.GrantRequest{
		Subject:    "alice",
		Permission: authz.PermMessageModerate,
		Scope:      authz.ScopeChannel,
		ScopeID:    "c1",
		GrantedBy:  "admin",
	})

	tests := []struct {
		name string
		cc   authz.CheckContext
		want bool
	}{
		{"matching channel", authz.CheckContext{GuildID: "g1", ChannelID: "c1"}, true},
		{"other channel", authz.CheckContext{GuildID: "g1", ChannelID: "c2"}, false},
		{"no channel dimension", authz.CheckContext{GuildID: "g1"}, false},
		{"channel id in thread dimension", authz.CheckContext{ThreadID: "c1"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := f.engine.Check(context.Background(), "alice", authz.PermMessageModerate, tt.cc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, decision.Allowed())
		})
	}
}

func TestEngine_Check_LazyExpiry(t *testing.T) {
	f := newFixture(t)
	f.mustGrant(t, engine.GrantRequest{
		Subject:    "alice",
		Permission: authz.PermMessagePin,
		Scope:      authz.ScopeGlobal,
		GrantedBy:  "admin",
		TTL:        30 * time.Minute,
	})

	cc := authz.CheckContext{GuildID: "g1"}
	decision, err := f.engine.Check(context.Background(), "alice", authz.PermMessagePin, cc)
	require.NoError(t, err)
	assert.True(t, decision.Allowed())

	// Past the TTL the grant is treated as absent without being deleted.
	f.clock.Advance(31 * time.Minute)
	decision, err = f.engine.Check(context.Background(), "alice", authz.PermMessagePin, cc)
	require.NoError(t, err)
	assert.False(t, decision.Allowed())
	assert.Equal(t, engine.ReasonDefaultDeny, decision.Reason)
	assert.Len(t, f.store.Grants(), 1, "lazy expiry must not delete the grant")
}

func TestEngine_Check_LevelFallback(t *testing.T) {
	f := newFixture(t)
	f.store.SetLevel("mod", "g1", authz.LevelModerator)

	t.Run("level permits within its guild", func(t *testing.T) {
		decision, err := f.engine.Check(context.Background(), "mod", authz.PermMessageModerate, authz.CheckContext{GuildID: "g1"})
		require.NoError(t, err)
		assert.True(t, decision.Allowed())
		assert.Equal(t, "level_3", decision.Reason)
	})

	t.Run("level denies what it does not map", func(t *testing.T) {
		decision, err := f.engine.Check(context.Background(), "mod", authz.PermMemberBan, authz.CheckContext{GuildID: "g1"})
		require.NoError(t, err)
		assert.False(t, decision.Allowed())
		assert.Equal(t, "level_3", decision.Reason)
	})

	t.Run("no level row in another guild", func(t *testing.T) {
		decision, err := f.engine.Check(context.Background(), "mod", authz.PermMessageModerate, authz.CheckContext{GuildID: "g2"})
		require.NoError(t, err)
		assert.False(t, decision.Allowed())
		assert.Equal(t, engine.ReasonDefaultDeny, decision.Reason)
	})
}

func TestEngine_Check_GuildLevelPreferredOverGlobal(t *testing.T) {
	f := newFixture(t)
	f.store.SetLevel("op", "", authz.LevelOperator)
	f.store.SetLevel("op", "g1", authz.LevelMember)

	// The guild row wins where present.
	decision, err := f.engine.Check(context.Background(), "op", authz.PermGuildConfig, authz.CheckContext{GuildID: "g1"})
	require.NoError(t, err)
	assert.False(t, decision.Allowed())
	assert.Equal(t, "level_0", decision.Reason)

	// Elsewhere the global operator rank applies.
	decision, err = f.engine.Check(context.Background(), "op", authz.PermGuildConfig, authz.CheckContext{GuildID: "g2"})
	require.NoError(t, err)
	assert.True(t, decision.Allowed())
	assert.Equal(t, "level_8", decision.Reason)
}

func TestEngine_Check_FailsClosed(t *testing.T) {
	f := newFixture(t)
	f.store.SetLevel("alice", "g1", authz.LevelOperator)
	f.store.FailWith(oops.Code("STORE_UNAVAILABLE").Errorf("connection refused"))

	cc := authz.CheckContext{GuildID: "g1"}
	decision, err := f.engine.Check(context.Background(), "alice", authz.PermMessageSend, cc)
	require.NoError(t, err, "store failures must not surface as check errors")
	assert.False(t, decision.Allowed())
	assert.Equal(t, engine.ReasonStoreError, decision.Reason)

	// The failure is not cached: once the store recovers, the next check
	// resolves fresh.
	f.store.FailWith(nil)
	decision, err = f.engine.Check(context.Background(), "alice", authz.PermMessageSend, cc)
	require.NoError(t, err)
	assert.True(t, decision.Allowed())
	assert.Equal(t, "level_8", decision.Reason)

	f.flushAudit(t)
	errorEvents := f.sink.EventsOfType(audit.TypeError)
	require.Len(t, errorEvents, 1)
	assert.Equal(t, engine.ReasonStoreError, errorEvents[0].Reason)
	assert.Contains(t, errorEvents[0].Extra["error"], "connection refused")
}

func TestEngine_Check_InvalidInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Check(context.Background(), "", authz.PermMessageSend, authz.CheckContext{})
	require.Error(t, err)

	_, err = f.engine.Check(context.Background(), "   ", authz.PermMessageSend, authz.CheckContext{})
	require.Error(t, err)

	_, err = f.engine.Check(context.Background(), "alice", "", authz.CheckContext{})
	require.Error(t, err)
}

func TestEngine_Check_CancelledContext(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine.Check(ctx, "alice", authz.PermMessageSend, authz.CheckContext{})
	require.Error(t, err)
}

func TestEngine_Check_NilCache(t *testing.T) {
	f := newFixture(t)
	eng := engine.NewEngine(f.store, nil, f.logger, authz.DefaultLevelTable(), engine.WithClock(f.clock.Now))
	f.store.SetLevel("alice", "g1", authz.LevelMember)

	// Without a cache every check takes the slow path; the reason never
	// reports a cache hit.
	for i := 0; i < 2; i++ {
		decision, err := eng.Check(context.Background(), "alice", authz.PermMessageSend, authz.CheckContext{GuildID: "g1"})
		require.NoError(t, err)
		assert.True(t, decision.Allowed())
		assert.Equal(t, "level_0", decision.Reason)
	}
}

func TestGrantRequest_Validation(t *testing.T) {
	f := newFixture(t)

	base := engine.GrantRequest{
		Subject:    "alice",
		Permission: authz.PermMessageSend,
		Scope:      authz.ScopeGuild,
		ScopeID:    "g1",
		GrantedBy:  "admin",
	}

	tests := []struct {
		name   string
		mutate func(*engine.GrantRequest)
	}{
		{"empty subject", func(r *engine.GrantRequest) { r.Subject = " " }},
		{"empty permission", func(r *engine.GrantRequest) { r.Permission = "" }},
		{"empty grantor", func(r *engine.GrantRequest) { r.GrantedBy = "" }},
		{"invalid scope", func(r *engine.GrantRequest) { r.Scope = authz.Scope(42) }},
		{"global with scope id", func(r *engine.GrantRequest) { r.Scope = authz.ScopeGlobal }},
		{"scoped without scope id", func(r *engine.GrantRequest) { r.ScopeID = "" }},
		{"negative ttl", func(r *engine.GrantRequest) { r.TTL = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			_, err := f.engine.Grant(context.Background(), req)
			require.Error(t, err)
			assert.Empty(t, f.store.Grants(), "invalid request must not reach the store")
		})
	}
}

func TestEngine_Grant_InvalidatesCacheBeforeReturn(t *testing.T) {
	f := newFixture(t)
	cc := authz.CheckContext{GuildID: "g1"}

	// Prime a cached denial.
	decision, err := f.engine.Check(context.Background(), "alice", authz.PermMessagePin, cc)
	require.NoError(t, err)
	assert.False(t, decision.Allowed())

	f.mustGrant(t, engine.GrantRequest{
		Subject:    "alice",
		Permission: authz.PermMessagePin,
		Scope:      authz.ScopeGuild,
		ScopeID:    "g1",
		GrantedBy:  "admin",
	})

	// The stale denial must be gone as soon as Grant returns.
	decision, err = f.engine.Check(context.Background(), "alice", authz.PermMessagePin, cc)
	require.NoError(t, err)
	assert.True(t, decision.Allowed())
	assert.Equal(t, engine.ReasonExplicitGrant, decision.Reason)
}

func TestEngine_Grant_TTL(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()

	g := f.mustGrant(t, engine.GrantRequest{
		Subject:    "alice",
		Permission: authz.PermMessagePin,
		Scope:      authz.ScopeGlobal,
		GrantedBy:  "admin",
		TTL:        time.Hour,
	})

	require.NotNil(t, g.ExpiresAt)
	assert.Equal(t, now.Add(time.Hour), *g.ExpiresAt)
	assert.NotEmpty(t, g.ID)
	assert.Equal(t, now, g.GrantedAt)

	open := f.mustGrant(t, engine.GrantRequest{
		Subject:    "bob",
		Permission: authz.PermMessagePin,
		Scope:      authz.ScopeGlobal,
		GrantedBy:  "admin",
	})
	assert.Nil(t, open.ExpiresAt, "zero TTL means no expiry")
}

func TestEngine_Grant_Audited(t *testing.T) {
	f := newFixture(t)
	g := f.mustGrant(t, engine.GrantRequest{
		Subject:    "alice",
		Permission: authz.PermMessagePin,
		Scope:      authz.ScopeChannel,
		ScopeID:    "c1",
		GrantedBy:  "admin",
	})

	f.flushAudit(t)
	events := f.sink.EventsOfType(audit.TypeGrant)
	require.Len(t, events, 1)
	assert.Equal(t, "alice", events[0].Subject)
	assert.Equal(t, "granted", events[0].Reason)
	assert.Equal(t, g.ID, events[0].Extra["grant_id"])
	assert.Equal(t, "channel", events[0].Extra["scope"])
	assert.Equal(t, "admin", events[0].Extra["granted_by"])
}

func TestEngine_Revoke(t *testing.T) {
	f := newFixture(t)
	f.mustGrant(t, engine.GrantRequest{
		Subject:    "alice",
		Permission: authz.PermMessagePin,
		Scope:      authz.ScopeGuild,
		ScopeID:    "g1",
		GrantedBy:  "admin",
	})

	cc := authz.CheckContext{GuildID: "g1"}
	decision, err := f.engine.Check(context.Background(), "alice", authz.PermMessagePin, cc)
	require.NoError(t, err)
	require.True(t, decision.Allowed())

	deleted, err := f.engine.Revoke(context.Background(), "alice", authz.PermMessagePin, authz.ScopeGuild, "g1", "admin")
	require.NoError(t, err)
	assert.True(t, deleted)

	// The cached allow must not outlive the revocation.
	decision, err = f.engine.Check(context.Background(), "alice", authz.PermMessagePin, cc)
	require.NoError(t, err)
	assert.False(t, decision.Allowed())
	assert.Equal(t, engine.ReasonDefaultDeny, decision.Reason)
}

func TestEngine_Revoke_NotFound(t *testing.T) {
	f := newFixture(t)

	deleted, err := f.engine.Revoke(context.Background(), "alice", authz.PermMessagePin, authz.ScopeGuild, "g1", "admin")
	require.NoError(t, err, "revoking a non-existent grant is a no-op")
	assert.False(t, deleted)

	f.flushAudit(t)
	events := f.sink.EventsOfType(audit.TypeRevoke)
	require.Len(t, events, 1)
	assert.Equal(t, "not_found", events[0].Reason)
}

func TestEngine_ListPermissions(t *testing.T) {
	f := newFixture(t)
	f.store.SetLevel("alice", "g1", authz.LevelHelper)
	f.mustGrant(t, engine.GrantRequest{
		Subject:    "alice",
		Permission: authz.PermMemberBan,
		Scope:      authz.ScopeGuild,
		ScopeID:    "g1",
		GrantedBy:  "admin",
	})
	f.mustGrant(t, engine.GrantRequest{
		Subject:    "alice",
		Permission: authz.PermGuildConfig,
		Scope:      authz.ScopeGuild,
		ScopeID:    "g2",
		GrantedBy:  "admin",
	})
	f.mustGrant(t, engine.GrantRequest{
		Subject:    "alice",
		Permission: authz.PermGrantManage,
		Scope:      authz.ScopeGlobal,
		GrantedBy:  "admin",
		TTL:        time.Minute,
	})
	f.clock.Advance(2 * time.Minute)

	perms, err := f.engine.ListPermissions(context.Background(), "alice", authz.CheckContext{GuildID: "g1"})
	require.NoError(t, err)

	// Helper level set plus the g1 grant; the g2 grant does not match the
	// context and the global grant has expired.
	assert.Equal(t, []authz.Permission{
		authz.PermMemberBan,
		authz.PermMessagePin,
		authz.PermMessageSend,
		authz.PermThreadManage,
	}, perms)
}

func TestEngine_CleanupExpired(t *testing.T) {
	f := newFixture(t)
	f.mustGrant(t, engine.GrantRequest{
		Subject:    "alice",
		Permission: authz.PermMessagePin,
		Scope:      authz.ScopeGlobal,
		GrantedBy:  "admin",
		TTL:        time.Minute,
	})
	f.mustGrant(t, engine.GrantRequest{
		Subject:    "bob",
		Permission: authz.PermMessagePin,
		Scope:      authz.ScopeGlobal,
		GrantedBy:  "admin",
		TTL:        time.Hour,
	})
	f.mustGrant(t, engine.GrantRequest{
		Subject:    "carol",
		Permission: authz.PermMessagePin,
		Scope:      authz.ScopeGlobal,
		GrantedBy:  "admin",
	})

	f.clock.Advance(2 * time.Minute)
	purged, err := f.engine.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
	assert.Len(t, f.store.Grants(), 2, "unexpired and open-ended grants survive")

	f.flushAudit(t)
	events := f.sink.EventsOfType(audit.TypeCleanup)
	require.Len(t, events, 1)
	assert.Equal(t, "system", events[0].Subject)
	assert.Equal(t, "expired_grants_purged", events[0].Reason)
	assert.Equal(t, 1, events[0].Extra["purged"])
}

func TestEngine_CleanupExpired_Empty(t *testing.T) {
	f := newFixture(t)

	purged, err := f.engine.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, purged)

	f.flushAudit(t)
	assert.Empty(t, f.sink.EventsOfType(audit.TypeCleanup), "nothing purged, nothing audited")
}

func TestEngine_CleanupExpired_PersistentFailure(t *testing.T) {
	f := newFixture(t)
	f.store.FailWith(oops.Code("STORE_UNAVAILABLE").Errorf("connection refused"))

	_, err := f.engine.CleanupExpired(context.Background())
	require.Error(t, err)
}

// End-to-end lifecycle: grant, use, expire, sweep.
func TestEngine_GrantLifecycle(t *testing.T) {
	f := newFixture(t)
	cc := authz.CheckContext{GuildID: "g1", ChannelID: "c9"}

	decision, err := f.engine.Check(context.Background(), "alice", authz.PermMessageModerate, cc)
	require.NoError(t, err)
	require.False(t, decision.Allowed())

	f.mustGrant(t, engine.GrantRequest{
		Subject:    "alice",
		Permission: authz.PermMessageModerate,
		Scope:      authz.ScopeChannel,
		ScopeID:    "c9",
		GrantedBy:  "admin",
		TTL:        30 * time.Minute,
	})

	decision, err = f.engine.Check(context.Background(), "alice", authz.PermMessageModerate, cc)
	require.NoError(t, err)
	assert.True(t, decision.Allowed())
	assert.Equal(t, engine.ReasonExplicitGrant, decision.Reason)

	f.clock.Advance(31 * time.Minute)
	decision, err = f.engine.Check(context.Background(), "alice", authz.PermMessageModerate, cc)
	require.NoError(t, err)
	assert.False(t, decision.Allowed())

	purged, err := f.engine.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
	assert.Empty(t, f.store.Grants())

	f.flushAudit(t)
	var types []audit.EventType
	for _, e := range f.sink.Events() {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, audit.TypeGrant)
	assert.Contains(t, types, audit.TypeCheck)
	assert.Contains(t, types, audit.TypeCleanup)
}
