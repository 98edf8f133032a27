// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Hallpass Contributors

// Package engine implements the hallpass permission engine: check,
// grant, revoke, and cleanup over a grant store, a decision cache, the
// legacy level table, and an audit sink.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/hallpass/hallpass/internal/authz"
	"github.com/hallpass/hallpass/internal/authz/audit"
	"github.com/hallpass/hallpass/internal/authz/store"
)

// DefaultStoreTimeout bounds the grant store query on the check path.
// On timeout the check fails closed rather than hang.
const DefaultStoreTimeout = 3 * time.Second

// Engine evaluates permission checks and manages grant lifecycle. All
// methods are safe for concurrent invocation, for different subjects and
// for the same one. No locks are held across I/O.
type Engine struct {
	store        store.GrantStore
	cache        *DecisionCache
	audit        *audit.Logger
	levels       *authz.LevelTable
	clock        func() time.Time
	storeTimeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock substitutes the time source used for expiry decisions and
// audit timestamps, for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithStoreTimeout bounds grant store queries on the check path.
func WithStoreTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.storeTimeout = d
	}
}

// NewEngine creates an Engine. The cache may be nil, in which case every
// check takes the slow path; store, auditLogger, and levels are required.
func NewEngine(s store.GrantStore, cache *DecisionCache, auditLogger *audit.Logger, levels *authz.LevelTable, opts ...Option) *Engine {
	e := &Engine{
		store:        s,
		cache:        cache,
		audit:        auditLogger,
		levels:       levels,
		clock:        time.Now,
		storeTimeout: DefaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Check decides whether subject may exercise perm in the given context.
//
// Infrastructure failures never surface as errors here: the check fails
// closed with reason "store_error" and the failure is audited. The only
// error returns are malformed input and a cancelled context.
func (e *Engine) Check(ctx context.Context, subject string, perm authz.Permission, cc authz.CheckContext) (Decision, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return Decision{}, oops.Wrapf(err, "context cancelled before check")
	}
	if strings.TrimSpace(subject) == "" || perm == "" {
		return Decision{}, oops.
			Code("INVALID_REQUEST").
			Errorf("subject and permission must be non-empty")
	}

	// Step 1: cache lookup.
	if allowed, found := e.cacheGet(subject, perm, cc); found {
		recordCacheEvent(true)
		decision := newDecision(allowed, ReasonCacheHit)
		e.auditCheck(ctx, subject, perm, cc, decision)
		recordCheck(time.Since(start), decision)
		return decision, nil
	}
	recordCacheEvent(false)

	// Step 2: explicit grants for (subject, permission), bounded by the
	// store timeout. Not yet scope-filtered.
	qctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	grants, err := e.store.FindGrants(qctx, subject, perm)
	cancel()
	if err != nil {
		return e.failClosed(ctx, subject, perm, cc, start, err), nil
	}

	// Step 3: first valid, unexpired grant wins. Expired grants are
	// treated as absent without touching the store (lazy expiry), and no
	// specificity or recency ordering is applied: any match suffices.
	now := e.clock()
	for _, g := range grants {
		if g.Expired(now) {
			continue
		}
		if g.Matches(cc) {
			decision := newDecision(true, ReasonExplicitGrant)
			e.cacheSet(subject, perm, cc, decision)
			e.auditCheck(ctx, subject, perm, cc, decision)
			recordCheck(time.Since(start), decision)
			return decision, nil
		}
	}

	// Step 4: legacy level fallback for the context's guild.
	qctx, cancel = context.WithTimeout(ctx, e.storeTimeout)
	level, found, err := e.store.ResolveLevel(qctx, subject, cc.GuildID)
	cancel()
	if err != nil {
		return e.failClosed(ctx, subject, perm, cc, start, err), nil
	}

	// Step 5: no level resolvable means default deny.
	var decision Decision
	if found {
		decision = newDecision(e.levels.Allows(level, perm), levelReason(level))
	} else {
		decision = newDecision(false, ReasonDefaultDeny)
	}

	// Steps 6-7: cache the result, then audit it.
	e.cacheSet(subject, perm, cc, decision)
	e.auditCheck(ctx, subject, perm, cc, decision)
	recordCheck(time.Since(start), decision)
	return decision, nil
}

// GrantRequest carries the parameters of an explicit grant operation.
type GrantRequest struct {
	Subject    string
	Permission authz.Permission
	Scope      authz.Scope
	ScopeID    string
	GrantedBy  string

	// TTL of zero means the grant never expires.
	TTL        time.Duration
	Conditions map[string]string
}

// validate rejects malformed grant parameters before they reach the
// store.
func (r GrantRequest) validate() error {
	if strings.TrimSpace(r.Subject) == "" {
		return oops.Code("INVALID_GRANT").Errorf("grant subject must be non-empty")
	}
	if r.Permission == "" {
		return oops.Code("INVALID_GRANT").Errorf("grant permission must be non-empty")
	}
	if strings.TrimSpace(r.GrantedBy) == "" {
		return oops.Code("INVALID_GRANT").Errorf("grantor must be non-empty")
	}
	if !r.Scope.Valid() {
		return oops.Code("UNKNOWN_SCOPE").With("scope", int(r.Scope)).Errorf("unknown scope")
	}
	if r.Scope == authz.ScopeGlobal && r.ScopeID != "" {
		return oops.
			Code("SCOPE_ID_FORBIDDEN").
			With("scope_id", r.ScopeID).
			Errorf("global grants must not carry a scope id")
	}
	if r.Scope != authz.ScopeGlobal && r.ScopeID == "" {
		return oops.
			Code("SCOPE_ID_REQUIRED").
			With("scope", r.Scope.String()).
			Errorf("%s grants require a scope id", r.Scope)
	}
	if r.TTL < 0 {
		return oops.Code("INVALID_GRANT").With("ttl", r.TTL.String()).Errorf("grant ttl must not be negative")
	}
	return nil
}

// Grant persists an explicit grant and invalidates the subject's cached
// decisions before returning, so a check issued after Grant returns
// observes the new state. Store failures propagate: granting is an
// administrative action expected to succeed or be retried by the caller.
func (e *Engine) Grant(ctx context.Context, req GrantRequest) (authz.Grant, error) {
	if err := req.validate(); err != nil {
		return authz.Grant{}, err
	}

	now := e.clock()
	g := authz.Grant{
		Subject:    req.Subject,
		Permission: req.Permission,
		Scope:      req.Scope,
		ScopeID:    req.ScopeID,
		GrantedBy:  req.GrantedBy,
		GrantedAt:  now,
		Conditions: req.Conditions,
	}
	if req.TTL > 0 {
		expiresAt := now.Add(req.TTL)
		g.ExpiresAt = &expiresAt
	}

	created, err := e.store.Insert(ctx, g)
	if err != nil {
		return authz.Grant{}, oops.
			With("subject", req.Subject).
			With("permission", string(req.Permission)).
			Wrap(err)
	}

	e.invalidate(req.Subject)

	event := audit.NewEvent(audit.TypeGrant, req.Subject, req.Permission, now).
		WithExtra(map[string]any{
			"grant_id":   created.ID,
			"scope":      req.Scope.String(),
			"scope_id":   req.ScopeID,
			"granted_by": req.GrantedBy,
			"expires_at": created.ExpiresAt,
		})
	event.Reason = "granted"
	e.log(ctx, event)

	return created, nil
}

// Revoke deletes the grants matching subject+permission+scope+scopeID
// and invalidates the subject's cached decisions. Returns whether
// anything was deleted; revoking a non-existent grant is a no-op, not an
// error.
func (e *Engine) Revoke(ctx context.Context, subject string, perm authz.Permission, scope authz.Scope, scopeID, revokedBy string) (bool, error) {
	deleted, err := e.store.Delete(ctx, subject, perm, scope, scopeID)
	if err != nil {
		return false, oops.
			With("subject", subject).
			With("permission", string(perm)).
			Wrap(err)
	}

	if deleted {
		e.invalidate(subject)
	}

	reason := "revoked"
	if !deleted {
		reason = "not_found"
	}
	event := audit.NewEvent(audit.TypeRevoke, subject, perm, e.clock()).
		WithExtra(map[string]any{
			"scope":      scope.String(),
			"scope_id":   scopeID,
			"revoked_by": revokedBy,
			"deleted":    deleted,
		})
	event.Reason = reason
	e.log(ctx, event)

	return deleted, nil
}

// ListPermissions returns the union of permissions reachable through
// valid, unexpired grants matching the context plus the subject's
// level-mapped set. Introspection only; not on the check hot path.
func (e *Engine) ListPermissions(ctx context.Context, subject string, cc authz.CheckContext) ([]authz.Permission, error) {
	grants, err := e.store.FindAllGrants(ctx, subject)
	if err != nil {
		return nil, oops.With("subject", subject).Wrap(err)
	}

	set := make(map[authz.Permission]struct{})
	now := e.clock()
	for _, g := range grants {
		if g.Expired(now) || !g.Matches(cc) {
			continue
		}
		set[g.Permission] = struct{}{}
	}

	level, found, err := e.store.ResolveLevel(ctx, subject, cc.GuildID)
	if err != nil {
		return nil, oops.With("subject", subject).Wrap(err)
	}
	if found {
		for _, p := range e.levels.PermissionsFor(level) {
			set[p] = struct{}{}
		}
	}

	out := make([]authz.Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// CleanupExpired physically removes expired grants, invalidates cached
// decisions for the affected subjects, and emits a single cleanup audit
// event with the count. Transient store failures are retried with
// backoff; persistent ones propagate.
func (e *Engine) CleanupExpired(ctx context.Context) (int, error) {
	var deleted []authz.Grant

	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(100*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var delErr error
		deleted, delErr = e.store.DeleteExpired(ctx, e.clock())
		if delErr != nil && store.IsUnavailable(delErr) {
			return retry.RetryableError(delErr)
		}
		return delErr
	})
	if err != nil {
		return 0, oops.With("operation", "delete expired grants").Wrap(err)
	}

	if len(deleted) == 0 {
		return 0, nil
	}

	subjects := make(map[string]struct{}, len(deleted))
	for _, g := range deleted {
		subjects[g.Subject] = struct{}{}
	}
	for subject := range subjects {
		e.invalidate(subject)
	}

	event := audit.NewEvent(audit.TypeCleanup, "system", "", e.clock()).
		WithExtra(map[string]any{
			"purged":   len(deleted),
			"subjects": len(subjects),
		})
	event.Reason = "expired_grants_purged"
	e.log(ctx, event)
	recordSweep(len(deleted))

	return len(deleted), nil
}

// failClosed builds the store_error denial, audits the failure, and logs
// it. Decisions derived from a failing store are never cached.
func (e *Engine) failClosed(ctx context.Context, subject string, perm authz.Permission, cc authz.CheckContext, start time.Time, cause error) Decision {
	decision := newDecision(false, ReasonStoreError)

	slog.WarnContext(ctx, "permission check failing closed",
		"subject", subject,
		"permission", string(perm),
		"error", cause,
	)

	event := audit.NewEvent(audit.TypeError, subject, perm, e.clock()).
		WithContext(cc).
		WithResult(false, ReasonStoreError).
		WithExtra(map[string]any{"error": cause.Error()})
	e.log(ctx, event)

	recordCheck(time.Since(start), decision)
	return decision
}

// auditCheck emits the check event carrying the final outcome.
func (e *Engine) auditCheck(ctx context.Context, subject string, perm authz.Permission, cc authz.CheckContext, d Decision) {
	event := audit.NewEvent(audit.TypeCheck, subject, perm, e.clock()).
		WithContext(cc).
		WithResult(d.Allowed(), d.Reason)
	e.log(ctx, event)
}

// log writes an audit event; failures are logged, never escalated. A
// decision must not be invalidated by an inability to audit it.
func (e *Engine) log(ctx context.Context, event audit.Event) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event); err != nil {
		slog.WarnContext(ctx, "audit log failed", "error", err, "type", event.Type)
	}
}

// cacheGet treats a nil cache as a permanent miss: the slow path is the
// fail-open direction, never "permit".
func (e *Engine) cacheGet(subject string, perm authz.Permission, cc authz.CheckContext) (allowed, found bool) {
	if e.cache == nil {
		return false, false
	}
	return e.cache.Get(subject, perm, cc)
}

func (e *Engine) cacheSet(subject string, perm authz.Permission, cc authz.CheckContext, d Decision) {
	if e.cache == nil {
		return
	}
	e.cache.Set(subject, perm, cc, d.Allowed())
}

func (e *Engine) invalidate(subject string) {
	if e.cache == nil {
		return
	}
	e.cache.InvalidateSubject(subject)
}

// levelReason renders the reason code for a level-derived decision.
func levelReason(l authz.Level) string {
	return fmt.Sprintf("level_%d", int(l))
}
