// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Hallpass Contributors

package authz

import "time"

// Grant is the unit of explicit authorization: a subject holds a
// permission within a scope, optionally until an expiry instant.
//
// Grants are owned by the grant store. The engine never mutates a grant
// in place; revocation deletes it.
type Grant struct {
	// ID is assigned by the store on insert (ULID).
	ID         string
	Subject    string
	Permission Permission
	Scope      Scope

	// ScopeID names the guild/channel/category/thread the grant is
	// limited to. Empty exactly when Scope is ScopeGlobal.
	ScopeID string

	GrantedBy string
	GrantedAt time.Time

	// ExpiresAt is nil for open-ended grants.
	ExpiresAt *time.Time

	// Conditions are matched by equality against CheckContext.Extra.
	// A grant with conditions only applies when every key is present
	// in the context with the same value.
	Conditions map[string]string
}

// Expired reports whether the grant has passed its expiry at the given
// instant. Open-ended grants never expire.
func (g Grant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && now.After(*g.ExpiresAt)
}

// Matches reports whether the grant applies to the given context:
// ScopeGlobal applies everywhere, any other scope requires the context's
// value for that dimension to equal the grant's scope ID. An empty
// context dimension never matches. Conditions, if present, must all be
// satisfied by the context's extra attributes.
func (g Grant) Matches(cc CheckContext) bool {
	if g.Scope != ScopeGlobal {
		id := cc.IDForScope(g.Scope)
		if id == "" || id != g.ScopeID {
			return false
		}
	}
	for k, want := range g.Conditions {
		if cc.Extra[k] != want {
			return false
		}
	}
	return true
}
