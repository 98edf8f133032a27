// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Hallpass Contributors

package authz

import (
	"github.com/samber/oops"
)

// Scope is the dimension a grant is limited to. Scopes are compared for
// exact match against a check context, not hierarchically; ScopeGlobal is
// the only scope that matches every context.
type Scope int

// Scope constants, broadest first.
const (
	ScopeGlobal Scope = iota // global
	ScopeGuild               // guild
	ScopeChannel             // channel
	ScopeCategory            // category
	ScopeThread              // thread
)

var scopeStrings = [...]string{
	"global",
	"guild",
	"channel",
	"category",
	"thread",
}

func (s Scope) String() string {
	if s >= 0 && int(s) < len(scopeStrings) {
		return scopeStrings[s]
	}
	return "unknown"
}

// Valid reports whether s is a defined scope.
func (s Scope) Valid() bool {
	return s >= ScopeGlobal && s <= ScopeThread
}

// ParseScope converts the string form used in storage and CLI flags back
// to a Scope.
func ParseScope(raw string) (Scope, error) {
	for i, name := range scopeStrings {
		if name == raw {
			return Scope(i), nil
		}
	}
	return ScopeGlobal, oops.
		Code("UNKNOWN_SCOPE").
		With("scope", raw).
		Errorf("unknown scope %q", raw)
}
