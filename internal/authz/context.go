// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Hallpass Contributors

package authz

import (
	"sort"
	"strings"
)

// CheckContext carries the concrete scoping values of a single check
// request. It is built by the caller per request, never persisted by the
// engine, and treated as immutable once constructed.
//
// All fields are optional; an empty dimension simply never matches a
// grant scoped to that dimension.
type CheckContext struct {
	GuildID      string
	ChannelID    string
	CategoryID   string
	ThreadID     string
	TargetUserID string
	TargetRoleID string

	// Extra holds open-ended attributes matched against grant conditions
	// by simple equality. No expression evaluation happens here.
	Extra map[string]string
}

// IDForScope returns the context value along the given scope dimension.
// ScopeGlobal has no dimension and returns "".
func (cc CheckContext) IDForScope(s Scope) string {
	switch s {
	case ScopeGuild:
		return cc.GuildID
	case ScopeChannel:
		return cc.ChannelID
	case ScopeCategory:
		return cc.CategoryID
	case ScopeThread:
		return cc.ThreadID
	default:
		return ""
	}
}

// fingerprint field separator; never appears in platform identifiers.
const fpSep = "\x1f"

// Fingerprint returns a stable serialization of the context for cache
// keying. Two contexts with identical fields produce identical
// fingerprints regardless of Extra map iteration order.
func (cc CheckContext) Fingerprint() string {
	var b strings.Builder
	b.WriteString(cc.GuildID)
	b.WriteString(fpSep)
	b.WriteString(cc.ChannelID)
	b.WriteString(fpSep)
	b.WriteString(cc.CategoryID)
	b.WriteString(fpSep)
	b.WriteString(cc.ThreadID)
	b.WriteString(fpSep)
	b.WriteString(cc.TargetUserID)
	b.WriteString(fpSep)
	b.WriteString(cc.TargetRoleID)

	if len(cc.Extra) > 0 {
		keys := make([]string, 0, len(cc.Extra))
		for k := range cc.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(fpSep)
			b.WriteString(k)
			b.WriteString("=")
			b.WriteString(cc.Extra[k])
		}
	}
	return b.String()
}

// Snapshot returns a loggable view of the context with empty dimensions
// omitted. Used for audit event context snapshots.
func (cc CheckContext) Snapshot() map[string]any {
	snap := make(map[string]any)
	put := func(key, val string) {
		if val != "" {
			snap[key] = val
		}
	}
	put("guild_id", cc.GuildID)
	put("channel_id", cc.ChannelID)
	put("category_id", cc.CategoryID)
	put("thread_id", cc.ThreadID)
	put("target_user_id", cc.TargetUserID)
	put("target_role_id", cc.TargetRoleID)
	if len(cc.Extra) > 0 {
		extra := make(map[string]string, len(cc.Extra))
		for k, v := range cc.Extra {
			extra[k] = v
		}
		snap["extra"] = extra
	}
	return snap
}
