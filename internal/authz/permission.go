// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Hallpass Contributors

package authz

// Permission is a stable, fine-grained capability identifier in
// "category:verb" form. Permissions are defined at compile time and are
// never instance-scoped; scoping happens through grants and contexts.
type Permission string

// Capabilities understood by the engine. The level table and explicit
// grants both reference these.
const (
	PermMessageSend     Permission = "message:send"
	PermMessagePin      Permission = "message:pin"
	PermMessageModerate Permission = "message:moderate"
	PermChannelManage   Permission = "channel:manage"
	PermCategoryManage  Permission = "category:manage"
	PermThreadManage    Permission = "thread:manage"
	PermMemberKick      Permission = "member:kick"
	PermMemberBan       Permission = "member:ban"
	PermGuildConfig     Permission = "guild:config"
	PermAuditView       Permission = "audit:view"
	PermGrantManage     Permission = "grant:manage"
	PermLevelAssign     Permission = "level:assign"
)

// registry lists every defined permission. Level patterns are matched
// against this set when enumerating a level's effective permissions.
var registry = []Permission{
	PermMessageSend,
	PermMessagePin,
	PermMessageModerate,
	PermChannelManage,
	PermCategoryManage,
	PermThreadManage,
	PermMemberKick,
	PermMemberBan,
	PermGuildConfig,
	PermAuditView,
	PermGrantManage,
	PermLevelAssign,
}

// Registry returns all defined permissions. The returned slice is a copy.
func Registry() []Permission {
	out := make([]Permission, len(registry))
	copy(out, registry)
	return out
}

// Known reports whether p is a defined permission. The engine accepts
// unknown permissions on the check path (they simply never match a level
// pattern unless explicitly granted), but administrative tooling uses
// Known to catch typos early.
func Known(p Permission) bool {
	for _, r := range registry {
		if r == p {
			return true
		}
	}
	return false
}
