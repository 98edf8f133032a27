// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Hallpass Contributors

// Package authz defines the data model for the hallpass authorization
// engine: permissions, scopes, check contexts, grants, and the legacy
// level table.
//
// Subjects are opaque user identifiers assigned by the chat platform
// (snowflake-style strings). Authentication is out of scope: callers are
// expected to have established subject identity before consulting the
// engine.
//
// Two authorization models are layered:
//   - explicit grants: fine-grained, scope-limited, optionally time-bounded
//     records owned by the grant store
//   - levels: a legacy numeric rank (0..9) mapped to a fixed permission set
//
// Any valid, unexpired grant is sufficient to permit; the level table is
// only consulted when no grant matches. Everything denies by default.
package authz
