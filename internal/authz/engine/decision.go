// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Hallpass Contributors

package engine

// Reason codes attached to every decision. External layers translate
// these into user-facing messages; the engine only ever emits this set.
const (
	ReasonCacheHit      = "cache_hit"
	ReasonExplicitGrant = "explicit_grant"
	ReasonDefaultDeny   = "default_deny"
	ReasonStoreError    = "store_error"
	// Level-based decisions use "level_<N>" built by levelReason.
)

// Decision is the outcome of a permission check. The allowed field is
// unexported so a decision cannot be constructed inconsistent with its
// reason path.
type Decision struct {
	allowed bool
	Reason  string
}

func newDecision(allowed bool, reason string) Decision {
	return Decision{allowed: allowed, Reason: reason}
}

// Allowed reports whether the check permitted the action.
func (d Decision) Allowed() bool {
	return d.allowed
}
