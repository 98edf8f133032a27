// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Hallpass Contributors

package engine

import (
	"context"

	"github.com/samber/oops"

	"github.com/hallpass/hallpass/internal/authz"
)

// Handler is a unit of work wrapped by Guard.
type Handler func(ctx context.Context) error

// ContextBuilder derives the check subject and scoping context from the
// caller's request context. It runs before the permission check; an
// error here aborts the guarded call without consulting the engine.
type ContextBuilder func(ctx context.Context) (subject string, cc authz.CheckContext, err error)

// Guard wraps next with a permission pre-check. On denial the handler is
// short-circuited with an ACCESS_DENIED error carrying the decision's
// reason code; external layers translate that into a user-facing
// message.
//
// This is the single integration point for command dispatchers: compose
// it around a handler instead of calling Check at every call site.
func Guard(e *Engine, perm authz.Permission, build ContextBuilder, next Handler) Handler {
	return func(ctx context.Context) error {
		subject, cc, err := build(ctx)
		if err != nil {
			return oops.Wrapf(err, "guard context build")
		}

		decision, err := e.Check(ctx, subject, perm, cc)
		if err != nil {
			return err
		}
		if !decision.Allowed() {
			return oops.
				Code("ACCESS_DENIED").
				With("subject", subject).
				With("permission", string(perm)).
				With("reason", decision.Reason).
				Errorf("permission denied")
		}

		return next(ctx)
	}
}

// IsDenied returns true if the error is an ACCESS_DENIED error produced
// by Guard.
func IsDenied(err error) bool {
	if err == nil {
		return false
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	return oopsErr.Code() == "ACCESS_DENIED"
}

// DenialReason extracts the decision reason code from a Guard denial, or
// "" if the error is not one.
func DenialReason(err error) string {
	if !IsDenied(err) {
		return ""
	}
	oopsErr, _ := oops.AsOops(err)
	if reason, ok := oopsErr.Context()["reason"].(string); ok {
		return reason
	}
	return ""
}
