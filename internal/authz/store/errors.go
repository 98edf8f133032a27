// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Hallpass Contributors

package store

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
)

// IsNotFound returns true if the error is a GRANT_NOT_FOUND error from
// the grant store.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	return oopsErr.Code() == "GRANT_NOT_FOUND"
}

// IsUnavailable classifies an error as a transient infrastructure
// failure: connection-class PostgreSQL errors, dial failures, timeouts.
// Callers treat these as retryable; the engine's check path fails closed
// on them.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsConnectionException(pgErr.Code) ||
			pgerrcode.IsOperatorIntervention(pgErr.Code) ||
			pgerrcode.IsInsufficientResources(pgErr.Code)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	if oopsErr, ok := oops.AsOops(err); ok {
		return oopsErr.Code() == "STORE_UNAVAILABLE"
	}
	return false
}
