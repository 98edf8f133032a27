// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Hallpass Contributors

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/hallpass/hallpass/internal/authz"
)

// DB is the subset of pgxpool.Pool the store uses. Tests substitute
// pgxmock for it.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresGrantStore implements GrantStore using PostgreSQL.
type PostgresGrantStore struct {
	db DB
}

// Compile-time check that PostgresGrantStore implements GrantStore.
var _ GrantStore = (*PostgresGrantStore)(nil)

// NewPostgresGrantStore creates a PostgresGrantStore backed by the given
// connection pool.
func NewPostgresGrantStore(db DB) *PostgresGrantStore {
	return &PostgresGrantStore{db: db}
}

// Connect opens a pgx pool for the given DSN and pings it with fibonacci
// backoff until it responds or the retry budget is exhausted.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("STORE_UNAVAILABLE").With("operation", "open pool").Wrap(err)
	}

	backoff := retry.WithMaxRetries(5, retry.NewFibonacci(200*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if pingErr := pool.Ping(ctx); pingErr != nil {
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("STORE_UNAVAILABLE").With("operation", "ping").Wrap(err)
	}
	return pool, nil
}

// grantColumns is the shared column list for SELECT and RETURNING clauses.
const grantColumns = `id, subject, permission, scope, scope_id, granted_by, granted_at, expires_at, conditions`

// scanGrant scans a row into a Grant.
func scanGrant(row pgx.Row) (authz.Grant, error) {
	var g authz.Grant
	var scope string
	var perm string
	var conditions []byte
	err := row.Scan(
		&g.ID, &g.Subject, &perm, &scope, &g.ScopeID,
		&g.GrantedBy, &g.GrantedAt, &g.ExpiresAt, &conditions,
	)
	if err != nil {
		return authz.Grant{}, fmt.Errorf("scanning grant row: %w", err)
	}
	g.Permission = authz.Permission(perm)
	g.Scope, err = authz.ParseScope(scope)
	if err != nil {
		return authz.Grant{}, fmt.Errorf("parsing stored scope: %w", err)
	}
	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &g.Conditions); err != nil {
			return authz.Grant{}, fmt.Errorf("decoding grant conditions: %w", err)
		}
	}
	return g, nil
}

// scanGrants scans multiple rows into a slice of Grant.
func scanGrants(rows pgx.Rows) ([]authz.Grant, error) {
	defer rows.Close()
	var grants []authz.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating grant rows: %w", err)
	}
	return grants, nil
}

// FindGrants returns all grants for (subject, permission), unfiltered by
// scope or expiry.
func (s *PostgresGrantStore) FindGrants(ctx context.Context, subject string, perm authz.Permission) ([]authz.Grant, error) {
	rows, err := s.db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM permission_grants WHERE subject = $1 AND permission = $2 ORDER BY granted_at`, grantColumns),
		subject, string(perm))
	if err != nil {
		return nil, oops.With("operation", "find grants").With("subject", subject).Wrap(err)
	}
	return scanGrants(rows)
}

// FindAllGrants returns every grant held by subject.
func (s *PostgresGrantStore) FindAllGrants(ctx context.Context, subject string) ([]authz.Grant, error) {
	rows, err := s.db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM permission_grants WHERE subject = $1 ORDER BY granted_at`, grantColumns),
		subject)
	if err != nil {
		return nil, oops.With("operation", "find all grants").With("subject", subject).Wrap(err)
	}
	return scanGrants(rows)
}

// Insert persists a new grant, generating a ULID for its ID.
func (s *PostgresGrantStore) Insert(ctx context.Context, g authz.Grant) (authz.Grant, error) {
	id := ulid.Make().String()

	var conditions []byte
	if len(g.Conditions) > 0 {
		var err error
		conditions, err = json.Marshal(g.Conditions)
		if err != nil {
			return authz.Grant{}, oops.Code("GRANT_INSERT_FAILED").With("subject", g.Subject).Wrap(err)
		}
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO permission_grants (id, subject, permission, scope, scope_id, granted_by, granted_at, expires_at, conditions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, id, g.Subject, string(g.Permission), g.Scope.String(), g.ScopeID,
		g.GrantedBy, g.GrantedAt, g.ExpiresAt, conditions)
	if err != nil {
		return authz.Grant{}, oops.Code("GRANT_INSERT_FAILED").
			With("subject", g.Subject).
			With("permission", string(g.Permission)).
			Wrap(err)
	}

	g.ID = id
	return g, nil
}

// Delete removes grants matching subject+permission+scope+scopeID.
func (s *PostgresGrantStore) Delete(ctx context.Context, subject string, perm authz.Permission, scope authz.Scope, scopeID string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM permission_grants
		WHERE subject = $1 AND permission = $2 AND scope = $3 AND scope_id = $4
	`, subject, string(perm), scope.String(), scopeID)
	if err != nil {
		return false, oops.Code("GRANT_DELETE_FAILED").
			With("subject", subject).
			With("permission", string(perm)).
			Wrap(err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteExpired removes grants whose expiry precedes the given instant
// and returns them.
func (s *PostgresGrantStore) DeleteExpired(ctx context.Context, before time.Time) ([]authz.Grant, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		DELETE FROM permission_grants
		WHERE expires_at IS NOT NULL AND expires_at < $1
		RETURNING %s
	`, grantColumns), before)
	if err != nil {
		return nil, oops.With("operation", "delete expired grants").Wrap(err)
	}
	return scanGrants(rows)
}

// ResolveLevel returns the subject's level, preferring a guild-scoped row
// over the global row. Global rows have guild_id NULL and carry the
// system ranks.
func (s *PostgresGrantStore) ResolveLevel(ctx context.Context, subject, guildID string) (authz.Level, bool, error) {
	var level int
	err := s.db.QueryRow(ctx, `
		SELECT level FROM subject_levels
		WHERE subject = $1 AND (guild_id = $2 OR guild_id IS NULL)
		ORDER BY guild_id NULLS LAST
		LIMIT 1
	`, subject, guildID).Scan(&level)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, oops.With("operation", "resolve level").With("subject", subject).Wrap(err)
	}
	return authz.Level(level), true, nil
}
