// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Hallpass Contributors

package store

import "embed"

// Migrations holds the embedded SQL migration files, consumed by the
// migrate command through golang-migrate's iofs source.
//
//go:embed migrations/*.sql
var Migrations embed.FS
