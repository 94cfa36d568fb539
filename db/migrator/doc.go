// Package migrator applies versioned schema changes to an SQLite database.
//
// Features:
//   - Units are written in Go, or loaded from SQL files in an embedded
//     filesystem (`NNN_description.up.sql`, with an optional `.down.sql`)
//   - Units are applied in version order, each in its own transaction unless
//     declared otherwise, and the run stops at the first failure
//   - Applied versions are tracked in the `schema_migrations` table, written in
//     the same transaction as the unit's changes
//   - Gaps in the version sequence are allowed and reported
//   - The ledger of the previous migration tool can be imported on first run
package migrator
