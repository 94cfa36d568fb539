// Package migrations holds the schema history of the storefront database.
//
// Most steps are written in Go on top of the schema and backfill packages.
// Steps that are plain DDL live in sql/ as NNN_description.up.sql files, with
// an optional .down.sql that reverts them.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"slices"
	"time"

	"go.hackfix.me/harvest/db/migrator"
)

//go:embed sql/*.sql
var sqlFS embed.FS

// Option configures the migration set.
type Option func(*set)

// WithTimeNow sets the clock used by steps that need the current date, such
// as guessing the year of legacy delivery dates.
func WithTimeNow(timeNow func() time.Time) Option {
	return func(s *set) {
		s.timeNow = timeNow
	}
}

type set struct {
	timeNow func() time.Time
}

// All returns every unit of the storefront schema, sorted by version.
func All(opts ...Option) ([]migrator.Unit, error) {
	s := &set{timeNow: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	sqlDir, err := fs.Sub(sqlFS, "sql")
	if err != nil {
		return nil, fmt.Errorf("failed getting SQL migrations directory: %w", err)
	}
	sqlUnits, err := migrator.LoadSQL(sqlDir)
	if err != nil {
		return nil, err
	}

	units := slices.Concat(sqlUnits, s.catalog(), s.customers(), s.orders(), s.admin(), s.analytics())

	return migrator.Discover(units...)
}
