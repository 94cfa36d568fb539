package queries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.hackfix.me/harvest/db/schema"
	"go.hackfix.me/harvest/db/types"
)

// SchemaVersion returns the highest applied migration version. If the returned
// sql.Null value is invalid, no migration has been applied to the database.
func SchemaVersion(ctx context.Context, d types.Querier) (sql.Null[int], error) {
	var version sql.Null[int]
	ok, err := schema.HasTable(ctx, d, "schema_migrations")
	if err != nil || !ok {
		return version, err
	}

	err = d.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).
		Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return version, fmt.Errorf("failed reading schema version: %w", err)
	}

	return version, nil
}

// RowCounts returns the number of rows of every table that contains store
// data. Tables used for bookkeeping are excluded.
func RowCounts(ctx context.Context, d types.Querier) (map[string]int, error) {
	tables, err := schema.Tables(ctx, d)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(tables))
	for _, table := range tables {
		if internalTable(table) {
			continue
		}
		var n int
		err = d.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, table)).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("failed counting %s rows: %w", table, err)
		}
		counts[table] = n
	}

	return counts, nil
}

func internalTable(name string) bool {
	return strings.HasPrefix(name, "_") ||
		name == "schema_migrations" || name == "migrations"
}
