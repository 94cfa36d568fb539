package models

import (
	"context"
	"database/sql"
	"fmt"

	"go.hackfix.me/harvest/db/types"
)

// filterCount returns the number of rows of table that match filter. The
// filter's limit is ignored.
func filterCount(ctx context.Context, d types.Querier, table string, filter *types.Filter) (int, error) {
	var where *types.Filter
	if filter != nil {
		where = &types.Filter{Where: filter.Where, Args: filter.Args}
	}
	clause, args := where.Clause("")

	var count int
	err := d.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM "%s" %s`, table, clause), args...).
		Scan(&count)
	if err != nil {
		return 0, types.LoadError{ModelName: table + " count", Err: err}
	}

	return count, nil
}

func lastInsertID(result sql.Result) (uint64, error) {
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	if id < 0 {
		return 0, fmt.Errorf("invalid negative ID from database: %d", id)
	}

	return uint64(id), nil
}
