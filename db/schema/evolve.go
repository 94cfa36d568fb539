package schema

import (
	"context"
	"fmt"
	"strings"

	"go.hackfix.me/harvest/db/types"
)

// EnsureColumn adds col to its table if the table doesn't have a column with
// that name yet. It reports whether the column was added. Calling it again
// with the same arguments issues no statement.
func EnsureColumn(ctx context.Context, q types.Querier, col Column) (added bool, err error) {
	exists, err := HasColumn(ctx, q, col.Table, col.Name)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	stmt := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s`, quoteIdent(col.Table), col.Decl())
	if _, err = q.ExecContext(ctx, stmt); err != nil {
		return false, conflictOr(ctx, err, "column", col.Table+"."+col.Name,
			func(ctx context.Context) (bool, error) {
				return HasColumn(ctx, q, col.Table, col.Name)
			})
	}

	return true, nil
}

// EnsureColumns calls EnsureColumn for each column, and returns the names of
// the columns that were added.
func EnsureColumns(ctx context.Context, q types.Querier, cols ...Column) ([]string, error) {
	var added []string
	for _, col := range cols {
		ok, err := EnsureColumn(ctx, q, col)
		if err != nil {
			return added, err
		}
		if ok {
			added = append(added, col.Name)
		}
	}

	return added, nil
}

// EnsureTable creates a table with the given column and constraint
// definitions if it doesn't exist. It reports whether the table was created.
// An existing table is left untouched, even if its definition differs.
func EnsureTable(ctx context.Context, q types.Querier, name, definition string) (created bool, err error) {
	exists, err := HasTable(ctx, q, name)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	if err = createTable(ctx, q, name, definition); err != nil {
		return false, conflictOr(ctx, err, "table", name,
			func(ctx context.Context) (bool, error) {
				return HasTable(ctx, q, name)
			})
	}

	return true, nil
}

// Index describes a table index.
type Index struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
}

// EnsureIndex creates the index if it doesn't exist, and reports whether it
// was created.
func EnsureIndex(ctx context.Context, q types.Querier, idx Index) (created bool, err error) {
	exists, err := HasIndex(ctx, q, idx.Name)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	cols := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		cols[i] = quoteIdent(c)
	}
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	stmt := fmt.Sprintf(`CREATE %sINDEX %s ON %s (%s)`,
		unique, quoteIdent(idx.Name), quoteIdent(idx.Table), strings.Join(cols, ", "))
	if _, err = q.ExecContext(ctx, stmt); err != nil {
		return false, conflictOr(ctx, err, "index", idx.Name,
			func(ctx context.Context) (bool, error) {
				return HasIndex(ctx, q, idx.Name)
			})
	}

	return true, nil
}

// RenameColumn renames a column, unless the table already has a column named
// to. It reports whether the column was renamed. It's an error if neither
// column exists.
func RenameColumn(ctx context.Context, q types.Querier, table, from, to string) (renamed bool, err error) {
	hasTo, err := HasColumn(ctx, q, table, to)
	if err != nil {
		return false, err
	}
	if hasTo {
		return false, nil
	}
	hasFrom, err := HasColumn(ctx, q, table, from)
	if err != nil {
		return false, err
	}
	if !hasFrom {
		return false, fmt.Errorf("table '%s' has neither column '%s' nor '%s'", table, from, to)
	}

	stmt := fmt.Sprintf(`ALTER TABLE %s RENAME COLUMN %s TO %s`,
		quoteIdent(table), quoteIdent(from), quoteIdent(to))
	if _, err = q.ExecContext(ctx, stmt); err != nil {
		return false, fmt.Errorf("failed renaming column %s.%s: %w", table, from, err)
	}

	return true, nil
}

// DropColumn removes a column if it exists, and reports whether it was
// removed. Columns that are part of a key, index or constraint can't be
// dropped this way and need a table rebuild.
func DropColumn(ctx context.Context, q types.Querier, table, column string) (dropped bool, err error) {
	exists, err := HasColumn(ctx, q, table, column)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}

	stmt := fmt.Sprintf(`ALTER TABLE %s DROP COLUMN %s`, quoteIdent(table), quoteIdent(column))
	if _, err = q.ExecContext(ctx, stmt); err != nil {
		return false, fmt.Errorf("failed dropping column %s.%s: %w", table, column, err)
	}

	return true, nil
}

func createTable(ctx context.Context, q types.Querier, name, definition string) error {
	stmt := fmt.Sprintf("CREATE TABLE %s (\n%s\n)", quoteIdent(name), strings.TrimSpace(definition))
	_, err := q.ExecContext(ctx, stmt)
	return err //nolint:wrapcheck // This is wrapped by the caller.
}

// conflictOr inspects the schema again after a failed additive statement. If
// the object now exists, the earlier check missed it, and a ConflictError is
// returned. Otherwise the original error is wrapped.
func conflictOr(
	ctx context.Context, err error, kind, name string,
	exists func(context.Context) (bool, error),
) error {
	if ok, cerr := exists(ctx); cerr == nil && ok {
		return &ConflictError{Kind: kind, Name: name, Err: err}
	}

	return fmt.Errorf("failed creating %s '%s': %w", kind, name, err)
}
