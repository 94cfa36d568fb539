package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.hackfix.me/harvest/db/types"
)

// Column describes a table column. It's used both to read live metadata and
// to declare columns that should exist.
type Column struct {
	Table   string
	Name    string
	Type    string
	Default sql.Null[string] // raw SQL expression, e.g. 'user' or CURRENT_TIMESTAMP
	NotNull bool
	// PrimaryKey is only reported by introspection, SQLite can't add primary
	// key columns to existing tables.
	PrimaryKey bool
}

// Decl returns the column declaration used by ALTER TABLE ... ADD COLUMN.
func (c Column) Decl() string {
	var sb strings.Builder
	sb.WriteString(quoteIdent(c.Name))
	if c.Type != "" {
		sb.WriteString(" ")
		sb.WriteString(c.Type)
	}
	if c.NotNull {
		sb.WriteString(" NOT NULL")
	}
	if c.Default.Valid {
		sb.WriteString(" DEFAULT ")
		sb.WriteString(c.Default.V)
	}

	return sb.String()
}

// Default returns a valid sql.Null wrapping a raw SQL default expression.
func Default(expr string) sql.Null[string] {
	return sql.Null[string]{V: expr, Valid: true}
}

// Columns returns the live column metadata of a table, in declaration order.
// The result is empty if the table doesn't exist.
func Columns(ctx context.Context, q types.Querier, table string) ([]Column, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT name, type, "notnull", dflt_value, pk FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("failed reading columns of table '%s': %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			col     = Column{Table: table}
			notNull int
			pk      int
		)
		if err = rows.Scan(&col.Name, &col.Type, &notNull, &col.Default, &pk); err != nil {
			return nil, types.ScanError{ModelName: "column", Err: err}
		}
		col.NotNull = notNull == 1
		col.PrimaryKey = pk > 0
		cols = append(cols, col)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading columns of table '%s': %w", table, err)
	}

	return cols, nil
}

// HasColumn reports whether the table has a column with the given name.
// Column names are compared case-insensitively, like SQLite does.
func HasColumn(ctx context.Context, q types.Querier, table, column string) (bool, error) {
	cols, err := Columns(ctx, q, table)
	if err != nil {
		return false, err
	}
	for _, c := range cols {
		if strings.EqualFold(c.Name, column) {
			return true, nil
		}
	}

	return false, nil
}

// HasTable reports whether a table exists in the main schema.
func HasTable(ctx context.Context, q types.Querier, table string) (bool, error) {
	return hasObject(ctx, q, "table", table)
}

// HasIndex reports whether an index exists in the main schema.
func HasIndex(ctx context.Context, q types.Querier, index string) (bool, error) {
	return hasObject(ctx, q, "index", index)
}

func hasObject(ctx context.Context, q types.Querier, typ, name string) (bool, error) {
	var found int
	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM sqlite_master WHERE type = ? AND name = ? COLLATE NOCASE`,
		typ, name).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed looking up %s '%s': %w", typ, name, err)
	}

	return true, nil
}

// Tables returns the names of all user tables in the main schema, sorted by
// name. Internal SQLite tables are excluded.
func Tables(ctx context.Context, q types.Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite\_%' ESCAPE '\'
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed listing tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			return nil, types.ScanError{ModelName: "table", Err: err}
		}
		tables = append(tables, name)
	}

	return tables, rows.Err()
}

// quoteIdent quotes an SQL identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
