package types

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/glebarez/go-sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterClause(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		filter    *Filter
		orderBy   string
		expClause string
		expArgs   []any
	}{
		{name: "ok/nil", expClause: "WHERE 1=1"},
		{
			name:      "ok/order",
			filter:    NewFilter("p.category = ?", []any{"fruit"}),
			orderBy:   "p.id ASC",
			expClause: "WHERE p.category = ? ORDER BY p.id ASC",
			expArgs:   []any{"fruit"},
		},
		{
			name: "ok/and_limit",
			filter: (&Filter{Where: "a = ?", Args: []any{1}, Limit: 10}).
				And(&Filter{Where: "b = ? OR c = ?", Args: []any{2, 3}, Limit: 5}),
			expClause: "WHERE (a = ?) AND (b = ? OR c = ?) LIMIT 5",
			expArgs:   []any{1, 2, 3},
		},
		{
			name:      "ok/and_nil",
			filter:    NewFilter("deleted_at IS NULL", nil).And(nil),
			expClause: "WHERE deleted_at IS NULL",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			clause, args := tc.filter.Clause(tc.orderBy)
			assert.Equal(t, tc.expClause, clause)
			assert.Equal(t, tc.expArgs, args)
		})
	}
}

func TestErr(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d, err := sql.Open("sqlite", ":memory:?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	d.SetMaxOpenConns(1)

	_, err = d.ExecContext(ctx, `
		CREATE TABLE categories (id INTEGER PRIMARY KEY, name TEXT NOT NULL UNIQUE);
		CREATE TABLE products (
			id INTEGER PRIMARY KEY,
			category_id INTEGER REFERENCES categories (id),
			price REAL CHECK (price >= 0)
		);
		INSERT INTO categories (id, name) VALUES (1, 'fruit');`)
	require.NoError(t, err)

	_, err = d.ExecContext(ctx, `INSERT INTO categories (name) VALUES ('fruit')`)
	var dupErr *DuplicateError
	require.ErrorAs(t, Err("category", "name 'fruit'", err), &dupErr)
	assert.EqualError(t, dupErr, "category with name 'fruit' already exists")

	_, err = d.ExecContext(ctx, `INSERT INTO products (category_id, price) VALUES (9, 1)`)
	var refErr *ReferenceError
	require.ErrorAs(t, Err("product", "category 9", err), &refErr)
	assert.EqualError(t, refErr, "product with category 9 references a missing record")

	_, err = d.ExecContext(ctx, `INSERT INTO categories (name) VALUES (NULL)`)
	var cErr *ConstraintError
	require.ErrorAs(t, Err("category", "no name", err), &cErr)
	assert.Equal(t, "NOT NULL", cErr.Kind)

	_, err = d.ExecContext(ctx, `INSERT INTO products (category_id, price) VALUES (1, -2)`)
	require.ErrorAs(t, Err("product", "price -2", err), &cErr)
	assert.Equal(t, "CHECK", cErr.Kind)

	plain := errors.New("disk I/O error")
	assert.Equal(t, plain, Err("product", "x", plain))
}
