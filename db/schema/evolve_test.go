package schema_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/harvest/db/dbtest"
	"go.hackfix.me/harvest/db/schema"
	"go.hackfix.me/harvest/db/types"
)

// countingQuerier records the statements passed to ExecContext.
type countingQuerier struct {
	types.Querier
	execs []string
}

func (c *countingQuerier) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	c.execs = append(c.execs, query)
	return c.Querier.ExecContext(ctx, query, args...)
}

func TestEnsureColumn(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		col      schema.Column
		expAdded bool
		expErr   string
	}{
		{
			name:     "ok/added",
			col:      schema.Column{Table: "users", Name: "phone", Type: "TEXT"},
			expAdded: true,
		},
		{
			name: "ok/added_with_default",
			col: schema.Column{
				Table: "users", Name: "role", Type: "TEXT",
				NotNull: true, Default: schema.Default("'user'"),
			},
			expAdded: true,
		},
		{
			name: "ok/exists",
			col:  schema.Column{Table: "users", Name: "email", Type: "TEXT"},
		},
		{
			name: "ok/exists_different_case",
			col:  schema.Column{Table: "users", Name: "EMAIL", Type: "TEXT"},
		},
		{
			name:   "err/missing_table",
			col:    schema.Column{Table: "nope", Name: "phone", Type: "TEXT"},
			expErr: "no such table",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			d := dbtest.Open(t)
			dbtest.Exec(t, d,
				`CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT NOT NULL)`,
				`INSERT INTO users (email) VALUES ('a@example.com')`)

			added, err := schema.EnsureColumn(ctx, d, tt.col)
			if tt.expErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expErr)
				assert.False(t, errors.Is(err, schema.ErrSchemaConflict))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expAdded, added)

			has, err := schema.HasColumn(ctx, d, tt.col.Table, tt.col.Name)
			require.NoError(t, err)
			assert.True(t, has)
		})
	}
}

func TestEnsureColumnDefaultAppliesToExistingRows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := dbtest.Open(t)
	dbtest.Exec(t, d,
		`CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT NOT NULL)`,
		`INSERT INTO users (email) VALUES ('a@example.com'), ('b@example.com')`)

	added, err := schema.EnsureColumn(ctx, d, schema.Column{
		Table: "users", Name: "is_customer", Type: "BOOLEAN", Default: schema.Default("1"),
	})
	require.NoError(t, err)
	require.True(t, added)

	assert.Equal(t, 2, dbtest.Count(t, d, `SELECT COUNT(*) FROM users WHERE is_customer = 1`))

	cols, err := schema.Columns(ctx, d, "users")
	require.NoError(t, err)
	require.Len(t, cols, 3)
	assert.Equal(t, "is_customer", cols[2].Name)
	assert.Equal(t, "BOOLEAN", cols[2].Type)
	assert.Equal(t, "1", cols[2].Default.V)
	assert.True(t, cols[0].PrimaryKey)
	assert.True(t, cols[1].NotNull)
}

func TestEnsureColumnIssuesOneStatement(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := dbtest.Open(t)
	dbtest.Exec(t, d, `CREATE TABLE users (id INTEGER PRIMARY KEY)`)

	q := &countingQuerier{Querier: d}
	col := schema.Column{Table: "users", Name: "phone", Type: "TEXT"}

	added, err := schema.EnsureColumn(ctx, q, col)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = schema.EnsureColumn(ctx, q, col)
	require.NoError(t, err)
	assert.False(t, added)

	assert.Equal(t, []string{`ALTER TABLE "users" ADD COLUMN "phone" TEXT`}, q.execs)
}

func TestEnsureTableAndIndex(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := dbtest.Open(t)
	q := &countingQuerier{Querier: d}

	def := `id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP`
	idx := schema.Index{
		Name: "idx_analytics_event_type", Table: "analytics_events",
		Columns: []string{"event_type"},
	}

	for i := range 2 {
		created, err := schema.EnsureTable(ctx, q, "analytics_events", def)
		require.NoError(t, err)
		assert.Equal(t, i == 0, created)

		created, err = schema.EnsureIndex(ctx, q, idx)
		require.NoError(t, err)
		assert.Equal(t, i == 0, created)
	}
	assert.Len(t, q.execs, 2)

	has, err := schema.HasIndex(ctx, d, idx.Name)
	require.NoError(t, err)
	assert.True(t, has)

	tables, err := schema.Tables(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, []string{"analytics_events"}, tables)
}

func TestEnsureIndexUnique(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := dbtest.Open(t)
	dbtest.Exec(t, d, `CREATE TABLE signups (id INTEGER PRIMARY KEY, email TEXT)`)

	_, err := schema.EnsureIndex(ctx, d, schema.Index{
		Name: "idx_signups_email", Table: "signups", Columns: []string{"email"}, Unique: true,
	})
	require.NoError(t, err)

	dbtest.Exec(t, d, `INSERT INTO signups (email) VALUES ('a@example.com')`)
	_, err = d.ExecContext(ctx, `INSERT INTO signups (email) VALUES ('a@example.com')`)
	require.Error(t, err)

	var dupErr *types.DuplicateError
	assert.ErrorAs(t, types.Err("signup", "a@example.com", err), &dupErr)
}

func TestRenameColumn(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		from, to   string
		expRenamed bool
		expErr     string
	}{
		{name: "ok/renamed", from: "role", to: "admin_role", expRenamed: true},
		{name: "ok/already_renamed", from: "old", to: "email"},
		{name: "err/missing", from: "old", to: "new", expErr: "has neither column 'old' nor 'new'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			d := dbtest.Open(t)
			dbtest.Exec(t, d, `CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT, role TEXT)`)

			renamed, err := schema.RenameColumn(ctx, d, "users", tt.from, tt.to)
			if tt.expErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expRenamed, renamed)

			has, err := schema.HasColumn(ctx, d, "users", tt.to)
			require.NoError(t, err)
			assert.True(t, has)
		})
	}
}

func TestDropColumn(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := dbtest.Open(t)
	dbtest.Exec(t, d, `CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT, admin_role TEXT)`)

	dropped, err := schema.DropColumn(ctx, d, "users", "admin_role")
	require.NoError(t, err)
	assert.True(t, dropped)

	dropped, err = schema.DropColumn(ctx, d, "users", "admin_role")
	require.NoError(t, err)
	assert.False(t, dropped)

	has, err := schema.HasColumn(ctx, d, "users", "admin_role")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestConflictError(t *testing.T) {
	t.Parallel()

	err := error(&schema.ConflictError{Kind: "column", Name: "users.phone", Err: errors.New("duplicate column name: phone")})
	assert.ErrorIs(t, err, schema.ErrSchemaConflict)
	assert.EqualError(t, err,
		"column 'users.phone' was reported missing but already exists: duplicate column name: phone")
}
