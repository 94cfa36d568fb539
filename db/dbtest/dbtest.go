// Package dbtest provides helpers for tests that need a real database.
package dbtest

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"testing"

	//nolint:revive,nolintlint // Idiomatic way of loading DB libraries.
	_ "github.com/glebarez/go-sqlite"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/harvest/db/types"
)

// DSN returns the data source name of a new, uniquely named in-memory
// database with foreign key enforcement enabled on every connection.
func DSN(t testing.TB) string {
	t.Helper()

	// A unique name per test, to avoid clashing of in-memory SQLite DBs.
	rndName := make([]byte, 12)
	_, err := rand.Read(rndName)
	require.NoError(t, err)

	// Not using just :memory: to avoid 'no such table' issue.
	// See https://github.com/mattn/go-sqlite3#faq
	return fmt.Sprintf("file:harvest-%x?mode=memory&cache=shared&_pragma=foreign_keys(1)", rndName)
}

// Open opens a new in-memory database, which is closed when the test ends.
func Open(t testing.TB) *sql.DB {
	t.Helper()

	d, err := sql.Open("sqlite", DSN(t))
	require.NoError(t, err)
	// Keep at least one connection around, or the database is discarded.
	d.SetMaxIdleConns(10)
	d.SetConnMaxLifetime(0)
	t.Cleanup(func() { _ = d.Close() })

	return d
}

// Conn returns a dedicated connection to d, which is closed when the test
// ends.
func Conn(t testing.TB, d *sql.DB) *sql.Conn {
	t.Helper()

	conn, err := d.Conn(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

// Exec runs each statement on q, failing the test on the first error.
func Exec(t testing.TB, q types.Querier, stmts ...string) {
	t.Helper()

	for _, stmt := range stmts {
		_, err := q.ExecContext(context.Background(), stmt)
		require.NoError(t, err, stmt)
	}
}

// Count returns the result of a COUNT query.
func Count(t testing.TB, q types.Querier, query string, args ...any) int {
	t.Helper()

	var n int
	err := q.QueryRowContext(context.Background(), query, args...).Scan(&n)
	require.NoError(t, err, query)

	return n
}
