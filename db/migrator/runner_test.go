package migrator_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/harvest/db/dbtest"
	"go.hackfix.me/harvest/db/migrator"
	"go.hackfix.me/harvest/db/schema"
)

var timeNow = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func timeNowFn() time.Time {
	return timeNow
}

func testOptions(runID string) []migrator.Option {
	return []migrator.Option{
		migrator.WithLogger(slog.New(slog.DiscardHandler)),
		migrator.WithTimeNow(timeNowFn),
		migrator.WithRunID(func() string { return runID }),
	}
}

// createTable returns a unit that creates a single table.
func createTable(id, table string, log *[]string) migrator.Unit {
	return migrator.NewUnit(id, func(ctx context.Context, h *migrator.Handle) error {
		if log != nil {
			*log = append(*log, id)
		}
		_, err := schema.EnsureTable(ctx, h, table, "id INTEGER PRIMARY KEY")
		return err
	})
}

func appliedVersions(t *testing.T, d *sql.DB) []int {
	t.Helper()

	recs, err := migrator.NewVersionStore(d).List(context.Background())
	require.NoError(t, err)
	versions := make([]int, len(recs))
	for i, rec := range recs {
		versions[i] = rec.Version
	}

	return versions
}

func hasTable(t *testing.T, d *sql.DB, table string) bool {
	t.Helper()

	ok, err := schema.HasTable(context.Background(), d, table)
	require.NoError(t, err)

	return ok
}

func TestApplyPendingOrdering(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := dbtest.Open(t)

	var log []string
	units := []migrator.Unit{
		createTable("001_a", "a", &log),
		createTable("003_c", "c", &log),
		createTable("002_b", "b", &log),
	}

	res, err := migrator.RunMigrations(ctx, d, units, testOptions("run1")...)
	require.NoError(t, err)

	assert.Equal(t, migrator.RunResult{Applied: 3, LastVersion: 3, RunID: "run1"}, res)
	assert.Equal(t, []string{"001_a", "002_b", "003_c"}, log)
	assert.Equal(t, []int{1, 2, 3}, appliedVersions(t, d))

	recs, err := migrator.NewVersionStore(d).List(ctx)
	require.NoError(t, err)
	for _, rec := range recs {
		assert.Equal(t, "run1", rec.RunID)
		assert.True(t, rec.AppliedAt.Equal(timeNow), rec.AppliedAt)
		assert.Empty(t, rec.Checksum)
	}
	assert.Equal(t, "b", recs[1].Name)
}

func TestApplyPendingIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := dbtest.Open(t)

	var log []string
	units := []migrator.Unit{
		createTable("001_a", "a", &log),
		createTable("002_b", "b", &log),
	}

	_, err := migrator.RunMigrations(ctx, d, units, testOptions("run1")...)
	require.NoError(t, err)
	before := appliedVersions(t, d)

	res, err := migrator.RunMigrations(ctx, d, units, testOptions("run2")...)
	require.NoError(t, err)

	assert.Equal(t, migrator.RunResult{Applied: 0, LastVersion: 2, RunID: "run2"}, res)
	assert.Equal(t, []string{"001_a", "002_b"}, log)
	assert.Equal(t, before, appliedVersions(t, d))
}

func TestApplyPendingFiveUnits(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := dbtest.Open(t)

	units := []migrator.Unit{
		migrator.NewUnit("001_users", func(ctx context.Context, h *migrator.Handle) error {
			_, err := schema.EnsureTable(ctx, h, "users",
				"id INTEGER PRIMARY KEY AUTOINCREMENT, email TEXT UNIQUE NOT NULL")
			return err
		}),
		migrator.NewUnit("002_user_name", func(ctx context.Context, h *migrator.Handle) error {
			_, err := schema.EnsureColumn(ctx, h, schema.Column{Table: "users", Name: "name", Type: "TEXT"})
			return err
		}),
		migrator.NewUnit("003_orders", func(ctx context.Context, h *migrator.Handle) error {
			_, err := schema.EnsureTable(ctx, h, "orders",
				"id INTEGER PRIMARY KEY, user_id INTEGER REFERENCES users(id), total REAL")
			return err
		}),
		migrator.NewUnit("004_orders_user_index", func(ctx context.Context, h *migrator.Handle) error {
			_, err := schema.EnsureIndex(ctx, h, schema.Index{
				Name: "idx_orders_user", Table: "orders", Columns: []string{"user_id"},
			})
			return err
		}),
		migrator.NewUnit("005_order_status", func(ctx context.Context, h *migrator.Handle) error {
			_, err := schema.EnsureColumn(ctx, h, schema.Column{
				Table: "orders", Name: "status", Type: "TEXT", Default: schema.Default("'pending'"),
			})
			return err
		}),
	}

	res, err := migrator.RunMigrations(ctx, d, units, testOptions("run1")...)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Applied)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, appliedVersions(t, d))

	for table, expCols := range map[string][]string{
		"users":  {"id", "email", "name"},
		"orders": {"id", "user_id", "total", "status"},
	} {
		cols, err := schema.Columns(ctx, d, table)
		require.NoError(t, err)
		var names []string
		for _, c := range cols {
			names = append(names, c.Name)
		}
		assert.Equal(t, expCols, names, table)
	}

	has, err := schema.HasIndex(ctx, d, "idx_orders_user")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestApplyPendingTransactionalFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := dbtest.Open(t)

	errBoom := errors.New("boom")
	fail := true
	var attempts int
	boxes := migrator.NewUnit("006_boxes", func(ctx context.Context, h *migrator.Handle) error {
		attempts++
		for _, table := range []string{"box_templates", "box_items"} {
			if _, err := schema.EnsureTable(ctx, h, table, "id INTEGER PRIMARY KEY"); err != nil {
				return err
			}
		}
		if fail {
			return migrator.Step("create box_contents", errBoom)
		}
		_, err := schema.EnsureTable(ctx, h, "box_contents", "id INTEGER PRIMARY KEY")
		return err
	})

	var log []string
	units := []migrator.Unit{
		createTable("005_products", "products", &log),
		boxes,
		createTable("007_orders", "orders", &log),
	}

	res, err := migrator.RunMigrations(ctx, d, units, testOptions("run1")...)
	require.Error(t, err)
	assert.ErrorIs(t, err, migrator.ErrMigrationFailed)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, 5, res.LastVersion)

	var ferr *migrator.FatalMigrationError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, 6, ferr.Version)
	assert.Equal(t, "boxes", ferr.Name)
	assert.Equal(t, "create box_contents", ferr.Step)
	assert.True(t, ferr.Transactional)
	assert.Equal(t, "run1", ferr.RunID)
	assert.EqualError(t, err, "migration 006_boxes failed at step 'create box_contents': "+
		"create box_contents: boom; its changes were rolled back")

	for _, table := range []string{"box_templates", "box_items", "box_contents", "orders"} {
		assert.False(t, hasTable(t, d, table), table)
	}
	applied, err := migrator.NewVersionStore(d).IsApplied(ctx, 6)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, []string{"005_products"}, log)

	fail = false
	res, err = migrator.RunMigrations(ctx, d, units, testOptions("run2")...)
	require.NoError(t, err)
	assert.Equal(t, migrator.RunResult{Applied: 2, LastVersion: 7, RunID: "run2"}, res)
	assert.Equal(t, 2, attempts)
	for _, table := range []string{"box_templates", "box_items", "box_contents", "orders"} {
		assert.True(t, hasTable(t, d, table), table)
	}
	assert.Equal(t, []int{5, 6, 7}, appliedVersions(t, d))
}

func TestApplyPendingNonTransactionalFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := dbtest.Open(t)

	unit := migrator.NewUnit("018_users_rebuild", func(ctx context.Context, h *migrator.Handle) error {
		assert.False(t, h.InTx())
		if _, err := schema.EnsureTable(ctx, h, "users_new", "id INTEGER PRIMARY KEY"); err != nil {
			return err
		}
		return migrator.Step("copy users", errors.New("no such column: role"))
	}, migrator.WithoutTransaction())

	_, err := migrator.RunMigrations(ctx, d, []migrator.Unit{unit}, testOptions("run1")...)
	require.Error(t, err)

	var ferr *migrator.FatalMigrationError
	require.ErrorAs(t, err, &ferr)
	assert.False(t, ferr.Transactional)
	assert.Equal(t, "copy users", ferr.Step)
	assert.Contains(t, err.Error(), "must be inspected manually")

	// Changes made before the failure persist, but the unit isn't recorded.
	assert.True(t, hasTable(t, d, "users_new"))
	assert.Empty(t, appliedVersions(t, d))
}

func TestApplyPendingRestoresForeignKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := dbtest.Open(t)

	var checked bool
	units := []migrator.Unit{
		migrator.NewUnit("001_leaky", func(ctx context.Context, h *migrator.Handle) error {
			_, err := h.ExecContext(ctx, `PRAGMA foreign_keys = OFF`)
			return err
		}, migrator.WithoutTransaction()),
		migrator.NewUnit("002_check", func(ctx context.Context, h *migrator.Handle) error {
			on, err := schema.ForeignKeysEnabled(ctx, h)
			checked = on
			return err
		}),
	}

	_, err := migrator.RunMigrations(ctx, d, units, testOptions("run1")...)
	require.NoError(t, err)
	assert.True(t, checked)
}

func TestApplyPendingRegistryConflict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := dbtest.Open(t)

	var log []string
	units := []migrator.Unit{
		createTable("001_a", "a", &log),
		createTable("002_b", "b", &log),
		createTable("002_c", "c", &log),
	}

	_, err := migrator.RunMigrations(ctx, d, units, testOptions("run1")...)
	require.Error(t, err)
	assert.ErrorIs(t, err, migrator.ErrRegistryConflict)
	assert.Empty(t, log)
	assert.False(t, hasTable(t, d, "schema_migrations"))
}

func TestHandleRebuild(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := dbtest.Open(t)

	plan := schema.RebuildPlan{{
		Name:       "carts",
		Definition: "user_id INTEGER PRIMARY KEY, items TEXT NOT NULL DEFAULT '[]'",
		Repopulate: &schema.Repopulate{},
	}}

	units := []migrator.Unit{
		migrator.NewUnit("001_carts", func(ctx context.Context, h *migrator.Handle) error {
			_, err := h.ExecContext(ctx, `CREATE TABLE carts (user_id TEXT, items TEXT);
				INSERT INTO carts VALUES ('1', '[]'), ('2', '["kale"]');`)
			return err
		}),
		migrator.NewUnit("002_carts_in_tx", func(ctx context.Context, h *migrator.Handle) error {
			_, err := h.Rebuild(ctx, plan)
			return err
		}),
	}

	_, err := migrator.RunMigrations(ctx, d, units, testOptions("run1")...)
	require.Error(t, err)
	assert.ErrorIs(t, err, migrator.ErrInTransaction)
	var ferr *migrator.FatalMigrationError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "rebuild: connection", ferr.Step)

	units[1] = migrator.NewUnit("002_carts", func(ctx context.Context, h *migrator.Handle) error {
		res, err := h.Rebuild(ctx, plan)
		if err != nil {
			return err
		}
		assert.Equal(t, 2, res.Table("carts").Copied)
		return nil
	}, migrator.WithoutTransaction())

	_, err = migrator.RunMigrations(ctx, d, units, testOptions("run2")...)
	require.NoError(t, err)

	cols, err := schema.Columns(ctx, d, "carts")
	require.NoError(t, err)
	require.NotEmpty(t, cols)
	assert.True(t, cols[0].PrimaryKey)
	assert.Equal(t, 2, dbtest.Count(t, d, `SELECT COUNT(*) FROM carts WHERE typeof(user_id) = 'integer'`))
}

func TestApplyPendingCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := dbtest.Open(t)

	var log []string
	_, err := migrator.RunMigrations(ctx, d,
		[]migrator.Unit{createTable("001_a", "a", &log)}, testOptions("run1")...)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, log)
	assert.False(t, hasTable(t, d, "a"))
}

func TestApplyPendingCanceledMidUnit(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// A file database, since the canceled transaction's connection may be
	// discarded.
	d, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		filepath.Join(t.TempDir(), "harvest.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	unit := migrator.NewUnit("001_a", func(ctx context.Context, h *migrator.Handle) error {
		if _, err := schema.EnsureTable(ctx, h, "a", "id INTEGER PRIMARY KEY"); err != nil {
			return err
		}
		cancel()
		return nil
	})

	_, err = migrator.RunMigrations(ctx, d, []migrator.Unit{unit}, testOptions("run1")...)
	require.Error(t, err)

	var ferr *migrator.FatalMigrationError
	require.ErrorAs(t, err, &ferr)
	assert.True(t, ferr.Transactional)

	// The transaction is rolled back, so the unit runs again next time.
	assert.False(t, hasTable(t, d, "a"))
	assert.Empty(t, appliedVersions(t, d))

	_, err = migrator.RunMigrations(context.Background(), d, []migrator.Unit{unit}, testOptions("run2")...)
	require.NoError(t, err)
	assert.True(t, hasTable(t, d, "a"))
	assert.Equal(t, []int{1}, appliedVersions(t, d))
}

func TestStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := dbtest.Open(t)

	units := []migrator.Unit{
		createTable("001_a", "a", nil),
		createTable("002_b", "b", nil),
		createTable("004_d", "d", nil),
	}

	r := migrator.NewRunner(d, testOptions("run1")...)
	st, err := r.Status(ctx, units)
	require.NoError(t, err)
	assert.Empty(t, st.Applied)
	assert.Len(t, st.Pending, 3)
	assert.Equal(t, []int{3}, st.Missing)
	assert.Equal(t, 4, st.Latest)
	assert.False(t, hasTable(t, d, "schema_migrations"))

	_, err = r.ApplyPending(ctx, units[:2])
	require.NoError(t, err)
	dbtest.Exec(t, d, `INSERT INTO schema_migrations (version, name, applied_at)
		VALUES (9, 'from_the_future', '2025-01-01 00:00:00')`)

	st, err = r.Status(ctx, units)
	require.NoError(t, err)
	assert.Len(t, st.Applied, 3)
	require.Len(t, st.Pending, 1)
	assert.Equal(t, "004_d", st.Pending[0].ID)
	require.Len(t, st.Unknown, 1)
	assert.Equal(t, 9, st.Unknown[0].Version)
	assert.Equal(t, 9, st.Current)
	assert.Empty(t, st.Modified)
}

func TestRevert(t *testing.T) {
	t.Parallel()

	dropTable := func(table string) migrator.UnitOption {
		return migrator.WithRevert(func(ctx context.Context, h *migrator.Handle) error {
			_, err := h.ExecContext(ctx, `DROP TABLE `+table)
			return err
		})
	}
	failing := migrator.WithRevert(func(ctx context.Context, h *migrator.Handle) error {
		if _, err := h.ExecContext(ctx, `DROP TABLE c`); err != nil {
			return err
		}
		return migrator.Step("cleanup", errors.New("boom"))
	})
	newUnits := func() []migrator.Unit {
		return []migrator.Unit{
			createTable("001_a", "a", nil),
			migrator.NewUnit("002_b", createTable("002_b", "b", nil).Apply, dropTable("b")),
			migrator.NewUnit("003_c", createTable("003_c", "c", nil).Apply, failing),
			migrator.NewUnit("004_d", createTable("004_d", "d", nil).Apply,
				dropTable("d"), migrator.WithoutTransaction()),
		}
	}

	testCases := []struct {
		name      string
		version   int
		expErr    string
		expErrIs  error
		expTables map[string]bool
		expLedger []int
	}{
		{
			name:      "ok/transactional",
			version:   2,
			expTables: map[string]bool{"a": true, "b": false, "c": true, "d": true},
			expLedger: []int{1, 3, 4},
		},
		{
			name:      "ok/no_transaction",
			version:   4,
			expTables: map[string]bool{"a": true, "b": true, "c": true, "d": false},
			expLedger: []int{1, 2, 3},
		},
		{
			name:      "err/forward_only",
			version:   1,
			expErrIs:  migrator.ErrRevertUnsupported,
			expTables: map[string]bool{"a": true},
			expLedger: []int{1, 2, 3, 4},
		},
		{
			name:      "err/unknown_version",
			version:   7,
			expErr:    "unknown migration version 7",
			expLedger: []int{1, 2, 3, 4},
		},
		{
			name:      "err/rolled_back",
			version:   3,
			expErrIs:  migrator.ErrMigrationFailed,
			expTables: map[string]bool{"c": true},
			expLedger: []int{1, 2, 3, 4},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			d := dbtest.Open(t)
			units := newUnits()
			r := migrator.NewRunner(d, testOptions("run1")...)
			_, err := r.ApplyPending(ctx, units)
			require.NoError(t, err)

			err = r.Revert(ctx, units, tc.version)
			switch {
			case tc.expErrIs != nil:
				assert.ErrorIs(t, err, tc.expErrIs)
			case tc.expErr != "":
				assert.EqualError(t, err, tc.expErr)
			default:
				require.NoError(t, err)
			}

			for table, exists := range tc.expTables {
				assert.Equal(t, exists, hasTable(t, d, table), table)
			}
			assert.Equal(t, tc.expLedger, appliedVersions(t, d))
		})
	}
}

func TestRevertNotApplied(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := dbtest.Open(t)
	units := []migrator.Unit{
		migrator.NewUnit("001_a", createTable("001_a", "a", nil).Apply,
			migrator.WithRevert(func(context.Context, *migrator.Handle) error { return nil })),
	}

	err := migrator.NewRunner(d, testOptions("run1")...).Revert(ctx, units, 1)
	assert.EqualError(t, err, "migration 001_a isn't applied")
}

func TestRevertFailureStep(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := dbtest.Open(t)
	units := []migrator.Unit{
		migrator.NewUnit("001_a", createTable("001_a", "a", nil).Apply,
			migrator.WithRevert(func(context.Context, *migrator.Handle) error {
				return migrator.Step("drop a", errors.New("locked"))
			})),
	}
	r := migrator.NewRunner(d, testOptions("run9")...)
	_, err := r.ApplyPending(ctx, units)
	require.NoError(t, err)

	err = r.Revert(ctx, units, 1)
	var ferr *migrator.FatalMigrationError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "drop a", ferr.Step)
	assert.Equal(t, "run9", ferr.RunID)
	assert.True(t, ferr.Transactional)
	assert.True(t, hasTable(t, d, "a"))
}

func ExampleStep() {
	err := migrator.Step("backfill addresses", errors.New("bad JSON"))
	fmt.Println(err)
	// Output: backfill addresses: bad JSON
}
