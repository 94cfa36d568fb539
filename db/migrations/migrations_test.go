package migrations_test

import (
	"context"
	"database/sql"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/harvest/db/dbtest"
	"go.hackfix.me/harvest/db/migrations"
	"go.hackfix.me/harvest/db/migrator"
	"go.hackfix.me/harvest/db/schema"
)

var timeNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func allUnits(t *testing.T) []migrator.Unit {
	t.Helper()

	units, err := migrations.All(migrations.WithTimeNow(func() time.Time { return timeNow }))
	require.NoError(t, err)

	return units
}

func migrate(t *testing.T, d *sql.DB, units []migrator.Unit) migrator.RunResult {
	t.Helper()

	res, err := migrator.RunMigrations(context.Background(), d, units,
		migrator.WithLogger(slog.New(slog.DiscardHandler)),
		migrator.WithTimeNow(func() time.Time { return timeNow }),
		migrator.WithRunID(func() string { return "test" }),
	)
	require.NoError(t, err)

	return res
}

func columnNames(t *testing.T, d *sql.DB, table string) []string {
	t.Helper()

	cols, err := schema.Columns(context.Background(), d, table)
	require.NoError(t, err)
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}

	return names
}

func TestAll(t *testing.T) {
	t.Parallel()

	units := allUnits(t)
	require.Len(t, units, 35)
	assert.Equal(t, "001_initial_schema", units[0].ID)
	assert.Equal(t, "036_add_utm_to_signups", units[len(units)-1].ID)

	reg, err := migrator.NewRegistry(units...)
	require.NoError(t, err)
	assert.Equal(t, []int{10}, reg.Missing())
	assert.Equal(t, 36, reg.Latest())

	for _, tc := range []struct {
		version  int
		source   string
		revert   bool
		noTx     bool
		checksum bool
	}{
		{version: 1, source: "001_initial_schema.up.sql", checksum: true},
		{version: 6, source: "go"},
		{version: 16, source: "go", noTx: true},
		{version: 32, source: "go", noTx: true},
		{version: 33, source: "033_create_analytics_table.up.sql", revert: true, checksum: true},
		{version: 34, source: "go", revert: true},
		{version: 35, source: "035_create_launch_signups.up.sql", revert: true, checksum: true},
	} {
		u, ok := reg.Get(tc.version)
		require.True(t, ok, tc.version)
		assert.Equal(t, tc.source, u.Source, u.ID)
		assert.Equal(t, tc.revert, u.Revert.Supported(), u.ID)
		assert.Equal(t, tc.noTx, u.NoTransaction, u.ID)
		assert.Equal(t, tc.checksum, u.Checksum != "", u.ID)
	}
}

func TestMigrateFreshDatabase(t *testing.T) {
	t.Parallel()

	d := dbtest.Open(t)
	units := allUnits(t)

	res := migrate(t, d, units)
	assert.Equal(t, 35, res.Applied)
	assert.Equal(t, 36, res.LastVersion)

	res = migrate(t, d, units)
	assert.Equal(t, 0, res.Applied)
	assert.Equal(t, 36, res.LastVersion)

	assert.Equal(t, []string{
		"id", "email", "password", "first_name", "last_name", "phone",
		"admin_type_id", "created_at", "updated_at",
	}, columnNames(t, d, "users"))
	assert.Equal(t, []string{
		"id", "name", "category", "price", "image_url", "tags", "stock",
		"is_active", "is_archived", "deleted_at", "farm_id",
	}, columnNames(t, d, "products"))
	assert.Equal(t, []string{"cart_key", "user_id", "items", "updated_at"},
		columnNames(t, d, "active_carts"))
	assert.Equal(t, []string{
		"id", "user_email", "name", "street", "city", "zip", "state", "phone",
		"user_id", "created_at", "type", "is_default", "first_name", "last_name",
	}, columnNames(t, d, "addresses"))
	assert.Contains(t, columnNames(t, d, "orders"), "delivery_date")
	assert.Contains(t, columnNames(t, d, "analytics_events"), "ip_address")
	assert.Contains(t, columnNames(t, d, "launch_signups"), "utm_source")
	assert.Contains(t, columnNames(t, d, "delivery_windows"), "date_label")

	for _, idx := range []string{
		"idx_payments_order_id", "idx_farms_farm_id", "idx_users_admin_type",
		"idx_admin_types_level", "idx_analytics_session", "idx_launch_variant",
	} {
		ok, err := schema.HasIndex(context.Background(), d, idx)
		require.NoError(t, err)
		assert.True(t, ok, idx)
	}
	assert.Equal(t, 1, dbtest.Count(t, d,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'trigger' AND name = 'update_users_timestamp'`))

	rows, err := d.Query(`SELECT name, level FROM admin_types ORDER BY level DESC`)
	require.NoError(t, err)
	defer rows.Close()
	var got []string
	for rows.Next() {
		var (
			name  string
			level int
		)
		require.NoError(t, rows.Scan(&name, &level))
		got = append(got, name)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"super_admin", "owner", "admin", "manager", "delivery"}, got)

	assert.Equal(t, 0, dbtest.Count(t, d, `SELECT COUNT(*) FROM pragma_foreign_key_check`))
	fk, err := schema.ForeignKeysEnabled(context.Background(), d)
	require.NoError(t, err)
	assert.True(t, fk)
}

// seedLegacyStore creates the tables the storefront had before it tracked
// schema changes, with some malformed records.
func seedLegacyStore(t *testing.T, d *sql.DB) {
	t.Helper()

	dbtest.Exec(t, d,
		`CREATE TABLE users (
			id TEXT PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL,
			address TEXT,
			role TEXT DEFAULT 'user',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE products (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			price REAL NOT NULL,
			category TEXT,
			image_url TEXT,
			tags TEXT
		)`,
		`CREATE TABLE orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_email TEXT NOT NULL,
			items TEXT NOT NULL,
			total REAL NOT NULL,
			shipping_details TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			status TEXT DEFAULT 'Pending'
		)`,
		`CREATE TABLE box_templates (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			base_price REAL NOT NULL,
			items_json TEXT
		)`,
		`CREATE TABLE categories (id TEXT PRIMARY KEY, name TEXT NOT NULL, display_order INTEGER)`,
		`CREATE TABLE active_carts (
			user_email TEXT PRIMARY KEY,
			items TEXT,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`INSERT INTO users (id, email, password, address, role) VALUES
			('u-alice', 'alice@example.com', 'x', '{"street": "1 Main St", "city": "Viroqua", "zip": 54665}', 'user'),
			('2', 'bob@example.com', 'x', '{}', 'admin'),
			('u-carol', 'carol@example.com', 'x', '{"street": ', 'user')`,
		`INSERT INTO products (id, name, price, category) VALUES
			('p-kale', 'Organic Kale', 2.5, 'vegetable'),
			('p-eggs', 'Farm Fresh Eggs', 6, NULL),
			('7', 'Sourdough Bread', 7, 'pantry')`,
		`INSERT INTO box_templates (id, name, base_price, items_json) VALUES
			('b1', 'Family Harvest Box', 38, '["p-kale", {"id": "p-eggs", "qty": 2}, "p-gone"]'),
			('b2', 'Couple''s Box', 26, '[broken')`,
		`INSERT INTO orders (id, user_email, items, total, shipping_details) VALUES
			(1, 'alice@example.com', '[{"id": "p-kale", "name": "Organic Kale", "qty": 2, "price": 2.5}]', 5,
			 '{"name": "Alice Smith", "street": "1 Main St", "city": "Viroqua", "zip": 54665, "delivery_window": "Friday, January 17th"}'),
			(2, 'dave@example.com', '[{"id": "p-gone", "name": "Old Stock", "price": "1.5"}]', 1.5, '{}'),
			(3, 'carol@example.com', '[{', 0, '{"street": ')`,
		`INSERT INTO categories (id, name, display_order) VALUES ('c1', 'vegetable', 1), ('c2', 'fruit', 2)`,
		`INSERT INTO active_carts (user_email, items) VALUES
			('alice@example.com', '[]'), ('ghost@example.com', '[]')`,
	)
}

func TestMigrateLegacyDatabase(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := dbtest.Open(t)
	seedLegacyStore(t, d)

	res := migrate(t, d, allUnits(t))
	assert.Equal(t, 35, res.Applied)

	type user struct {
		ID    int64
		Email string
		Role  sql.Null[string]
	}
	rows, err := d.QueryContext(ctx,
		`SELECT id, email, role_name FROM users_with_roles ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()
	var users []user
	for rows.Next() {
		var u user
		require.NoError(t, rows.Scan(&u.ID, &u.Email, &u.Role))
		users = append(users, u)
	}
	require.NoError(t, rows.Err())
	// Integer keys stored as text keep their value, the rest are numbered
	// after them. Bob keeps his admin role.
	assert.Equal(t, []user{
		{ID: 2, Email: "bob@example.com", Role: sql.Null[string]{V: "admin", Valid: true}},
		{ID: 3, Email: "alice@example.com"},
		{ID: 4, Email: "carol@example.com"},
	}, users)

	type address struct {
		UserID     int64
		First      string
		Last       string
		Zip, State string
	}
	rows, err = d.QueryContext(ctx,
		`SELECT user_id, first_name, last_name, zip, state FROM addresses ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()
	var addresses []address
	for rows.Next() {
		var a address
		require.NoError(t, rows.Scan(&a.UserID, &a.First, &a.Last, &a.Zip, &a.State))
		addresses = append(addresses, a)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []address{
		{UserID: 3, First: "User", Last: "Profile", Zip: "54665", State: "WI"},
		{UserID: 3, First: "Alice", Last: "Smith", Zip: "54665", State: ""},
	}, addresses)

	var (
		userID, addressID int64
		window, date      string
	)
	err = d.QueryRowContext(ctx, `SELECT user_id, address_id, delivery_window, CAST(delivery_date AS TEXT)
		FROM orders WHERE id = 1`).Scan(&userID, &addressID, &window, &date)
	require.NoError(t, err)
	assert.Equal(t, int64(3), userID)
	assert.Equal(t, int64(2), addressID)
	assert.Equal(t, "Friday, January 17th", window)
	assert.Equal(t, "2025-01-17", date)

	// Products are numbered after the integer key, in key order.
	assert.Equal(t, 1, dbtest.Count(t, d, `SELECT COUNT(*) FROM products WHERE id = 7 AND name = 'Sourdough Bread'`))
	assert.Equal(t, 1, dbtest.Count(t, d, `SELECT COUNT(*) FROM products WHERE id = 8 AND category = 'uncategorized'`))
	assert.Equal(t, 1, dbtest.Count(t, d, `SELECT COUNT(*) FROM products WHERE id = 9 AND name = 'Organic Kale'`))

	// The unknown product and the broken list were skipped.
	assert.Equal(t, 2, dbtest.Count(t, d, `SELECT COUNT(*) FROM box_items`))
	assert.Equal(t, 1, dbtest.Count(t, d,
		`SELECT COUNT(*) FROM box_items WHERE box_template_id = 1 AND product_id = 9 AND quantity = 1`))
	assert.Equal(t, 1, dbtest.Count(t, d,
		`SELECT COUNT(*) FROM box_items WHERE box_template_id = 1 AND product_id = 8 AND quantity = 2`))

	// The line item of the missing product is kept without its product.
	assert.Equal(t, 2, dbtest.Count(t, d, `SELECT COUNT(*) FROM order_items`))
	assert.Equal(t, 1, dbtest.Count(t, d,
		`SELECT COUNT(*) FROM order_items WHERE order_id = 1 AND product_id = 9 AND quantity = 2`))
	assert.Equal(t, 1, dbtest.Count(t, d,
		`SELECT COUNT(*) FROM order_items WHERE order_id = 2 AND product_id IS NULL AND price_at_purchase = 1.5`))

	assert.Equal(t, 1, dbtest.Count(t, d, `SELECT COUNT(*) FROM active_carts WHERE cart_key = '3' AND user_id = 3`))
	assert.Equal(t, 1, dbtest.Count(t, d, `SELECT COUNT(*) FROM active_carts`))
	assert.Equal(t, 2, dbtest.Count(t, d, `SELECT COUNT(*) FROM categories WHERE id IN (1, 2)`))

	assert.Equal(t, 0, dbtest.Count(t, d, `SELECT COUNT(*) FROM pragma_foreign_key_check`))
}

func TestRevertAnalytics(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := dbtest.Open(t)
	units := allUnits(t)
	migrate(t, d, units)

	r := migrator.NewRunner(d, migrator.WithLogger(slog.New(slog.DiscardHandler)))
	for _, v := range []int{36, 34} {
		require.NoError(t, r.Revert(ctx, units, v), v)
	}
	assert.NotContains(t, columnNames(t, d, "launch_signups"), "utm_source")
	assert.NotContains(t, columnNames(t, d, "analytics_events"), "ip_address")

	require.NoError(t, r.Revert(ctx, units, 35))
	has, err := schema.HasTable(ctx, d, "launch_signups")
	require.NoError(t, err)
	assert.False(t, has)

	assert.ErrorIs(t, r.Revert(ctx, units, 32), migrator.ErrRevertUnsupported)

	res := migrate(t, d, units)
	assert.Equal(t, 3, res.Applied)
	assert.Contains(t, columnNames(t, d, "launch_signups"), "utm_source")
	assert.Contains(t, columnNames(t, d, "analytics_events"), "ip_address")
}
