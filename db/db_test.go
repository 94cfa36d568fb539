package db_test

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/harvest/db"
	"go.hackfix.me/harvest/db/dbtest"
	"go.hackfix.me/harvest/db/migrator"
	"go.hackfix.me/harvest/db/models"
	"go.hackfix.me/harvest/db/queries"
	"go.hackfix.me/harvest/db/types"
)

var timeNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func timeNowFn() time.Time {
	return timeNow
}

func openTestDB(t *testing.T) *db.DB {
	t.Helper()

	rndName := make([]byte, 12)
	_, err := rand.Read(rndName)
	require.NoError(t, err)

	d, err := db.Open(context.Background(),
		fmt.Sprintf("file:harvest-%x?mode=memory&cache=shared", rndName), timeNowFn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	return d
}

func TestOpenEnablesForeignKeys(t *testing.T) {
	t.Parallel()

	d := openTestDB(t)
	ctx := context.Background()

	// Every connection of the pool has enforcement on, not only the first.
	conns := make([]int, 3)
	for i := range conns {
		conn := dbtest.Conn(t, d.DB)
		require.NoError(t, conn.QueryRowContext(ctx, `PRAGMA foreign_keys`).Scan(&conns[i]))
	}
	assert.Equal(t, []int{1, 1, 1}, conns)
}

func TestMigrate(t *testing.T) {
	t.Parallel()

	d := openTestDB(t)
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	st, err := d.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Applied)
	assert.Len(t, st.Pending, 35)
	assert.Equal(t, []int{10}, st.Missing)

	res, err := d.Migrate(ctx, logger)
	require.NoError(t, err)
	assert.Equal(t, 35, res.Applied)
	assert.Equal(t, 36, res.LastVersion)

	version, err := queries.SchemaVersion(ctx, d)
	require.NoError(t, err)
	assert.True(t, version.Valid)
	assert.Equal(t, 36, version.V)

	res, err = d.Migrate(ctx, logger)
	require.NoError(t, err)
	assert.Zero(t, res.Applied)

	st, err = d.Status(ctx)
	require.NoError(t, err)
	assert.Len(t, st.Applied, 35)
	assert.Empty(t, st.Pending)
	assert.Equal(t, 36, st.Current)

	require.NoError(t, d.Revert(ctx, 36, logger))
	st, err = d.Status(ctx)
	require.NoError(t, err)
	require.Len(t, st.Pending, 1)
	assert.Equal(t, 36, st.Pending[0].Version)

	err = d.Revert(ctx, 16, logger)
	assert.ErrorIs(t, err, migrator.ErrRevertUnsupported)
}

func TestSchemaVersionEmpty(t *testing.T) {
	t.Parallel()

	d := openTestDB(t)
	version, err := queries.SchemaVersion(context.Background(), d)
	require.NoError(t, err)
	assert.False(t, version.Valid)
}

func TestSeed(t *testing.T) {
	t.Parallel()

	d := openTestDB(t)
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	_, err := d.Migrate(ctx, logger)
	require.NoError(t, err)

	res, err := d.Seed(ctx, "admin@example.com", "hunter2", logger)
	require.NoError(t, err)
	assert.Equal(t, db.SeedResult{
		Categories: 4, Products: 7, BoxTemplates: 4, AdminCreated: true,
	}, res)

	counts, err := queries.RowCounts(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, 7, counts["products"])
	assert.Equal(t, 4, counts["box_templates"])
	assert.Equal(t, 16, counts["box_items"])
	assert.Equal(t, 1, counts["users"])
	assert.NotContains(t, counts, "schema_migrations")

	cats, err := models.Categories(ctx, d)
	require.NoError(t, err)
	require.Len(t, cats, 4)
	assert.Equal(t, "vegetable", cats[0].Name)

	products, err := models.Products(ctx, d, types.NewFilter("p.category = ?", []any{"vegetable"}))
	require.NoError(t, err)
	require.Len(t, products, 3)
	assert.Equal(t, "Heirloom Tomatoes", products[0].Name)
	assert.Equal(t, []string{"local", "seasonal"}, products[0].Tags)

	boxes, err := models.BoxTemplates(ctx, d)
	require.NoError(t, err)
	require.Len(t, boxes, 4)
	assert.Equal(t, "Couple's Box", boxes[1].Name)
	assert.Equal(t, []models.BoxItem{
		{ProductID: products[0].ID, Quantity: 1},
		{ProductID: 5, Quantity: 1},
		{ProductID: 6, Quantity: 1},
	}, boxes[1].Items)

	admin := &models.User{Email: "admin@example.com"}
	require.NoError(t, admin.Load(ctx, d))
	assert.True(t, admin.CheckPassword("hunter2"))
	require.NotNil(t, admin.AdminType)
	assert.Equal(t, "super_admin", admin.AdminType.Name)
	assert.Equal(t, 100, admin.AdminType.Level)

	// A second run keeps the catalog and resets the admin password.
	res, err = d.Seed(ctx, "admin@example.com", "correct horse", logger)
	require.NoError(t, err)
	assert.Equal(t, db.SeedResult{}, res)

	admin = &models.User{Email: "admin@example.com"}
	require.NoError(t, admin.Load(ctx, d))
	assert.True(t, admin.CheckPassword("correct horse"))
	assert.False(t, admin.CheckPassword("hunter2"))

	n, err := models.CountProducts(ctx, d, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestSeedErrors(t *testing.T) {
	t.Parallel()

	d := openTestDB(t)
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	_, err := d.Seed(ctx, "admin@example.com", "", logger)
	assert.EqualError(t, err, "admin email and password must be set")

	// Without migrations there are no tables to seed.
	_, err = d.Seed(ctx, "admin@example.com", "pw", logger)
	assert.ErrorContains(t, err, "no such table")
}
