package schema_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/harvest/db/dbtest"
	"go.hackfix.me/harvest/db/schema"
)

func TestWithForeignKeysDisabled(t *testing.T) {
	t.Parallel()

	errFn := errors.New("boom")

	tests := []struct {
		name   string
		fnErr  error
		expErr error
	}{
		{name: "ok/restored_after_success"},
		{name: "err/restored_after_failure", fnErr: errFn, expErr: errFn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			conn := dbtest.Conn(t, dbtest.Open(t))

			var insideEnabled bool
			err := schema.WithForeignKeysDisabled(ctx, conn, func() error {
				var ferr error
				insideEnabled, ferr = schema.ForeignKeysEnabled(ctx, conn)
				require.NoError(t, ferr)
				return tt.fnErr
			})
			if tt.expErr != nil {
				assert.ErrorIs(t, err, tt.expErr)
			} else {
				require.NoError(t, err)
			}
			assert.False(t, insideEnabled)

			enabled, err := schema.ForeignKeysEnabled(ctx, conn)
			require.NoError(t, err)
			assert.True(t, enabled)
		})
	}
}

func TestWithForeignKeysDisabledPanic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	conn := dbtest.Conn(t, dbtest.Open(t))

	assert.Panics(t, func() {
		_ = schema.WithForeignKeysDisabled(ctx, conn, func() error {
			panic("boom")
		})
	})

	enabled, err := schema.ForeignKeysEnabled(ctx, conn)
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestWithForeignKeysDisabledAlreadyOff(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	conn := dbtest.Conn(t, dbtest.Open(t))
	dbtest.Exec(t, conn, `PRAGMA foreign_keys = OFF`)

	called := false
	err := schema.WithForeignKeysDisabled(ctx, conn, func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)

	enabled, err := schema.ForeignKeysEnabled(ctx, conn)
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestWithForeignKeysDisabledInTransaction(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := dbtest.Open(t)
	tx, err := d.BeginTx(ctx, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback() })

	called := false
	err = schema.WithForeignKeysDisabled(ctx, tx, func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, schema.ErrForeignKeysLocked)
	assert.False(t, called)

	enabled, err := schema.ForeignKeysEnabled(ctx, tx)
	require.NoError(t, err)
	assert.True(t, enabled)
}
