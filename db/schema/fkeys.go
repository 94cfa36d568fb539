package schema

import (
	"context"
	"errors"
	"fmt"

	"go.hackfix.me/harvest/db/types"
)

// ForeignKeysEnabled reports whether foreign key enforcement is on for the
// connection q runs on.
func ForeignKeysEnabled(ctx context.Context, q types.Querier) (bool, error) {
	var on int
	if err := q.QueryRowContext(ctx, `PRAGMA foreign_keys`).Scan(&on); err != nil {
		return false, fmt.Errorf("failed reading foreign key enforcement: %w", err)
	}

	return on == 1, nil
}

func setForeignKeys(ctx context.Context, q types.Querier, on bool) error {
	stmt := `PRAGMA foreign_keys = OFF`
	if on {
		stmt = `PRAGMA foreign_keys = ON`
	}
	if _, err := q.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed setting foreign key enforcement: %w", err)
	}

	return nil
}

// WithForeignKeysDisabled runs fn with foreign key enforcement suspended on
// conn, and restores the previous setting afterwards, whether fn succeeds,
// fails or panics. A failure to restore is joined with fn's error.
//
// The setting is per connection, so conn must be the connection fn works on.
// SQLite ignores the change inside a transaction, in which case
// ErrForeignKeysLocked is returned and fn isn't called.
func WithForeignKeysDisabled(ctx context.Context, conn types.Querier, fn func() error) (err error) {
	enabled, err := ForeignKeysEnabled(ctx, conn)
	if err != nil {
		return err
	}
	if !enabled {
		return fn()
	}

	if err = setForeignKeys(ctx, conn, false); err != nil {
		return err
	}
	defer func() {
		// The restore must happen even if ctx was canceled.
		if rerr := setForeignKeys(context.WithoutCancel(ctx), conn, true); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()

	still, err := ForeignKeysEnabled(ctx, conn)
	if err != nil {
		return err
	}
	if still {
		return ErrForeignKeysLocked
	}

	return fn()
}
