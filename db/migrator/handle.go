package migrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"go.hackfix.me/harvest/db/schema"
	"go.hackfix.me/harvest/db/types"
)

// ErrInTransaction is returned by operations that need the bare connection
// when the handle is bound to a transaction.
var ErrInTransaction = errors.New("operation can't run inside a transaction; declare the unit WithoutTransaction")

// Handle is the database access given to a unit. It's bound to the unit's
// transaction, or to the run's dedicated connection for units that run
// without one.
type Handle struct {
	conn   *sql.Conn
	tx     *sql.Tx
	logger *slog.Logger
}

var _ types.Querier = (*Handle)(nil)

func (h *Handle) querier() types.Querier {
	if h.tx != nil {
		return h.tx
	}
	return h.conn
}

// ExecContext runs a statement.
func (h *Handle) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return h.querier().ExecContext(ctx, query, args...)
}

// QueryContext runs a query that returns rows.
func (h *Handle) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return h.querier().QueryContext(ctx, query, args...)
}

// QueryRowContext runs a query that returns at most one row.
func (h *Handle) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return h.querier().QueryRowContext(ctx, query, args...)
}

// InTx reports whether the handle is bound to a transaction.
func (h *Handle) InTx() bool {
	return h.tx != nil
}

// Conn returns the dedicated connection of the run. It fails for handles
// bound to a transaction.
func (h *Handle) Conn() (*sql.Conn, error) {
	if h.tx != nil {
		return nil, ErrInTransaction
	}
	return h.conn, nil
}

// Logger returns the logger of the unit.
func (h *Handle) Logger() *slog.Logger {
	return h.logger
}

// Tx runs fn in a transaction. If the handle is already bound to one, fn
// runs in it directly. Units that run without a transaction use this to
// make groups of statements atomic.
func (h *Handle) Tx(ctx context.Context, fn func(q types.Querier) error) error {
	if h.tx != nil {
		return fn(h.tx)
	}

	tx, err := h.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed starting transaction: %w", err)
	}
	if err = fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed committing transaction: %w", err)
	}

	return nil
}

// Rebuild rebuilds tables on the run's connection. It fails for handles
// bound to a transaction.
func (h *Handle) Rebuild(ctx context.Context, plan schema.RebuildPlan) (*schema.RebuildResult, error) {
	conn, err := h.Conn()
	if err != nil {
		return nil, &schema.RebuildError{Step: "connection", Err: err}
	}

	return schema.Rebuild(ctx, conn, plan, schema.WithLogger(h.logger))
}
