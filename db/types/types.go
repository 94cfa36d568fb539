package types

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
)

// Querier is the query surface shared by *sql.DB, *sql.Conn and *sql.Tx.
// Migration steps and models are written against it, so that they run the
// same inside and outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Conn)(nil)
	_ Querier = (*sql.Tx)(nil)
)

// Filter narrows down the rows returned by a model query.
type Filter struct {
	Where string
	Args  []any
	// Limit is the maximum number of rows to return, if positive.
	Limit int
}

// NewFilter creates a new query filter.
func NewFilter(where string, args []any) *Filter {
	return &Filter{Where: where, Args: args}
}

// And joins f2 with f1 using an AND condition. A nil f2 returns f1 unchanged.
// The smallest positive limit of both is kept.
func (f1 *Filter) And(f2 *Filter) *Filter {
	if f2 == nil {
		return f1
	}

	limit := f1.Limit
	if f2.Limit > 0 && (limit <= 0 || f2.Limit < limit) {
		limit = f2.Limit
	}

	return &Filter{
		Where: fmt.Sprintf("(%s) AND (%s)", f1.Where, f2.Where),
		Args:  slices.Concat(f1.Args, f2.Args),
		Limit: limit,
	}
}

// Clause renders the filter as a WHERE clause and its arguments. A nil
// filter matches all rows. orderBy is placed before the LIMIT, and may be
// empty.
func (f1 *Filter) Clause(orderBy string) (string, []any) {
	if f1 == nil {
		f1 = &Filter{Where: "1=1"}
	}

	clause := "WHERE " + f1.Where
	if orderBy != "" {
		clause += " ORDER BY " + orderBy
	}
	if f1.Limit > 0 {
		clause += fmt.Sprintf(" LIMIT %d", f1.Limit)
	}

	return clause, f1.Args
}
