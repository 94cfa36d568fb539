package backfill

import (
	"context"
	"database/sql"
	"fmt"
	"iter"

	"go.hackfix.me/harvest/db/types"
)

// SourceError is yielded when the source rows can't be read at all. It stops
// the backfill, unlike errors for a single row.
type SourceError struct {
	Err error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("failed reading source rows: %v", e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// Query runs query and yields every row decoded by scan. An error returned by
// scan is yielded for that row only.
//
// The rows are read into memory before the first one is yielded, so that
// the same connection can be used to write while iterating.
func Query[S any](
	ctx context.Context, q types.Querier, query string, scan func(*sql.Rows) (S, error), args ...any,
) iter.Seq2[S, error] {
	type scanned struct {
		row S
		err error
	}

	return func(yield func(S, error) bool) {
		var zero S

		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			yield(zero, &SourceError{Err: err})
			return
		}

		var buf []scanned
		for rows.Next() {
			row, err := scan(rows)
			buf = append(buf, scanned{row: row, err: err})
		}
		err = rows.Err()
		if cerr := rows.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			yield(zero, &SourceError{Err: err})
			return
		}

		for _, s := range buf {
			if !yield(s.row, s.err) {
				return
			}
		}
	}
}

// Slice yields the elements of rows, for sources that aren't SQL queries.
func Slice[S any](rows []S) iter.Seq2[S, error] {
	return func(yield func(S, error) bool) {
		for _, r := range rows {
			if !yield(r, nil) {
				return
			}
		}
	}
}
