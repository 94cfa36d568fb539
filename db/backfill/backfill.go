// Package backfill moves legacy rows into a new shape, one row at a time.
//
// A row that can't be transformed is skipped and reported as a warning, so
// that a few malformed legacy records don't block a migration. Failures to
// write a transformed row are not recoverable and stop the backfill.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
)

// Warning describes a skipped row.
type Warning struct {
	RowID  string
	Reason string
}

// Result summarizes a backfill. Processed counts every input row, including
// rows left out with ErrSkip, which are neither succeeded nor skipped.
type Result struct {
	Processed int
	Succeeded int
	Skipped   int
	Warnings  []Warning
}

// Identifier is implemented by source rows that can name themselves in
// warnings. Rows that don't are named by their position.
type Identifier interface {
	RowID() string
}

// Option configures a backfill.
type Option func(*options)

type options struct {
	logger *slog.Logger
	name   string
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithName sets the name of the backfill used in log messages.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// Run transforms every row of rows, and writes the result with insert.
//
// A row is skipped with a warning if rows yields an error for it, or if
// transform fails. If transform returns ErrSkip the row is skipped silently
// and isn't counted as a warning. An error returned by insert, or a
// SourceError yielded by rows, stops the backfill and is returned along with
// the result so far.
func Run[S, T any](
	ctx context.Context,
	rows iter.Seq2[S, error],
	transform func(S) (T, error),
	insert func(context.Context, T) error,
	opts ...Option,
) (Result, error) {
	o := &options{logger: slog.New(slog.DiscardHandler), name: "backfill"}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger.With("backfill", o.name)

	var res Result
	warn := func(id, reason string) {
		res.Skipped++
		res.Warnings = append(res.Warnings, Warning{RowID: id, Reason: reason})
		logger.Warn("skipping row", "row", id, "reason", reason)
	}

	for src, err := range rows {
		if cerr := ctx.Err(); cerr != nil {
			return res, cerr
		}

		var serr *SourceError
		if errors.As(err, &serr) {
			return res, err
		}

		res.Processed++
		id := rowID(src, res.Processed)
		if err != nil {
			warn(id, err.Error())
			continue
		}

		dst, err := transform(src)
		if errors.Is(err, ErrSkip) {
			continue
		}
		if err != nil {
			warn(id, err.Error())
			continue
		}

		if err = insert(ctx, dst); err != nil {
			return res, fmt.Errorf("failed writing row %s: %w", id, err)
		}
		res.Succeeded++
	}

	logger.Info("backfill finished",
		"processed", res.Processed, "succeeded", res.Succeeded, "skipped", res.Skipped)

	return res, nil
}

// ErrSkip is returned by a transform to leave out a row that needs no
// backfill, e.g. because it has no legacy data. It's counted as processed, but
// not as skipped.
var ErrSkip = errors.New("nothing to backfill")

func rowID(src any, pos int) string {
	if idr, ok := src.(Identifier); ok {
		if id := idr.RowID(); id != "" {
			return id
		}
	}
	return "#" + strconv.Itoa(pos)
}
