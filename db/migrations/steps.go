package migrations

import (
	"context"

	"go.hackfix.me/harvest/db/backfill"
	"go.hackfix.me/harvest/db/migrator"
	"go.hackfix.me/harvest/db/schema"
	"go.hackfix.me/harvest/db/types"
)

func column(table, name, typ string) schema.Column {
	return schema.Column{Table: table, Name: name, Type: typ}
}

func columnDefault(table, name, typ, def string) schema.Column {
	return schema.Column{Table: table, Name: name, Type: typ, Default: schema.Default(def)}
}

// addColumns adds the missing columns, and logs the ones it added.
func addColumns(ctx context.Context, h *migrator.Handle, cols ...schema.Column) error {
	added, err := schema.EnsureColumns(ctx, h, cols...)
	if err != nil {
		return migrator.Step("add columns", err)
	}
	if len(added) > 0 {
		h.Logger().Debug("added columns", "columns", added)
	}
	return nil
}

// addColumnsUnit returns a unit that only adds columns.
func addColumnsUnit(id string, cols ...schema.Column) migrator.Unit {
	return migrator.NewUnit(id, func(ctx context.Context, h *migrator.Handle) error {
		return addColumns(ctx, h, cols...)
	})
}

// exec runs statements in order, and reports the first failure as step.
func exec(ctx context.Context, q types.Querier, step string, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return migrator.Step(step, err)
		}
	}
	return nil
}

// knownOrNull copies a nullable reference, or NULL if it points to a row
// that doesn't exist. Rows with such a reference are kept instead of being
// removed as orphans by the rebuild.
func knownOrNull(refs *backfill.ReferenceSet, col string) schema.ColumnMapping {
	return func(row schema.Row) (any, error) {
		v := row[col]
		if v == nil || !refs.Has(v) {
			return nil, nil
		}
		return v, nil
	}
}

func backfillOpts(h *migrator.Handle, name string) []backfill.Option {
	return []backfill.Option{backfill.WithLogger(h.Logger()), backfill.WithName(name)}
}
