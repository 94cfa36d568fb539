package cli

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"

	actx "go.hackfix.me/harvest/app/context"
	aerrors "go.hackfix.me/harvest/app/errors"
	"go.hackfix.me/harvest/db/queries"
	"go.hackfix.me/harvest/db/schema"
)

// The Schema command shows the tables of the database, or the columns of a
// single table, as reported by SQLite.
type Schema struct {
	Table string `arg:"" optional:"" help:"Show the columns of this table."`
}

// Run the schema command.
func (c *Schema) Run(appCtx *actx.Context) error {
	if c.Table != "" {
		return c.columns(appCtx)
	}

	ctx := appCtx.Ctx
	tables, err := schema.Tables(ctx, appCtx.DB)
	if err != nil {
		return aerrors.NewRuntimeError("failed listing tables", err, "")
	}
	counts, err := queries.RowCounts(ctx, appCtx.DB)
	if err != nil {
		return aerrors.NewRuntimeError("failed counting rows", err, "")
	}

	data := make([][]string, 0, len(tables))
	for _, table := range tables {
		cols, err := schema.Columns(ctx, appCtx.DB, table)
		if err != nil {
			return aerrors.NewRuntimeError("failed reading columns", err, "")
		}
		rows := "-"
		if n, ok := counts[table]; ok {
			rows = humanize.Comma(int64(n))
		}
		data = append(data, []string{table, strconv.Itoa(len(cols)), rows})
	}

	if len(data) > 0 {
		if err = renderTable(appCtx.Stdout, []string{"Table", "Columns", "Rows"}, data, 1, 2); err != nil {
			return aerrors.NewRuntimeError("failed rendering table", err, "")
		}
	}

	version, err := queries.SchemaVersion(ctx, appCtx.DB)
	if err != nil {
		return aerrors.NewRuntimeError("failed reading schema version", err, "")
	}
	if version.Valid {
		fmt.Fprintf(appCtx.Stdout, "\nSchema version: %d\n", version.V)
	}

	return nil
}

func (c *Schema) columns(appCtx *actx.Context) error {
	ok, err := schema.HasTable(appCtx.Ctx, appCtx.DB, c.Table)
	if err != nil {
		return aerrors.NewRuntimeError("failed looking up table", err, "")
	}
	if !ok {
		return aerrors.NewWith("unknown table", "table", c.Table)
	}

	cols, err := schema.Columns(appCtx.Ctx, appCtx.DB, c.Table)
	if err != nil {
		return aerrors.NewRuntimeError("failed reading columns", err, "")
	}

	data := make([][]string, len(cols))
	for i, col := range cols {
		def := ""
		if col.Default.Valid {
			def = col.Default.V
		}
		data[i] = []string{col.Name, col.Type, yesNo(col.NotNull), yesNo(col.PrimaryKey), def}
	}

	header := []string{"Column", "Type", "Not Null", "Primary Key", "Default"}
	if err = renderTable(appCtx.Stdout, header, data); err != nil {
		return aerrors.NewRuntimeError("failed rendering table", err, "")
	}

	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
