package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"go.hackfix.me/harvest/db/types"
)

// RebuildTable describes the target shape of one table in a rebuild.
type RebuildTable struct {
	Name string
	// Definition holds the column and constraint definitions of the new
	// table, i.e. the part between the parentheses of CREATE TABLE.
	Definition string
	// Dependents lists the tables with foreign keys referencing this one.
	// They must be part of the same plan.
	Dependents []string
	// Repopulate, if set, copies the existing rows into the new table.
	// Otherwise the table is recreated empty.
	Repopulate *Repopulate
	// After holds statements run once the table is created and populated,
	// such as CREATE INDEX or CREATE TRIGGER.
	After []string
}

// RebuildPlan is the set of tables to rebuild together.
type RebuildPlan []RebuildTable

// Row is a row of a table being rebuilt, keyed by the old column names.
type Row map[string]any

// ColumnMapping computes the value of one column of the new table from a row
// of the old table. It may return ErrSkipRow to leave the row out.
type ColumnMapping func(row Row) (any, error)

// Repopulate configures how the old rows are copied into the new table.
type Repopulate struct {
	// Columns maps new column names to their mapping. New columns without a
	// mapping are copied from the old column with the same name, if there is
	// one, and get their default value otherwise.
	Columns map[string]ColumnMapping
	// OrderBy is an optional ORDER BY expression applied when reading the old
	// rows.
	OrderBy string
}

// TableResult reports what happened to the rows of a rebuilt table.
type TableResult struct {
	Name     string
	Copied   int
	Skipped  int
	Orphaned int
}

// RebuildResult reports the outcome of a rebuild, per table in creation order.
type RebuildResult struct {
	Tables []TableResult
}

// Table returns the result of the named table.
func (r *RebuildResult) Table(name string) TableResult {
	for _, t := range r.Tables {
		if strings.EqualFold(t.Name, name) {
			return t
		}
	}
	return TableResult{Name: name}
}

// Option configures schema operations.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger.With("component", "schema")
	}
}

func newOptions(opts []Option) *options {
	o := &options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Rebuild recreates the tables of the plan with their new definitions, and
// copies the existing rows over. Tables are dropped leaf-to-root and created
// root-to-leaf, with foreign key enforcement suspended on conn. Everything
// after that happens in a single transaction, so on failure the old tables are
// left intact.
//
// Once the rows are copied, rows whose referenced parent no longer exists are
// deleted and counted in the result.
//
// conn must not have an open transaction.
func Rebuild(ctx context.Context, conn *sql.Conn, plan RebuildPlan, opts ...Option) (*RebuildResult, error) {
	o := newOptions(opts)

	order, err := plan.createOrder()
	if err != nil {
		return nil, &RebuildError{Step: "plan", Err: err}
	}

	res := &RebuildResult{}
	err = WithForeignKeysDisabled(ctx, conn, func() error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return &RebuildError{Step: "begin", Err: err}
		}

		r := &rebuilder{q: tx, order: order, logger: o.logger}
		if err = r.run(ctx); err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				err = errors.Join(err, rerr)
			}
			return err
		}

		if err = tx.Commit(); err != nil {
			return &RebuildError{Step: "commit", Err: err}
		}
		res.Tables = r.results

		return nil
	})
	if err != nil {
		var rerr *RebuildError
		if !errors.As(err, &rerr) {
			err = &RebuildError{Step: "foreign keys", Err: err}
		}
		return nil, err
	}

	return res, nil
}

// createOrder returns the tables sorted so that every table comes after the
// tables it references. Ties keep the plan order.
func (p RebuildPlan) createOrder() ([]RebuildTable, error) {
	idx := make(map[string]int, len(p))
	for i, t := range p {
		key := strings.ToLower(t.Name)
		if _, ok := idx[key]; ok {
			return nil, fmt.Errorf("table '%s' is listed more than once", t.Name)
		}
		idx[key] = i
	}

	parents := make([]int, len(p))
	for _, t := range p {
		for _, d := range t.Dependents {
			j, ok := idx[strings.ToLower(d)]
			if !ok {
				return nil, fmt.Errorf(
					"table '%s' references '%s' but isn't part of the plan", d, t.Name)
			}
			if j == idx[strings.ToLower(t.Name)] {
				continue
			}
			parents[j]++
		}
	}

	order := make([]RebuildTable, 0, len(p))
	done := make([]bool, len(p))
	for len(order) < len(p) {
		next := -1
		for i := range p {
			if !done[i] && parents[i] == 0 {
				next = i
				break
			}
		}
		if next == -1 {
			var cycle []string
			for i, t := range p {
				if !done[i] {
					cycle = append(cycle, t.Name)
				}
			}
			return nil, fmt.Errorf("dependency cycle between tables %s", strings.Join(cycle, ", "))
		}

		done[next] = true
		order = append(order, p[next])
		for _, d := range p[next].Dependents {
			j := idx[strings.ToLower(d)]
			if j != next {
				parents[j]--
			}
		}
	}

	return order, nil
}

type rebuilder struct {
	q       types.Querier
	order   []RebuildTable
	logger  *slog.Logger
	results []TableResult
	// snapshots holds the tables whose old rows were saved.
	snapshots map[string]bool
}

func (r *rebuilder) run(ctx context.Context) error {
	r.snapshots = make(map[string]bool)
	r.results = make([]TableResult, len(r.order))
	for i, t := range r.order {
		r.results[i].Name = t.Name
	}

	for _, t := range r.order {
		if t.Repopulate == nil {
			continue
		}
		if err := r.snapshot(ctx, t.Name); err != nil {
			return &RebuildError{Step: "snapshot", Table: t.Name, Err: err}
		}
	}

	for i := len(r.order) - 1; i >= 0; i-- {
		name := r.order[i].Name
		if _, err := r.q.ExecContext(ctx, `DROP TABLE IF EXISTS `+quoteIdent(name)); err != nil {
			return &RebuildError{Step: "drop", Table: name, Err: err}
		}
	}

	for _, t := range r.order {
		if err := createTable(ctx, r.q, t.Name, t.Definition); err != nil {
			return &RebuildError{Step: "create", Table: t.Name, Err: err}
		}
	}

	for i, t := range r.order {
		if t.Repopulate == nil || !r.snapshots[t.Name] {
			continue
		}
		if err := r.repopulate(ctx, t, &r.results[i]); err != nil {
			return err
		}
	}

	if err := r.deleteOrphans(ctx); err != nil {
		return err
	}

	for _, t := range r.order {
		for _, stmt := range t.After {
			if _, err := r.q.ExecContext(ctx, stmt); err != nil {
				return &RebuildError{Step: "after", Table: t.Name, Err: err}
			}
		}
	}

	for name := range r.snapshots {
		if _, err := r.q.ExecContext(ctx, `DROP TABLE temp.`+snapshotName(name)); err != nil {
			return &RebuildError{Step: "cleanup", Table: name, Err: err}
		}
	}

	for _, res := range r.results {
		r.logger.Debug("rebuilt table", "table", res.Name,
			"copied", res.Copied, "skipped", res.Skipped, "orphaned", res.Orphaned)
	}

	return nil
}

func snapshotName(table string) string {
	return quoteIdent("_rebuild_" + table)
}

// snapshot copies the rows of a table into a temporary table. Tables that
// don't exist yet have nothing to copy and are skipped.
func (r *rebuilder) snapshot(ctx context.Context, table string) error {
	exists, err := HasTable(ctx, r.q, table)
	if err != nil {
		return err
	}
	if !exists {
		r.logger.Debug("nothing to copy, table doesn't exist", "table", table)
		return nil
	}

	name := snapshotName(table)
	if _, err = r.q.ExecContext(ctx, `DROP TABLE IF EXISTS temp.`+name); err != nil {
		return err //nolint:wrapcheck // Wrapped in RebuildError.
	}
	_, err = r.q.ExecContext(ctx, fmt.Sprintf(
		`CREATE TEMP TABLE %s AS SELECT * FROM main.%s`, name, quoteIdent(table)))
	if err != nil {
		return err //nolint:wrapcheck // Wrapped in RebuildError.
	}
	r.snapshots[table] = true

	return nil
}

func (r *rebuilder) repopulate(ctx context.Context, t RebuildTable, res *TableResult) error {
	fail := func(err error) error {
		return &RebuildError{Step: "repopulate", Table: t.Name, Err: err}
	}

	query := `SELECT * FROM temp.` + snapshotName(t.Name)
	if t.Repopulate.OrderBy != "" {
		query += ` ORDER BY ` + t.Repopulate.OrderBy
	}
	srcCols, rows, err := readRows(ctx, r.q, query)
	if err != nil {
		return fail(err)
	}

	newCols, err := Columns(ctx, r.q, t.Name)
	if err != nil {
		return fail(err)
	}

	src := make(map[string]string, len(srcCols))
	for _, c := range srcCols {
		src[strings.ToLower(c)] = c
	}
	mappings := make(map[string]ColumnMapping, len(t.Repopulate.Columns))
	for name, m := range t.Repopulate.Columns {
		mappings[strings.ToLower(name)] = m
	}

	type target struct {
		name    string
		mapping ColumnMapping
		source  string
	}
	var targets []target
	for _, c := range newCols {
		key := strings.ToLower(c.Name)
		if m, ok := mappings[key]; ok {
			targets = append(targets, target{name: c.Name, mapping: m})
			delete(mappings, key)
		} else if s, ok := src[key]; ok {
			targets = append(targets, target{name: c.Name, source: s})
		}
	}
	if len(mappings) > 0 {
		unknown := slices.Sorted(maps.Keys(mappings))
		return fail(fmt.Errorf("mappings for unknown columns: %s", strings.Join(unknown, ", ")))
	}
	if len(targets) == 0 {
		return fail(errors.New("no columns in common with the old table"))
	}

	names := make([]string, len(targets))
	for i, tg := range targets {
		names[i] = quoteIdent(tg.name)
	}
	insert := fmt.Sprintf(`INSERT INTO main.%s (%s) VALUES (%s)`,
		quoteIdent(t.Name), strings.Join(names, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(targets)), ", "))

	vals := make([]any, len(targets))
rows:
	for _, row := range rows {
		for i, tg := range targets {
			if tg.mapping == nil {
				vals[i] = row[tg.source]
				continue
			}
			v, merr := tg.mapping(row)
			if errors.Is(merr, ErrSkipRow) {
				res.Skipped++
				continue rows
			}
			if merr != nil {
				return fail(fmt.Errorf("column '%s': %w", tg.name, merr))
			}
			vals[i] = v
		}
		if _, err = r.q.ExecContext(ctx, insert, vals...); err != nil {
			return fail(types.Err(t.Name, "the same key", err))
		}
		res.Copied++
	}

	return nil
}

// deleteOrphans removes rows of the rebuilt tables whose foreign keys point to
// missing rows. Removing a row can orphan rows referencing it, so this
// repeats until a pass finds nothing.
func (r *rebuilder) deleteOrphans(ctx context.Context) error {
	for pass := 0; ; pass++ {
		var deleted int
		for i, t := range r.order {
			rowids, err := orphanRows(ctx, r.q, t.Name)
			if err != nil {
				return &RebuildError{Step: "foreign key check", Table: t.Name, Err: err}
			}
			for _, id := range rowids {
				_, err = r.q.ExecContext(ctx,
					fmt.Sprintf(`DELETE FROM main.%s WHERE rowid = ?`, quoteIdent(t.Name)), id)
				if err != nil {
					return &RebuildError{Step: "delete orphans", Table: t.Name, Err: err}
				}
			}
			if len(rowids) > 0 {
				r.logger.Warn("removed rows referencing missing records",
					"table", t.Name, "count", len(rowids))
			}
			r.results[i].Orphaned += len(rowids)
			r.results[i].Copied -= len(rowids)
			deleted += len(rowids)
		}
		if deleted == 0 {
			return nil
		}
		if pass > len(r.order) {
			return &RebuildError{
				Step: "delete orphans",
				Err:  errors.New("foreign key violations remain after repeated cleanup"),
			}
		}
	}
}

func orphanRows(ctx context.Context, q types.Querier, table string) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `PRAGMA foreign_key_check(`+quoteIdent(table)+`)`)
	if err != nil {
		return nil, err //nolint:wrapcheck // Wrapped in RebuildError.
	}
	defer rows.Close()

	var (
		ids  []int64
		seen = map[int64]bool{}
	)
	for rows.Next() {
		var (
			tbl, parent string
			rowid       sql.NullInt64
			fkid        int
		)
		if err = rows.Scan(&tbl, &rowid, &parent, &fkid); err != nil {
			return nil, types.ScanError{ModelName: "foreign key violation", Err: err}
		}
		if !rowid.Valid {
			return nil, fmt.Errorf("table '%s' has no rowid, can't remove rows referencing missing '%s' records", tbl, parent)
		}
		if !seen[rowid.Int64] {
			seen[rowid.Int64] = true
			ids = append(ids, rowid.Int64)
		}
	}

	return ids, rows.Err()
}

// readRows reads all rows of query into memory, so that the connection is
// free for inserts while iterating.
func readRows(ctx context.Context, q types.Querier, query string) ([]string, []Row, error) {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, err //nolint:wrapcheck // Wrapped in RebuildError.
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err //nolint:wrapcheck // Wrapped in RebuildError.
	}

	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err = rows.Scan(ptrs...); err != nil {
			return nil, nil, types.ScanError{ModelName: "row", Err: err}
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}

	return cols, out, rows.Err()
}
