package backfill

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.hackfix.me/harvest/db/types"
)

// ErrIntegrity is matched by IntegrityError.
var ErrIntegrity = errors.New("data integrity violation")

// IntegrityError is returned for a legacy row that references a record that
// doesn't exist.
type IntegrityError struct {
	Table  string // referenced table
	Column string
	Value  any
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("referenced %s with %s %v doesn't exist", e.Table, e.Column, e.Value)
}

// Is makes errors.Is(err, ErrIntegrity) match.
func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}

// ReferenceSet holds the keys of a parent table, to check references before
// writing them.
type ReferenceSet struct {
	table  string
	column string
	keys   map[string]struct{}
}

// LoadReferences reads the non-NULL values of column in table.
func LoadReferences(ctx context.Context, q types.Querier, table, column string) (*ReferenceSet, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(
		`SELECT DISTINCT "%s" FROM "%s" WHERE "%[1]s" IS NOT NULL`, column, table))
	if err != nil {
		return nil, types.LoadError{ModelName: table + " keys", Err: err}
	}
	defer rows.Close()

	refs := &ReferenceSet{table: table, column: column, keys: map[string]struct{}{}}
	for rows.Next() {
		var v any
		if err = rows.Scan(&v); err != nil {
			return nil, types.ScanError{ModelName: table + " key", Err: err}
		}
		refs.keys[keyString(v)] = struct{}{}
	}
	if err = rows.Err(); err != nil {
		return nil, types.LoadError{ModelName: table + " keys", Err: err}
	}

	return refs, nil
}

// NewReferenceSet returns a set with the given keys.
func NewReferenceSet(table, column string, keys ...any) *ReferenceSet {
	refs := &ReferenceSet{table: table, column: column, keys: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		refs.keys[keyString(k)] = struct{}{}
	}
	return refs
}

// Has reports whether v is a key of the parent table.
func (r *ReferenceSet) Has(v any) bool {
	_, ok := r.keys[keyString(v)]
	return ok
}

// Check returns an IntegrityError if v isn't a key of the parent table.
func (r *ReferenceSet) Check(v any) error {
	if r.Has(v) {
		return nil
	}
	return &IntegrityError{Table: r.table, Column: r.column, Value: v}
}

// Len returns the number of keys.
func (r *ReferenceSet) Len() int {
	return len(r.keys)
}

func keyString(v any) string {
	switch k := v.(type) {
	case []byte:
		return string(k)
	case string:
		return k
	case int:
		return strconv.Itoa(k)
	case int64:
		return strconv.FormatInt(k, 10)
	case float64:
		if k == float64(int64(k)) {
			return strconv.FormatInt(int64(k), 10)
		}
	}
	return fmt.Sprint(v)
}
