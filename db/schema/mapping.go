package schema

import (
	"fmt"
	"strconv"
)

// From copies the value of a differently named old column.
func From(column string) ColumnMapping {
	return func(row Row) (any, error) {
		return row[column], nil
	}
}

// Value sets the column to a fixed value.
func Value(v any) ColumnMapping {
	return func(Row) (any, error) {
		return v, nil
	}
}

// Coalesce copies the first non-NULL, non-empty value of the given old
// columns, or def if there is none.
func Coalesce(def any, columns ...string) ColumnMapping {
	return func(row Row) (any, error) {
		for _, c := range columns {
			switch v := row[c].(type) {
			case nil:
			case string:
				if v != "" {
					return v, nil
				}
			case []byte:
				if len(v) > 0 {
					return string(v), nil
				}
			default:
				return v, nil
			}
		}
		return def, nil
	}
}

// KeyMap turns legacy keys of mixed types into integer keys. Integer keys
// are kept as they are, every other key gets the next free integer. So does
// a second spelling of an integer that is already taken, e.g. '005' after '5'. A KeyMap
// is shared between the mapping of the parent key and the mappings of the
// columns referencing it, so that references follow their parent.
//
// Keys must be assigned in ascending integer order first, e.g. with the
// OrderBy expression returned by IntegersFirst.
type KeyMap struct {
	next int64
	keys map[string]int64
	used map[int64]struct{}
}

// NewKeyMap returns an empty KeyMap.
func NewKeyMap() *KeyMap {
	return &KeyMap{
		next: 1,
		keys: make(map[string]int64),
		used: make(map[int64]struct{}),
	}
}

// IntegersFirst returns an ORDER BY expression that sorts integer keys of
// column, including integers stored as text, before all others.
func IntegersFirst(column string) string {
	c := quoteIdent(column)
	return fmt.Sprintf(
		"CASE WHEN typeof(%[1]s) = 'integer' OR (%[1]s <> '' AND %[1]s NOT GLOB '*[^0-9]*') "+
			"THEN 0 ELSE 1 END, CAST(%[1]s AS INTEGER), %[1]s", c)
}

// Assign maps the key in the old column to its integer key.
func (m *KeyMap) Assign(column string) ColumnMapping {
	return func(row Row) (any, error) {
		v := row[column]
		if v == nil {
			return nil, fmt.Errorf("missing key in column '%s'", column)
		}
		key := keyString(v)
		if id, ok := m.keys[key]; ok {
			return id, nil
		}

		id, isInt := asInt(v)
		if _, taken := m.used[id]; !isInt || taken {
			id = m.next
		}
		m.keys[key] = id
		m.used[id] = struct{}{}
		if id >= m.next {
			m.next = id + 1
		}

		return id, nil
	}
}

// Lookup maps a reference to a key assigned earlier. References to unknown
// keys are passed through unchanged, so that they're caught by the foreign
// key check.
func (m *KeyMap) Lookup(column string) ColumnMapping {
	return func(row Row) (any, error) {
		v := row[column]
		if v == nil {
			return nil, nil
		}
		if id, ok := m.keys[keyString(v)]; ok {
			return id, nil
		}
		return v, nil
	}
}

// LookupOrNull is like Lookup, but maps references to unknown keys to NULL.
// Use it for nullable references whose row should survive a missing parent.
func (m *KeyMap) LookupOrNull(column string) ColumnMapping {
	return func(row Row) (any, error) {
		v := row[column]
		if v == nil {
			return nil, nil
		}
		if id, ok := m.keys[keyString(v)]; ok {
			return id, nil
		}
		return nil, nil
	}
}

// Len returns the number of assigned keys.
func (m *KeyMap) Len() int {
	return len(m.keys)
}

func keyString(v any) string {
	switch k := v.(type) {
	case []byte:
		return string(k)
	case int64:
		return strconv.FormatInt(k, 10)
	default:
		return fmt.Sprint(k)
	}
}

func asInt(v any) (int64, bool) {
	switch k := v.(type) {
	case int64:
		return k, true
	case float64:
		if k == float64(int64(k)) {
			return int64(k), true
		}
	case string:
		if n, err := strconv.ParseInt(k, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}
