package migrations

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// text is a string field of a legacy JSON blob. Old clients wrote numbers
// for some of these, e.g. zip codes and product IDs.
type text string

func (t *text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*t = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = text(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return errors.New("expected a string or a number")
		}
		*t = text(n.String())
	}
	return nil
}

// or returns t, or def if t is blank.
func (t text) or(def string) string {
	if s := strings.TrimSpace(string(t)); s != "" {
		return s
	}
	return def
}

// number is a numeric field of a legacy JSON blob, that may be quoted.
type number float64

func (n *number) UnmarshalJSON(data []byte) error {
	var t text
	if err := t.UnmarshalJSON(data); err != nil {
		return err
	}
	if t == "" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(string(t), 64)
	if err != nil {
		return errors.New("expected a number")
	}
	*n = number(f)
	return nil
}

// emptyBlob reports whether a serialized blob holds no data.
func emptyBlob(s string) bool {
	switch strings.TrimSpace(s) {
	case "", "{}", "[]", "null":
		return true
	}
	return false
}
