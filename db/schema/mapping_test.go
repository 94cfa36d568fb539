package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyMap(t *testing.T) {
	t.Parallel()

	keys := NewKeyMap()
	assign, lookup := keys.Assign("id"), keys.Lookup("product_id")

	// Integer keys come first, as sorted by IntegersFirst.
	for _, tc := range []struct {
		key any
		exp int64
	}{
		{key: int64(2), exp: 2},
		{key: "7", exp: 7},
		{key: "prod_apple", exp: 8},
		{key: []byte("prod_kale"), exp: 9},
		{key: "prod_apple", exp: 8},
	} {
		id, err := assign(Row{"id": tc.key})
		require.NoError(t, err)
		assert.Equal(t, tc.exp, id, tc.key)
	}
	assert.Equal(t, 4, keys.Len())

	_, err := assign(Row{"id": nil})
	assert.EqualError(t, err, "missing key in column 'id'")

	for _, tc := range []struct {
		ref any
		exp any
	}{
		{ref: "prod_kale", exp: int64(9)},
		{ref: int64(7), exp: int64(7)},
		{ref: "prod_gone", exp: "prod_gone"},
		{ref: nil, exp: nil},
	} {
		id, err := lookup(Row{"product_id": tc.ref})
		require.NoError(t, err)
		assert.Equal(t, tc.exp, id, tc.ref)
	}

	orNull := keys.LookupOrNull("product_id")
	id, err := orNull(Row{"product_id": "prod_apple"})
	require.NoError(t, err)
	assert.Equal(t, int64(8), id)
	id, err = orNull(Row{"product_id": "prod_gone"})
	require.NoError(t, err)
	assert.Nil(t, id)
}

func TestKeyMapIntegerSpellings(t *testing.T) {
	t.Parallel()

	keys := NewKeyMap()
	assign, lookup := keys.Assign("id"), keys.Lookup("product_id")

	for _, tc := range []struct {
		key any
		exp int64
	}{
		{key: "5", exp: 5},
		{key: "005", exp: 6},
		{key: "6", exp: 7},
		{key: int64(5), exp: 5},
		{key: "+5", exp: 8},
		{key: "p-x", exp: 9},
	} {
		id, err := assign(Row{"id": tc.key})
		require.NoError(t, err)
		assert.Equal(t, tc.exp, id, tc.key)
	}
	assert.Equal(t, 5, keys.Len())

	id, err := lookup(Row{"product_id": "005"})
	require.NoError(t, err)
	assert.Equal(t, int64(6), id)
}

func TestCoalesce(t *testing.T) {
	t.Parallel()

	m := Coalesce("User Profile", "name", "full_name")

	tests := []struct {
		name string
		row  Row
		exp  any
	}{
		{name: "ok/first", row: Row{"name": "Home", "full_name": "Jo"}, exp: "Home"},
		{name: "ok/empty_first", row: Row{"name": "", "full_name": "Jo"}, exp: "Jo"},
		{name: "ok/bytes", row: Row{"name": []byte("Farm")}, exp: "Farm"},
		{name: "ok/number", row: Row{"name": int64(5)}, exp: int64(5)},
		{name: "ok/default", row: Row{"name": nil}, exp: "User Profile"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v, err := m(tt.row)
			require.NoError(t, err)
			assert.Equal(t, tt.exp, v)
		})
	}
}

func TestIntegersFirst(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		`CASE WHEN typeof("id") = 'integer' OR ("id" <> '' AND "id" NOT GLOB '*[^0-9]*') `+
			`THEN 0 ELSE 1 END, CAST("id" AS INTEGER), "id"`,
		IntegersFirst("id"))
}
