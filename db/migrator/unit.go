package migrator

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
)

var idRx = regexp.MustCompile(`^(\d+)_([A-Za-z0-9_]+)$`)

// ApplyFunc makes the changes of a unit through h.
type ApplyFunc func(ctx context.Context, h *Handle) error

// Revert is the optional inverse of a unit. The zero value is ForwardOnly.
type Revert struct {
	fn ApplyFunc
}

// ForwardOnly marks a unit that can't be reverted.
func ForwardOnly() Revert {
	return Revert{}
}

// RevertWith returns a Revert that runs fn.
func RevertWith(fn ApplyFunc) Revert {
	return Revert{fn: fn}
}

// Supported reports whether the unit can be reverted.
func (r Revert) Supported() bool {
	return r.fn != nil
}

// Run reverts the unit. It returns ErrRevertUnsupported for forward-only
// units.
func (r Revert) Run(ctx context.Context, h *Handle) error {
	if r.fn == nil {
		return ErrRevertUnsupported
	}
	return r.fn(ctx, h)
}

// Unit is a single versioned schema change.
type Unit struct {
	ID      string // e.g. 006_box_items
	Version int
	Name    string
	Apply   ApplyFunc
	Revert  Revert
	// NoTransaction runs the unit without a wrapping transaction. This is
	// required for units that change connection state that SQLite ignores
	// inside a transaction, such as foreign key enforcement.
	NoTransaction bool
	// Checksum identifies the contents of SQL units. It's empty for units
	// written in Go.
	Checksum string
	// Source is "go", or the path of the SQL file the unit was loaded from.
	Source string
}

// UnitOption configures a Unit.
type UnitOption func(*Unit)

// WithRevert sets the function that reverts the unit.
func WithRevert(fn ApplyFunc) UnitOption {
	return func(u *Unit) {
		u.Revert = RevertWith(fn)
	}
}

// WithoutTransaction makes the unit run outside of a transaction.
func WithoutTransaction() UnitOption {
	return func(u *Unit) {
		u.NoTransaction = true
	}
}

// NewUnit returns a unit with the given identifier, in the form
// NNN_description. An invalid identifier isn't an error here, but the unit
// will be rejected when registered.
func NewUnit(id string, apply ApplyFunc, opts ...UnitOption) Unit {
	u := Unit{ID: id, Apply: apply, Source: "go"}
	if v, name, err := ParseID(id); err == nil {
		u.Version, u.Name = v, name
	}
	for _, opt := range opts {
		opt(&u)
	}

	return u
}

// ParseID splits a unit identifier into its version and name.
func ParseID(id string) (version int, name string, err error) {
	m := idRx.FindStringSubmatch(id)
	if m == nil {
		return 0, "", fmt.Errorf("invalid migration identifier '%s': expected NNN_description", id)
	}
	version, err = strconv.Atoi(m[1])
	if err != nil || version < 1 {
		return 0, "", fmt.Errorf("invalid migration identifier '%s': version must be a positive number", id)
	}

	return version, m[2], nil
}

func (u Unit) String() string {
	return u.ID
}
