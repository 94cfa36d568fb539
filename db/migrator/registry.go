package migrator

import (
	"cmp"
	"slices"
)

// Registry is a validated, ordered set of units.
type Registry struct {
	units     []Unit
	byVersion map[int]Unit
}

// NewRegistry validates units and sorts them by version. Units with an
// invalid identifier, without an apply function, or sharing a version with
// another unit are rejected with a RegistryConflictError.
func NewRegistry(units ...Unit) (*Registry, error) {
	r := &Registry{
		units:     slices.Clone(units),
		byVersion: make(map[int]Unit, len(units)),
	}

	slices.SortStableFunc(r.units, func(a, b Unit) int {
		return cmp.Compare(a.Version, b.Version)
	})

	for _, u := range r.units {
		if v, _, err := ParseID(u.ID); err != nil || v != u.Version {
			return nil, &RegistryConflictError{
				Version: u.Version, IDs: []string{u.ID}, Reason: "invalid identifier",
			}
		}
		if u.Apply == nil {
			return nil, &RegistryConflictError{
				Version: u.Version, IDs: []string{u.ID}, Reason: "missing apply function",
			}
		}
		if prev, ok := r.byVersion[u.Version]; ok {
			return nil, &RegistryConflictError{
				Version: u.Version, IDs: []string{prev.ID, u.ID}, Reason: "duplicate version",
			}
		}
		r.byVersion[u.Version] = u
	}

	return r, nil
}

// Discover validates units and returns them sorted by version.
func Discover(units ...Unit) ([]Unit, error) {
	r, err := NewRegistry(units...)
	if err != nil {
		return nil, err
	}
	return r.Units(), nil
}

// Units returns the registered units in version order.
func (r *Registry) Units() []Unit {
	return slices.Clone(r.units)
}

// Get returns the unit with the given version.
func (r *Registry) Get(version int) (Unit, bool) {
	u, ok := r.byVersion[version]
	return u, ok
}

// Latest returns the highest registered version, or 0 if there are no units.
func (r *Registry) Latest() int {
	if len(r.units) == 0 {
		return 0
	}
	return r.units[len(r.units)-1].Version
}

// Missing returns the versions between 1 and Latest that have no unit. Gaps
// aren't an error, but usually point to a unit that was removed.
func (r *Registry) Missing() []int {
	var missing []int
	for v := 1; v < r.Latest(); v++ {
		if _, ok := r.byVersion[v]; !ok {
			missing = append(missing, v)
		}
	}

	return missing
}
