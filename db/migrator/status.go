package migrator

import (
	"context"

	"go.hackfix.me/harvest/db/schema"
)

// Status describes the state of a database relative to a set of units.
type Status struct {
	Applied []VersionRecord
	Pending []Unit
	// Unknown holds records of versions that have no registered unit, e.g.
	// written by a newer release.
	Unknown []VersionRecord
	// Modified holds records whose checksum differs from the registered unit,
	// i.e. the SQL file was changed after it was applied.
	Modified []VersionRecord
	// Missing holds the gaps in the registered versions.
	Missing []int
	// Current is the highest applied version.
	Current int
	// Latest is the highest registered version.
	Latest int
}

// Status compares the ledger with units. It doesn't change the database, so a
// database without a ledger is reported with all units pending.
func (r *Runner) Status(ctx context.Context, units []Unit) (*Status, error) {
	reg, err := NewRegistry(units...)
	if err != nil {
		return nil, err
	}

	st := &Status{Missing: reg.Missing(), Latest: reg.Latest()}

	hasLedger, err := schema.HasTable(ctx, r.db, "schema_migrations")
	if err != nil {
		return nil, err
	}
	if hasLedger {
		st.Applied, err = NewVersionStore(r.db).List(ctx)
		if err != nil {
			return nil, err
		}
	}

	applied := make(map[int]bool, len(st.Applied))
	for _, rec := range st.Applied {
		applied[rec.Version] = true
		st.Current = max(st.Current, rec.Version)

		u, ok := reg.Get(rec.Version)
		switch {
		case !ok:
			st.Unknown = append(st.Unknown, rec)
		case u.Checksum != "" && rec.Checksum != "" && u.Checksum != rec.Checksum:
			st.Modified = append(st.Modified, rec)
		}
	}

	for _, u := range reg.Units() {
		if !applied[u.Version] {
			st.Pending = append(st.Pending, u)
		}
	}

	return st, nil
}
