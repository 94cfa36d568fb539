package migrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"go.hackfix.me/harvest/db/schema"
	"go.hackfix.me/harvest/db/types"
)

// legacyTable is the ledger of the migration tool this one replaced. It
// recorded applied files by name, e.g. 001_initial_schema.js.
const legacyTable = "migrations"

var legacyNameRx = regexp.MustCompile(`^(\d+)`)

// AdoptLegacy imports the entries of the previous ledger into
// schema_migrations, so that the units they correspond to aren't applied
// again. It does nothing if schema_migrations already has entries or if there
// is no previous ledger. Entries that match no unit in reg are skipped.
// It returns the number of imported entries.
//
// q should be a transaction, so that the import is all or nothing.
func AdoptLegacy(
	ctx context.Context, q types.Querier, reg *Registry, runID string, logger *slog.Logger,
) (int, error) {
	store := NewVersionStore(q)
	n, err := store.Count(ctx)
	if err != nil || n > 0 {
		return 0, err
	}

	hasLegacy, err := schema.HasTable(ctx, q, legacyTable)
	if err != nil || !hasLegacy {
		return 0, err
	}

	type legacyEntry struct {
		name      string
		appliedAt sql.NullString
	}
	// The CAST keeps the driver from parsing the timestamp, which the old tool
	// stored in SQLite's default format.
	rows, err := q.QueryContext(ctx,
		`SELECT name, CAST(applied_at AS TEXT) FROM `+legacyTable+` ORDER BY name`)
	if err != nil {
		return 0, types.LoadError{ModelName: "legacy migration records", Err: err}
	}
	var entries []legacyEntry
	for rows.Next() {
		var e legacyEntry
		if err = rows.Scan(&e.name, &e.appliedAt); err != nil {
			_ = rows.Close()
			return 0, types.ScanError{ModelName: "legacy migration record", Err: err}
		}
		entries = append(entries, e)
	}
	if err = errors.Join(rows.Err(), rows.Close()); err != nil {
		return 0, types.LoadError{ModelName: "legacy migration records", Err: err}
	}

	seen := map[int]bool{}
	for _, e := range entries {
		m := legacyNameRx.FindStringSubmatch(e.name)
		if m == nil {
			logger.Warn("skipping unrecognized legacy migration record", "name", e.name)
			continue
		}
		version, _ := strconv.Atoi(m[1])
		if seen[version] {
			continue
		}
		u, ok := reg.Get(version)
		if !ok {
			logger.Warn("skipping legacy migration record without a matching migration",
				"name", e.name, "version", version)
			continue
		}
		seen[version] = true

		appliedAt := time.Unix(0, 0).UTC()
		if e.appliedAt.Valid {
			if t, perr := time.Parse(time.DateTime, e.appliedAt.String); perr == nil {
				appliedAt = t
			}
		}
		err = store.Record(ctx, VersionRecord{
			Version:   u.Version,
			Name:      u.Name,
			AppliedAt: appliedAt,
			RunID:     runID,
			Checksum:  u.Checksum,
		})
		if err != nil {
			return 0, err
		}
	}

	if len(seen) > 0 {
		logger.Info("adopted legacy migration records", "count", len(seen))
	}

	return len(seen), nil
}

func (r *Runner) adopt(ctx context.Context, conn *sql.Conn, reg *Registry, runID string, logger *slog.Logger) error {
	h := &Handle{conn: conn, logger: logger}
	err := h.Tx(ctx, func(q types.Querier) error {
		_, err := AdoptLegacy(ctx, q, reg, runID, logger)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed adopting legacy migration records: %w", err)
	}

	return nil
}
