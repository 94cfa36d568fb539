package migrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.hackfix.me/harvest/db/types"
)

// VersionRecord is the ledger entry of an applied unit.
type VersionRecord struct {
	Version       int
	Name          string
	AppliedAt     time.Time
	ExecutionTime time.Duration
	RunID         string
	Checksum      string
}

// VersionStore reads and writes the ledger of applied units, kept in the
// schema_migrations table.
type VersionStore struct {
	q types.Querier
}

// NewVersionStore returns a store that runs its queries on q. Pass a
// transaction to make a record part of it.
func NewVersionStore(q types.Querier) *VersionStore {
	return &VersionStore{q: q}
}

// Init creates the ledger table if it doesn't exist.
func (s *VersionStore) Init(ctx context.Context) error {
	_, err := s.q.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL,
		execution_time_ms INTEGER NOT NULL DEFAULT 0,
		run_id TEXT NOT NULL DEFAULT '',
		checksum TEXT NOT NULL DEFAULT ''
	)`)
	if err != nil {
		return fmt.Errorf("failed creating migration ledger: %w", err)
	}

	return nil
}

// IsApplied reports whether version was recorded as applied.
func (s *VersionStore) IsApplied(ctx context.Context, version int) (bool, error) {
	var found int
	err := s.q.QueryRowContext(ctx,
		`SELECT 1 FROM schema_migrations WHERE version = ?`, version).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, types.LoadError{ModelName: "migration record", Err: err}
	}

	return true, nil
}

// Record adds rec to the ledger.
func (s *VersionStore) Record(ctx context.Context, rec VersionRecord) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO schema_migrations
			(version, name, applied_at, execution_time_ms, run_id, checksum)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Version, rec.Name, rec.AppliedAt.UTC(),
		rec.ExecutionTime.Milliseconds(), rec.RunID, rec.Checksum)
	if err != nil {
		return fmt.Errorf("failed recording migration %03d_%s: %w",
			rec.Version, rec.Name, types.Err("migration record", fmt.Sprintf("version %d", rec.Version), err))
	}

	return nil
}

// Delete removes the record of version. It returns a NoResultError if
// version isn't recorded.
func (s *VersionStore) Delete(ctx context.Context, version int) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = ?`, version)
	if err != nil {
		return fmt.Errorf("failed deleting migration record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed getting affected rows: %w", err)
	}
	if n == 0 {
		return types.NoResultError{ModelName: "migration record", ID: fmt.Sprintf("version %d", version)}
	}

	return nil
}

// Applied returns the ledger keyed by version.
func (s *VersionStore) Applied(ctx context.Context) (map[int]VersionRecord, error) {
	recs, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	applied := make(map[int]VersionRecord, len(recs))
	for _, rec := range recs {
		applied[rec.Version] = rec
	}

	return applied, nil
}

// List returns the ledger in version order.
func (s *VersionStore) List(ctx context.Context) ([]VersionRecord, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT
			version, name, applied_at, execution_time_ms, run_id, checksum
		FROM schema_migrations
		ORDER BY version ASC`)
	if err != nil {
		return nil, types.LoadError{ModelName: "migration records", Err: err}
	}
	defer rows.Close()

	var recs []VersionRecord
	for rows.Next() {
		var (
			rec  VersionRecord
			msec int64
		)
		err = rows.Scan(&rec.Version, &rec.Name, &rec.AppliedAt, &msec, &rec.RunID, &rec.Checksum)
		if err != nil {
			return nil, types.ScanError{ModelName: "migration record", Err: err}
		}
		rec.ExecutionTime = time.Duration(msec) * time.Millisecond
		recs = append(recs, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, types.LoadError{ModelName: "migration records", Err: err}
	}

	return recs, nil
}

// Count returns the number of ledger entries.
func (s *VersionStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&n); err != nil {
		return 0, types.LoadError{ModelName: "migration records", Err: err}
	}
	return n, nil
}
