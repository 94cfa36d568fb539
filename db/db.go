package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	//nolint:revive,nolintlint // Idiomatic way of loading DB libraries.
	_ "github.com/glebarez/go-sqlite"

	"go.hackfix.me/harvest/db/migrations"
	"go.hackfix.me/harvest/db/migrator"
	"go.hackfix.me/harvest/db/types"
)

// DB wraps sql.DB with the storefront migration set.
type DB struct {
	*sql.DB
	timeNow       func() time.Time
	path          string
	retryInterval time.Duration
}

var _ types.Querier = (*DB)(nil)

// Open creates and configures a new SQLite database connection. Foreign key
// enforcement is enabled on every connection of the pool.
func Open(ctx context.Context, path string, timeNow func() time.Time) (*DB, error) {
	sqliteDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed opening SQLite database: %w", err)
	}

	if strings.Contains(path, "mode=memory") || strings.Contains(path, ":memory:") {
		// An in-memory database is discarded with its last connection.
		// See https://github.com/mattn/go-sqlite3#faq
		sqliteDB.SetMaxIdleConns(10)
		sqliteDB.SetConnMaxLifetime(0)
	}

	if err = sqliteDB.PingContext(ctx); err != nil {
		_ = sqliteDB.Close()
		return nil, fmt.Errorf("failed connecting to SQLite database: %w", err)
	}

	return &DB{DB: sqliteDB, path: path, timeNow: timeNow, retryInterval: time.Second}, nil
}

// dsn appends the connection pragmas to path. PRAGMA statements only affect
// the connection they run on, so they must be part of the DSN.
func dsn(path string) string {
	const pragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if !strings.HasPrefix(path, "file:") && !strings.Contains(path, "?") {
		path = "file:" + path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	return path + sep + pragmas
}

// Units returns the storefront migration set.
func (d *DB) Units() ([]migrator.Unit, error) {
	//nolint:wrapcheck // Registry errors are descriptive already.
	return migrations.All(migrations.WithTimeNow(d.timeNow))
}

// Migrate applies all pending migrations. It must run before the database is
// used for anything else. Databases created by the previous migration tool
// have their ledger imported on the first run.
//
// If another process holds the database lock for longer than the busy
// timeout, the run is retried a few times, as long as the failure left
// nothing half applied.
func (d *DB) Migrate(ctx context.Context, logger *slog.Logger) (migrator.RunResult, error) {
	units, err := d.Units()
	if err != nil {
		return migrator.RunResult{}, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var total migrator.RunResult
	run := func() error {
		res, rerr := migrator.RunMigrations(ctx, d.DB, units, d.runnerOptions(logger)...)
		total.Applied += res.Applied
		if res.LastVersion > 0 {
			total.LastVersion = res.LastVersion
		}
		total.RunID = res.RunID
		if rerr != nil && !retryable(rerr) {
			return backoff.Permanent(rerr)
		}
		return rerr
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.retryInterval
	err = backoff.RetryNotify(run,
		backoff.WithContext(backoff.WithMaxRetries(b, maxMigrateRetries), ctx),
		func(err error, wait time.Duration) {
			logger.Warn("database is locked, retrying migrations",
				"path", d.path, "wait", wait.Round(time.Millisecond), "error", err)
		})

	//nolint:wrapcheck // Migration errors are reported as is.
	return total, err
}

const maxMigrateRetries = 4

// retryable reports whether a failed migration run can be started again. Only
// lock contention is retried, and only if no unit was left partially applied.
func retryable(err error) bool {
	if !types.IsBusy(err) {
		return false
	}
	var ferr *migrator.FatalMigrationError
	if errors.As(err, &ferr) {
		return ferr.Transactional
	}

	return true
}

// Status reports the migration state of the database without changing it.
func (d *DB) Status(ctx context.Context) (*migrator.Status, error) {
	units, err := d.Units()
	if err != nil {
		return nil, err
	}

	//nolint:wrapcheck // Migration errors are reported as is.
	return migrator.NewRunner(d.DB, d.runnerOptions(nil)...).Status(ctx, units)
}

// Revert undoes the applied migration with the given version.
func (d *DB) Revert(ctx context.Context, version int, logger *slog.Logger) error {
	units, err := d.Units()
	if err != nil {
		return err
	}

	//nolint:wrapcheck // Migration errors are reported as is.
	return migrator.NewRunner(d.DB, d.runnerOptions(logger)...).Revert(ctx, units, version)
}

func (d *DB) runnerOptions(logger *slog.Logger) []migrator.Option {
	opts := []migrator.Option{
		migrator.WithTimeNow(d.timeNow),
		migrator.WithLegacyAdoption(),
	}
	if logger != nil {
		opts = append(opts, migrator.WithLogger(logger.With("path", d.path)))
	}

	return opts
}

// Path returns the path the database was opened with.
func (d *DB) Path() string {
	return d.path
}

// TimeNow returns the current system time.
func (d *DB) TimeNow() time.Time {
	return d.timeNow()
}
