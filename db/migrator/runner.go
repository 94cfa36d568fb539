package migrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nrednav/cuid2"

	"go.hackfix.me/harvest/db/schema"
)

// Runner applies pending units to a database, one at a time and in version
// order. It stops at the first unit that fails.
type Runner struct {
	db          *sql.DB
	logger      *slog.Logger
	timeNow     func() time.Time
	newRunID    func() string
	adoptLegacy bool
}

// RunResult reports the outcome of a run.
type RunResult struct {
	// Applied is the number of units applied by this run.
	Applied int
	// LastVersion is the highest applied version after the run.
	LastVersion int
	RunID       string
}

// NewRunner returns a new Runner for db.
func NewRunner(db *sql.DB, opts ...Option) *Runner {
	r := &Runner{db: db}
	for _, opt := range append(DefaultOptions(), opts...) {
		opt(r)
	}
	return r
}

// RunMigrations validates units and applies the pending ones. It's meant to
// be called once at process start, before the database is used for anything
// else.
func RunMigrations(ctx context.Context, db *sql.DB, units []Unit, opts ...Option) (RunResult, error) {
	return NewRunner(db, opts...).ApplyPending(ctx, units)
}

// ApplyPending applies the units that aren't recorded as applied yet.
//
// All statements of a run go through a single dedicated connection, since
// SQLite scopes temporary tables and pragmas to the connection.
//
// Transactional units are recorded in the same transaction as their changes,
// so a failing unit leaves neither changes nor a record behind, and is
// retried on the next run. Units that run without a transaction are recorded
// only after they succeed. If one fails, the returned FatalMigrationError
// says that manual inspection is needed.
func (r *Runner) ApplyPending(ctx context.Context, units []Unit) (RunResult, error) {
	res := RunResult{RunID: r.newRunID()}

	reg, err := NewRegistry(units...)
	if err != nil {
		return res, err
	}

	logger := r.logger.With("run_id", res.RunID)

	conn, err := r.db.Conn(ctx)
	if err != nil {
		return res, fmt.Errorf("failed acquiring database connection: %w", err)
	}
	defer conn.Close()

	store := NewVersionStore(conn)
	if err = store.Init(ctx); err != nil {
		return res, err
	}

	if r.adoptLegacy {
		if err = r.adopt(ctx, conn, reg, res.RunID, logger); err != nil {
			return res, err
		}
	}

	applied, err := store.Applied(ctx)
	if err != nil {
		return res, err
	}

	var pending []Unit
	for v := range applied {
		res.LastVersion = max(res.LastVersion, v)
	}
	for _, u := range reg.Units() {
		if _, ok := applied[u.Version]; !ok {
			pending = append(pending, u)
		}
	}

	if len(pending) == 0 {
		logger.Debug("database schema is up to date", "version", res.LastVersion)
		return res, nil
	}

	logger.Info("applying migrations",
		"pending", len(pending), "current_version", res.LastVersion)

	for _, u := range pending {
		if err = ctx.Err(); err != nil {
			return res, fmt.Errorf("migration run stopped before %s: %w", u.ID, err)
		}
		if u.Version < res.LastVersion {
			logger.Warn("applying migration out of order",
				"version", u.Version, "name", u.Name, "current_version", res.LastVersion)
		}
		if err = r.apply(ctx, conn, u, res.RunID, logger); err != nil {
			return res, err
		}
		res.Applied++
		res.LastVersion = max(res.LastVersion, u.Version)
	}

	logger.Info("applied migrations", "count", res.Applied, "version", res.LastVersion)

	return res, nil
}

func (r *Runner) apply(ctx context.Context, conn *sql.Conn, u Unit, runID string, logger *slog.Logger) error {
	ulog := logger.With("version", u.Version, "name", u.Name)
	ulog.Info("applying migration", "transactional", !u.NoTransaction)

	fail := func(err error) error {
		ferr := &FatalMigrationError{
			Version:       u.Version,
			Name:          u.Name,
			Step:          innermostStep(err),
			Transactional: !u.NoTransaction,
			RunID:         runID,
			Err:           err,
		}
		ulog.Error("migration failed", "step", ferr.Step, "transactional", ferr.Transactional, "error", err)
		return ferr
	}

	start := r.timeNow()
	record := func() VersionRecord {
		now := r.timeNow()
		return VersionRecord{
			Version:       u.Version,
			Name:          u.Name,
			AppliedAt:     now,
			ExecutionTime: now.Sub(start),
			RunID:         runID,
			Checksum:      u.Checksum,
		}
	}

	if u.NoTransaction {
		h := &Handle{conn: conn, logger: ulog}
		if err := u.Apply(ctx, h); err != nil {
			return fail(err)
		}
		if err := r.checkForeignKeys(ctx, conn, ulog); err != nil {
			return fail(Step("restore foreign key enforcement", err))
		}
		if err := NewVersionStore(conn).Record(ctx, record()); err != nil {
			return fail(Step("record version", err))
		}
	} else {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fail(Step("begin transaction", err))
		}

		h := &Handle{conn: conn, tx: tx, logger: ulog}
		err = u.Apply(ctx, h)
		if err == nil {
			err = Step("record version", NewVersionStore(tx).Record(ctx, record()))
		}
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				err = errors.Join(err, fmt.Errorf("failed rolling back: %w", rerr))
			}
			return fail(err)
		}
		if err = tx.Commit(); err != nil {
			return fail(Step("commit", err))
		}
	}

	ulog.Info("applied migration", "duration", r.timeNow().Sub(start).Round(time.Millisecond))

	return nil
}

// Revert undoes the applied unit with the given version, and removes its
// record from the ledger. Later units are left alone, so reverting is only
// safe for units nothing after them depends on.
//
// It returns ErrRevertUnsupported for forward-only units. Failures are
// reported as a FatalMigrationError, as with ApplyPending.
func (r *Runner) Revert(ctx context.Context, units []Unit, version int) error {
	reg, err := NewRegistry(units...)
	if err != nil {
		return err
	}
	u, ok := reg.Get(version)
	if !ok {
		return fmt.Errorf("unknown migration version %d", version)
	}
	if !u.Revert.Supported() {
		return fmt.Errorf("%s: %w", u.ID, ErrRevertUnsupported)
	}

	conn, err := r.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed acquiring database connection: %w", err)
	}
	defer conn.Close()

	store := NewVersionStore(conn)
	if err = store.Init(ctx); err != nil {
		return err
	}
	applied, err := store.IsApplied(ctx, version)
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("migration %s isn't applied", u.ID)
	}

	runID := r.newRunID()
	ulog := r.logger.With("run_id", runID, "version", u.Version, "name", u.Name)
	ulog.Info("reverting migration", "transactional", !u.NoTransaction)

	fail := func(err error) error {
		ferr := &FatalMigrationError{
			Version:       u.Version,
			Name:          u.Name,
			Step:          innermostStep(err),
			Transactional: !u.NoTransaction,
			RunID:         runID,
			Err:           fmt.Errorf("revert: %w", err),
		}
		ulog.Error("revert failed", "step", ferr.Step, "transactional", ferr.Transactional, "error", err)
		return ferr
	}

	if u.NoTransaction {
		h := &Handle{conn: conn, logger: ulog}
		if err = u.Revert.Run(ctx, h); err != nil {
			return fail(err)
		}
		if err = r.checkForeignKeys(ctx, conn, ulog); err != nil {
			return fail(Step("restore foreign key enforcement", err))
		}
		if err = store.Delete(ctx, u.Version); err != nil {
			return fail(Step("delete version record", err))
		}
	} else {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fail(Step("begin transaction", err))
		}

		h := &Handle{conn: conn, tx: tx, logger: ulog}
		err = u.Revert.Run(ctx, h)
		if err == nil {
			err = Step("delete version record", NewVersionStore(tx).Delete(ctx, u.Version))
		}
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				err = errors.Join(err, fmt.Errorf("failed rolling back: %w", rerr))
			}
			return fail(err)
		}
		if err = tx.Commit(); err != nil {
			return fail(Step("commit", err))
		}
	}

	ulog.Info("reverted migration")

	return nil
}

// checkForeignKeys turns foreign key enforcement back on if a unit that ran
// without a transaction left it off.
func (r *Runner) checkForeignKeys(ctx context.Context, conn *sql.Conn, logger *slog.Logger) error {
	on, err := schema.ForeignKeysEnabled(ctx, conn)
	if err != nil || on {
		return err
	}
	logger.Warn("migration left foreign key enforcement off, turning it back on")
	_, err = conn.ExecContext(ctx, `PRAGMA foreign_keys = ON`)

	return err //nolint:wrapcheck // Wrapped by the caller.
}

// Option configures a Runner.
type Option func(*Runner)

// DefaultOptions returns the default Runner options.
func DefaultOptions() []Option {
	return []Option{
		WithLogger(slog.New(slog.DiscardHandler)),
		WithTimeNow(time.Now),
		WithRunID(cuid2.Generate),
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger.With("component", "migrator")
	}
}

// WithTimeNow sets the function that returns the current time.
func WithTimeNow(timeNow func() time.Time) Option {
	return func(r *Runner) {
		r.timeNow = timeNow
	}
}

// WithRunID sets the function that generates run IDs.
func WithRunID(newRunID func() string) Option {
	return func(r *Runner) {
		r.newRunID = newRunID
	}
}

// WithLegacyAdoption makes the runner import the ledger of the previous
// migration tool on its first run. See AdoptLegacy.
func WithLegacyAdoption() Option {
	return func(r *Runner) {
		r.adoptLegacy = true
	}
}
