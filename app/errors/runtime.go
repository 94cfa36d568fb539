package errors

import (
	"errors"

	"go.hackfix.me/harvest/db/migrator"
)

// NewRuntimeError returns an error for a failed command. The hint, if set,
// tells the operator how to resolve it.
func NewRuntimeError(msg string, cause error, hint string) *StructuredError {
	if hint == "" {
		return NewWithCause(msg, cause)
	}
	return NewWithCause(msg, cause, "hint", hint)
}

// FromMigration attaches the details of a failed migration to err, so that
// they're rendered as fields by Log. Other errors are returned unchanged.
func FromMigration(err error) error {
	var ferr *migrator.FatalMigrationError
	if !errors.As(err, &ferr) {
		return err
	}

	fields := []any{
		"version", ferr.Version,
		"name", ferr.Name,
		"transactional", ferr.Transactional,
		"run_id", ferr.RunID,
	}
	if ferr.Step != "" {
		fields = append(fields, "step", ferr.Step)
	}
	if !ferr.Transactional {
		fields = append(fields, "hint",
			"the schema may be between versions; inspect the database before retrying")
	}

	return WithCause(errors.New("database migration failed"), ferr, fields...)
}
