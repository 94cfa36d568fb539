package schema

import (
	"errors"
	"fmt"
)

// ErrSchemaConflict is matched by ConflictError.
var ErrSchemaConflict = errors.New("schema conflict")

// ErrSkipRow is returned by a ColumnMapping to leave a row out of a rebuilt
// table.
var ErrSkipRow = errors.New("skip row")

// ErrForeignKeysLocked is returned when foreign key enforcement can't be
// changed, which is the case inside a transaction.
var ErrForeignKeysLocked = errors.New("foreign key enforcement can't be changed on this connection; is a transaction open?")

// ConflictError is returned when the store rejects creating an object that
// introspection reported as missing. It indicates a bug in the calling
// migration, not a recoverable condition.
type ConflictError struct {
	Kind string // column, table or index
	Name string
	Err  error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s '%s' was reported missing but already exists: %v", e.Kind, e.Name, e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrSchemaConflict) match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrSchemaConflict
}

// RebuildError is returned when a table rebuild fails. Table is empty for
// steps that don't concern a single table.
type RebuildError struct {
	Step  string
	Table string
	Err   error
}

func (e *RebuildError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("rebuild failed at step '%s': %v", e.Step, e.Err)
	}
	return fmt.Sprintf("rebuild failed at step '%s' of table '%s': %v", e.Step, e.Table, e.Err)
}

func (e *RebuildError) Unwrap() error {
	return e.Err
}

// MigrationStep names the failed step, so that migration failures point at
// the exact part of the rebuild.
func (e *RebuildError) MigrationStep() string {
	if e.Table == "" {
		return "rebuild: " + e.Step
	}
	return fmt.Sprintf("rebuild %s: %s", e.Table, e.Step)
}
