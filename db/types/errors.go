package types

import (
	"errors"
	"fmt"

	"github.com/glebarez/go-sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Err converts a constraint failure reported by SQLite into one of the errors
// below, naming the record by modelName and id. Other errors are returned
// unchanged.
func Err(modelName, id string, err error) error {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		return err
	}

	switch sqlErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return &DuplicateError{ModelName: modelName, ID: id}
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return &ReferenceError{
			Msg: fmt.Sprintf("%s with %s references a missing record", modelName, id),
			Err: err,
		}
	case sqlite3.SQLITE_CONSTRAINT_NOTNULL:
		return &ConstraintError{ModelName: modelName, ID: id, Kind: "NOT NULL", Err: err}
	case sqlite3.SQLITE_CONSTRAINT_CHECK:
		return &ConstraintError{ModelName: modelName, ID: id, Kind: "CHECK", Err: err}
	}

	return err
}

// IsBusy reports whether err was caused by another connection holding a lock
// on the database.
func IsBusy(err error) bool {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	// The primary code is in the lowest byte of an extended code.
	switch sqlErr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}

	return false
}

// DuplicateError is returned when a record with the same unique key exists.
type DuplicateError struct {
	ModelName string
	ID        string
}

func (e DuplicateError) Error() string {
	return fmt.Sprintf("%s with %s already exists", e.ModelName, e.ID)
}

// ReferenceError is returned when a record references a parent row that
// doesn't exist.
type ReferenceError struct {
	Msg string
	Err error
}

func (e ReferenceError) Error() string {
	return e.Msg
}

func (e ReferenceError) Unwrap() error {
	return e.Err
}

// ConstraintError is returned when a record violates a NOT NULL or CHECK
// constraint, e.g. when a migration copies a legacy value that the new
// column doesn't allow.
type ConstraintError struct {
	ModelName string
	ID        string
	Kind      string
	Err       error
}

func (e ConstraintError) Error() string {
	return fmt.Sprintf("%s with %s violates a %s constraint: %s", e.ModelName, e.ID, e.Kind, e.Err)
}

func (e ConstraintError) Unwrap() error {
	return e.Err
}

// IntegrityError is returned when a statement changed more or fewer rows than
// it should have.
type IntegrityError struct {
	Msg string
}

func (e IntegrityError) Error() string {
	return "integrity error: " + e.Msg
}

// InvalidInputError is returned for arguments that can't be stored.
type InvalidInputError struct {
	Msg string
}

func (e InvalidInputError) Error() string {
	return e.Msg
}

// NoResultError is returned when a lookup matches no rows.
type NoResultError struct {
	ModelName string
	ID        string
}

func (e NoResultError) Error() string {
	return fmt.Sprintf("%s with %s doesn't exist", e.ModelName, e.ID)
}

// LoadError wraps a failed query.
type LoadError struct {
	ModelName string
	Msg       string
	Err       error
}

func (e LoadError) Error() string {
	msg := e.Msg
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("failed loading %s: %s", e.ModelName, msg)
}

func (e LoadError) Unwrap() error {
	return e.Err
}

// ScanError wraps a failed conversion of a result row.
type ScanError struct {
	ModelName string
	Err       error
}

func (e ScanError) Error() string {
	return fmt.Sprintf("failed scanning %s data: %s", e.ModelName, e.Err)
}

func (e ScanError) Unwrap() error {
	return e.Err
}
