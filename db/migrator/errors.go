package migrator

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRegistryConflict is matched by RegistryConflictError.
	ErrRegistryConflict = errors.New("migration registry conflict")
	// ErrMigrationFailed is matched by FatalMigrationError.
	ErrMigrationFailed = errors.New("migration failed")
	// ErrRevertUnsupported is returned when reverting a forward-only unit.
	ErrRevertUnsupported = errors.New("migration can't be reverted")
)

// RegistryConflictError is returned when the set of registered migrations is
// invalid, e.g. because two units share a version. It's detected before any
// unit is applied.
type RegistryConflictError struct {
	Version int
	IDs     []string
	Reason  string
}

func (e *RegistryConflictError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", ErrRegistryConflict, e.Reason, strings.Join(e.IDs, ", "))
}

// Is makes errors.Is(err, ErrRegistryConflict) match.
func (e *RegistryConflictError) Is(target error) bool {
	return target == ErrRegistryConflict
}

// FatalMigrationError is returned when a unit fails to apply. The run stops
// at the failed unit, and no later unit is attempted.
type FatalMigrationError struct {
	Version int
	Name    string
	// Step is the innermost step the unit reported before failing, if any.
	Step string
	// Transactional is false if the unit ran without a transaction, in which
	// case some of its changes may have persisted.
	Transactional bool
	RunID         string
	Err           error
}

func (e *FatalMigrationError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "migration %03d_%s failed", e.Version, e.Name)
	if e.Step != "" {
		fmt.Fprintf(&sb, " at step '%s'", e.Step)
	}
	fmt.Fprintf(&sb, ": %v", e.Err)
	if e.Transactional {
		sb.WriteString("; its changes were rolled back")
	} else {
		sb.WriteString("; it ran without a transaction, so the schema may be left " +
			"between versions and must be inspected manually before retrying")
	}

	return sb.String()
}

func (e *FatalMigrationError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrMigrationFailed) match.
func (e *FatalMigrationError) Is(target error) bool {
	return target == ErrMigrationFailed
}

// StepError annotates an error with the step of a unit it happened in.
type StepError struct {
	Name string
	Err  error
}

// Step wraps err with the name of the step that failed. It returns nil if err
// is nil, so it can wrap calls directly:
//
//	return migrator.Step("backfill addresses", backfillAddresses(ctx, h))
func Step(name string, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Name: name, Err: err}
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// MigrationStep returns the step name.
func (e *StepError) MigrationStep() string {
	return e.Name
}

// stepper is implemented by errors that name a step of a unit.
type stepper interface {
	MigrationStep() string
}

// innermostStep returns the most specific step named in err's chain.
func innermostStep(err error) string {
	var step string
	for err != nil {
		var s stepper
		if !errors.As(err, &s) {
			break
		}
		step = s.MigrationStep()
		serr, ok := s.(error)
		if !ok {
			break
		}
		err = errors.Unwrap(serr)
	}

	return step
}
