package errors

import (
	"errors"
	"maps"
)

// StructuredError is an error with metadata and an optional cause. Log renders
// the metadata as slog attributes.
type StructuredError struct {
	err      error
	metadata map[string]any
	cause    error
}

// Error implements the error interface.
func (e StructuredError) Error() string {
	return e.err.Error()
}

// Unwrap allows errors.Is and errors.As to match both the error and its cause.
func (e StructuredError) Unwrap() []error {
	var errs []error
	if e.err != nil {
		errs = append(errs, e.err)
	}
	if e.cause != nil {
		errs = append(errs, e.cause)
	}
	return errs
}

// Cause returns the cause of this error.
func (e StructuredError) Cause() error {
	return e.cause
}

// Metadata returns a copy of the metadata map.
func (e StructuredError) Metadata() map[string]any {
	if e.metadata == nil {
		return nil
	}
	return maps.Clone(e.metadata)
}

// NewWith creates a new StructuredError from a message and key/value pairs.
func NewWith(msg string, fields ...any) *StructuredError {
	return With(errors.New(msg), fields...)
}

// NewWithCause creates a new StructuredError from a message, a cause and
// key/value pairs.
func NewWithCause(msg string, cause error, fields ...any) *StructuredError {
	return WithCause(errors.New(msg), cause, fields...)
}

// With adds metadata to err. If err is already a StructuredError, the fields
// are merged into its metadata and its cause is kept.
func With(err error, fields ...any) *StructuredError {
	se := extend(err, fields)
	if me, ok := err.(*StructuredError); ok {
		se.cause = me.cause
	}
	return se
}

// WithCause is like With, but replaces the cause.
func WithCause(err error, cause error, fields ...any) *StructuredError {
	se := extend(err, fields)
	se.cause = cause
	return se
}

// extend returns a StructuredError of err with fields merged into its
// metadata. Later fields overwrite earlier ones.
func extend(err error, fields []any) *StructuredError {
	if len(fields)%2 != 0 {
		panic("an even number of fields is required")
	}

	var metadata map[string]any
	if me, ok := err.(*StructuredError); ok {
		err = me.err
		metadata = maps.Clone(me.metadata)
	}
	if metadata == nil {
		metadata = make(map[string]any, len(fields)/2)
	}

	for i := 0; i < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			panic("keys must be strings")
		}
		metadata[key] = fields[i+1]
	}

	return &StructuredError{err: err, metadata: metadata}
}
