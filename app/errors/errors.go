package errors

import (
	"errors"
	"log/slog"
	"slices"
)

// Log logs err with the default slog logger. The cause and metadata of a
// StructuredError are logged as attributes, with the hint last.
func Log(err error) {
	LogTo(slog.Default(), err)
}

// LogTo is like Log, but uses logger.
func LogTo(logger *slog.Logger, err error) {
	var serr *StructuredError
	if !errors.As(err, &serr) {
		logger.Error(err.Error())
		return
	}

	logger.Error(serr.Error(), attrs(serr)...)
}

func attrs(serr *StructuredError) []any {
	args := make([]any, 0, len(serr.metadata)*2+2)

	cause := serr.metadata["cause"]
	if serr.cause != nil {
		cause = serr.cause
	}
	if cause != nil {
		args = append(args, "cause", cause)
	}

	keys := make([]string, 0, len(serr.metadata))
	for k := range serr.metadata {
		if k != "cause" && k != "hint" {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		args = append(args, k, serr.metadata[k])
	}

	if hint, ok := serr.metadata["hint"]; ok {
		args = append(args, "hint", hint)
	}

	return args
}
