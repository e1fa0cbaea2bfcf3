// Package errors wraps github.com/pkg/errors so that every error carries a
// stack trace exactly once.  Use EnsureStack at the boundary where an error
// from a third-party library enters our code.
package errors

import (
	"io"

	pkgerrors "github.com/pkg/errors"
)

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// New returns a new error with the given message and a stack trace.
func New(msg string) error {
	return pkgerrors.New(msg)
}

// Errorf formats a new error and captures a stack trace.
func Errorf(format string, args ...interface{}) error {
	return pkgerrors.Errorf(format, args...)
}

// Wrap annotates err with msg and a stack trace.  Returns nil if err is nil.
func Wrap(err error, msg string) error {
	return pkgerrors.Wrap(err, msg)
}

// Wrapf annotates err with a formatted message and a stack trace.  Returns
// nil if err is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	return pkgerrors.Wrapf(err, format, args...)
}

// EnsureStack adds a stack trace to err if it does not already carry one.
func EnsureStack(err error) error {
	if err == nil {
		return nil
	}
	var st stackTracer
	if As(err, &st) {
		return err
	}
	return pkgerrors.WithStack(err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return pkgerrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return pkgerrors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err.
func Unwrap(err error) error {
	return pkgerrors.Unwrap(err)
}

// Close closes c and sets *retErr if closing fails and *retErr is unset.  For
// use in defer statements:
//
//	defer errors.Close(&retErr, rows, "close rows")
func Close(retErr *error, c io.Closer, msg string) {
	if err := c.Close(); err != nil && *retErr == nil {
		*retErr = Wrap(err, msg)
	}
}
