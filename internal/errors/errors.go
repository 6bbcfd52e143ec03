// Package errors is a drop-in replacement for the standard library errors
// package that annotates errors with stack traces.  All errors that cross a
// package boundary should be created by or passed through this package, so
// that the point of origin is recoverable when the error is finally logged.
package errors

import (
	stderrors "errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// stackTracer is implemented by errors created by github.com/pkg/errors.
type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// New returns an error with the supplied message and a stack trace recorded
// at the point New was called.
func New(message string) error {
	return pkgerrors.New(message)
}

// Errorf formats according to a format specifier and returns that string as
// an error with a stack trace.  The %w verb is supported.
func Errorf(format string, args ...interface{}) error {
	return EnsureStack(fmt.Errorf(format, args...))
}

// Wrap returns an error annotating err with a stack trace and the supplied
// message.  If err is nil, Wrap returns nil.
func Wrap(err error, message string) error {
	return pkgerrors.Wrap(err, message)
}

// Wrapf returns an error annotating err with a stack trace and the format
// specifier.  If err is nil, Wrapf returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	return pkgerrors.Wrapf(err, format, args...)
}

// EnsureStack adds a stack trace to err if it does not already carry one.
// Use this when returning errors from other packages, so that every error
// escaping this module has at least one stack on it.
func EnsureStack(err error) error {
	if err == nil {
		return nil
	}
	var st stackTracer
	if stderrors.As(err, &st) {
		return err
	}
	return pkgerrors.WithStack(err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err.
func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}

// Join returns an error wrapping the given errors, discarding nils.
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// JoinInto sets *dst to the join of *dst and err.  It is intended for
// accumulating errors from deferred cleanup:
//
//	defer errors.JoinInto(&retErr, w.Close())
func JoinInto(dst *error, err error) {
	if err == nil {
		return
	}
	if *dst == nil {
		*dst = err
		return
	}
	*dst = stderrors.Join(*dst, err)
}

// Close closes c and joins any error into *dst, annotated with msg.  It is
// intended to be deferred:
//
//	defer errors.Close(&retErr, f, "close %s", f.Name())
func Close(dst *error, c interface{ Close() error }, msg string, args ...interface{}) {
	if err := c.Close(); err != nil {
		JoinInto(dst, Wrapf(err, msg, args...))
	}
}
