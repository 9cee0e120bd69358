// Package errors augments the standard errors
// provided by fmt (https://golang.org/src/fmt/errors.go)
// with a Wrap() method to wrap errors without resorting
// to fmt.Errorf("%w", err).
package errors

import (
	stderr "errors"
	"fmt"

	"go.uber.org/zap"
)

var _ error = New("")

// New Error
func New(msg string) *Error {
	e := &Error{msg: msg}
	e.origin = e
	return e
}

// Error augments the standard error interface with a Wrap method.
//
// Wrapping never mutates the receiver: sentinel errors declared at the
// package level stay pristine, and wrapped copies still match their
// sentinel through errors.Is.
type Error struct {
	msg    string
	err    error
	origin *Error
}

// Error message
func (e *Error) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

// Unwrap nested error
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Wrap a nested error
func (e *Error) Wrap(err error) *Error {
	return &Error{msg: e.msg, err: err, origin: e.origin}
}

// WrapMessage wraps a formatted message as the nested cause
func (e *Error) WrapMessage(format string, args ...interface{}) *Error {
	return e.Wrap(fmt.Errorf(format, args...))
}

// WrapWithLog logs the error with its cause and structured fields, then wraps it
func (e *Error) WrapWithLog(l *zap.Logger, err error, fields ...zap.Field) *Error {
	if l != nil {
		l.Error(e.msg, append(fields, zap.Error(err))...)
	}
	return e.Wrap(err)
}

// Is of some error kind? Two Errors match when they descend from the same New()
func (e *Error) Is(target error) bool {
	if e == target {
		return true
	}
	if t, ok := target.(*Error); ok {
		return e.origin == t.origin
	}
	return e.err == target
}

// As finds the first error in err's chain that matches target, and if so, sets target to that error value and returns true.
// (a shortcut to standard lib errors.As)
func As(err error, target interface{}) bool {
	return stderr.As(err, target)
}

// Is reports whether any error in err's chain matches target
// (a shortcut to standard lib errors.Is)
func Is(err, target error) bool {
	return stderr.Is(err, target)
}
