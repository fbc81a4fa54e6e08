// Package errs holds the error taxonomy shared by the admin packages.
//
// It re-exports github.com/cockroachdb/errors so that wrapped errors keep
// their stack traces and stay matchable with Is against the sentinels below.
package errs

import (
	crdb "github.com/cockroachdb/errors"
)

var (
	New      = crdb.New
	Newf     = crdb.Newf
	Wrap     = crdb.Wrap
	Wrapf    = crdb.Wrapf
	Is       = crdb.Is
	IsAny    = crdb.IsAny
	As       = crdb.As
	WithHint = crdb.WithHint
)

// Sentinels. Match them with Is; the helpers below wrap them so that the
// standard library errors.Is matches as well.
var (
	// ErrNotFound indicates an unregistered entity type or a missing row.
	ErrNotFound = New("not found")

	// ErrInvalidArgument indicates a non-entity type, an unknown property path
	// or an unsupported search type.
	ErrInvalidArgument = New("invalid argument")

	// ErrConcurrencyConflict indicates that a write matched no rows when it was
	// flushed to the store.
	ErrConcurrencyConflict = New("concurrency conflict")

	// ErrAlreadyTracked indicates that a different instance with the same key
	// is already tracked by the session.
	ErrAlreadyTracked = New("entity already tracked")

	// ErrUnsupported indicates a query feature the store cannot evaluate.
	ErrUnsupported = New("unsupported")
)

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...interface{}) error {
	return Wrapf(ErrNotFound, format, args...)
}

// InvalidArgumentf wraps ErrInvalidArgument with a formatted message.
func InvalidArgumentf(format string, args ...interface{}) error {
	return Wrapf(ErrInvalidArgument, format, args...)
}

// Conflictf wraps ErrConcurrencyConflict with a formatted message.
func Conflictf(format string, args ...interface{}) error {
	return Wrapf(ErrConcurrencyConflict, format, args...)
}

// Unsupportedf wraps ErrUnsupported with a formatted message.
func Unsupportedf(format string, args ...interface{}) error {
	return Wrapf(ErrUnsupported, format, args...)
}
