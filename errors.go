package admin

import "github.com/nlstn/go-admin/internal/errs"

// Errors returned by the service. Match them with errors.Is.
var (
	// ErrNotFound reports an unregistered entity type or a missing row.
	ErrNotFound = errs.ErrNotFound

	// ErrInvalidArgument reports a non-entity type, an unknown property path
	// or an unsupported search type.
	ErrInvalidArgument = errs.ErrInvalidArgument

	// ErrConcurrencyConflict reports a save whose update or delete matched no
	// row.
	ErrConcurrencyConflict = errs.ErrConcurrencyConflict

	// ErrAlreadyTracked reports an attach of a second instance with a key the
	// session already tracks.
	ErrAlreadyTracked = errs.ErrAlreadyTracked

	// ErrUnsupported reports a query feature the store cannot evaluate, such
	// as raw scopes on the in-memory store.
	ErrUnsupported = errs.ErrUnsupported
)
