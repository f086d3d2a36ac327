// Package fdb is the client core: transaction handles, key selectors, range
// iteration and the retrying transaction driver on top of a native engine.
package fdb

import (
	"errors"
)

var (
	// ErrNotFound is returned by Get for a key that does not exist.
	ErrNotFound = errors.New("key not found")

	// ErrUseAfterFinalize is returned when a transaction handle is used
	// after commit or cancel has been issued on it.
	ErrUseAfterFinalize = errors.New("transaction used after commit or cancel")

	// ErrExhausted is the terminal error of the retry loop when the
	// attempt or elapsed-time budget ran out on a retryable failure.
	ErrExhausted = errors.New("transaction retry budget exhausted")

	// ErrAmbiguousCommit is the terminal error when a commit outcome is
	// unknown and the transaction logic was not declared idempotent.
	ErrAmbiguousCommit = errors.New("transaction may or may not have committed")

	// ErrAborted is the terminal error for a non-retryable cluster
	// failure.
	ErrAborted = errors.New("transaction aborted")

	ErrKeyTooLarge    = errors.New("key exceeds maximum size")
	ErrValueTooLarge  = errors.New("value exceeds maximum size")
	ErrDatabaseClosed = errors.New("database is closed")
)
