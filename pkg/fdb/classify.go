package fdb

import (
	"github.com/Wonshtrum/foundationdb-go/pkg/fdb/native"
)

// Classification is the retry taxonomy of one native failure. It is a pure
// function of the error code; classification happens once per failure, at the
// boundary between the native result and the retry loop.
type Classification struct {
	Code           int
	Retryable      bool
	MaybeCommitted bool
}

// classification table over the native code set. Codes absent from the table
// are fatal: never retried, always surfaced.
var classifications = map[int]Classification{
	// retryable-conflict
	native.CodeNotCommitted: {Retryable: true},

	// retryable-transient
	native.CodeTimedOut:          {Retryable: true},
	native.CodeTransactionTooOld: {Retryable: true},
	native.CodeFutureVersion:     {Retryable: true},
	native.CodeProcessBehind:     {Retryable: true},
	native.CodeDatabaseLocked:    {Retryable: true},

	// maybe-committed: retryable only for idempotent logic
	native.CodeCommitUnknownResult: {Retryable: true, MaybeCommitted: true},
}

// Classify maps an error to its retry classification. Errors that do not
// carry a native code are user errors and classify as fatal.
func Classify(err error) Classification {
	code, ok := native.ErrorCode(err)
	if !ok {
		return Classification{}
	}
	c, ok := classifications[code]
	if !ok {
		return Classification{Code: code}
	}
	c.Code = code
	return c
}
