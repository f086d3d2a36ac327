package native

import (
	"errors"
	"fmt"
)

// Native error codes. The numeric values are the engine's wire contract and
// are shared with clients in other languages.
const (
	CodeOperationFailed     = 1000
	CodeTimedOut            = 1004
	CodeTransactionTooOld   = 1007
	CodeFutureVersion       = 1009
	CodeNotCommitted        = 1020
	CodeCommitUnknownResult = 1021
	CodeTransactionCanceled = 1025
	CodeTransactionTimedOut = 1031
	CodeProcessBehind       = 1037
	CodeDatabaseLocked      = 1038

	CodeClientInvalidOperation = 2000
	CodeUsedDuringCommit       = 2017
	CodeKeyOutsideLegalRange   = 2004
	CodeInvertedRange          = 2005
	CodeTransactionTooLarge    = 2101
	CodeKeyTooLarge            = 2102
	CodeValueTooLarge          = 2103
)

var codeMessages = map[int]string{
	CodeOperationFailed:        "operation failed",
	CodeTimedOut:               "operation timed out",
	CodeTransactionTooOld:      "transaction is too old to perform reads or be committed",
	CodeFutureVersion:          "request for future version",
	CodeNotCommitted:           "transaction not committed due to conflict with another transaction",
	CodeCommitUnknownResult:    "transaction may or may not have committed",
	CodeTransactionCanceled:    "operation aborted because the transaction was canceled",
	CodeTransactionTimedOut:    "operation aborted because the transaction timed out",
	CodeProcessBehind:          "storage process does not have recent mutations",
	CodeDatabaseLocked:         "database is locked",
	CodeClientInvalidOperation: "invalid API call",
	CodeUsedDuringCommit:       "operation issued while a commit was outstanding",
	CodeKeyOutsideLegalRange:   "key outside legal range",
	CodeInvertedRange:          "range begin key exceeds end key",
	CodeTransactionTooLarge:    "transaction exceeds byte limit",
	CodeKeyTooLarge:            "key length exceeds limit",
	CodeValueTooLarge:          "value length exceeds limit",
}

// ErrUnknownEngine is returned by Open for an unregistered engine name.
var ErrUnknownEngine = errors.New("unknown engine")

// Error is a failure reported by the engine, identified by its numeric code.
type Error struct {
	Code int
}

func (e *Error) Error() string {
	if msg, ok := codeMessages[e.Code]; ok {
		return fmt.Sprintf("engine error %d: %s", e.Code, msg)
	}
	return fmt.Sprintf("engine error %d", e.Code)
}

// NewError returns the Error for a native code.
func NewError(code int) *Error {
	return &Error{Code: code}
}

// ErrorCode extracts the native code from err, returning ok=false when err
// does not carry one.
func ErrorCode(err error) (code int, ok bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}
