package business

import (
	"errors"
	"fmt"
)

// Kind classifies every failure the engine can surface. Callers react on the
// kind, not the message text.
type Kind string

const (
	KindAuthorization     Kind = "authorization_failure"
	KindInvalidState      Kind = "invalid_state"
	KindOutOfRange        Kind = "out_of_range"
	KindBalanceMismatch   Kind = "balance_mismatch"
	KindOverflow          Kind = "arithmetic_overflow"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindAlreadyDone       Kind = "already_done"
	KindNotFound          Kind = "not_found"
	KindInternal          Kind = "internal"
)

// Error is the typed failure returned by every engine operation. No engine
// failure is ever swallowed; a failed operation leaves no state change behind.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Errf builds a typed engine error.
func Errf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the failure kind from an error chain. Unclassified errors
// (database, transport) report as KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
