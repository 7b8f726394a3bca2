// Package apperror defines the closed set of failure kinds the engine reports.
// Domain packages declare their own sentinels with New and callers classify
// any wrapped error with KindOf.
package apperror

import "errors"

type Kind string

const (
	KindInvalidAmount          Kind = "invalid_amount"
	KindInsufficientFunds      Kind = "insufficient_funds"
	KindNotEligible            Kind = "not_eligible"
	KindInvalidStateTransition Kind = "invalid_state_transition"
	KindConcurrencyConflict    Kind = "concurrency_conflict"
	KindNotFound               Kind = "not_found"
	KindForbidden              Kind = "forbidden"
	KindInvalidRequest         Kind = "invalid_request"
	KindInternal               Kind = "internal"
)

// Error is a sentinel carrying a kind and a snake_case code.
type Error struct {
	Kind Kind
	Code string
}

func New(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

func (e *Error) Error() string {
	return e.Code
}

var (
	ErrConcurrencyConflict = New(KindConcurrencyConflict, "concurrency_conflict")
	ErrForbidden           = New(KindForbidden, "forbidden")
)

// KindOf returns the kind of the first *Error found in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return string(KindInternal)
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
