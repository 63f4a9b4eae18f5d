// Package errors provides reason-coded errors for the paper-trading core.
// Domain rejections are returned as values carrying a machine-checkable kind
// plus a human-readable message; callers branch on the kind.
package errors

import (
	"errors"
	"fmt"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Kind identifies the failure taxonomy surfaced at the core boundary.
type Kind string

const (
	KindValidation         Kind = "VALIDATION_ERROR"
	KindRiskRejected       Kind = "RISK_LIMIT_EXCEEDED"
	KindInsufficientFunds  Kind = "INSUFFICIENT_FUNDS"
	KindInsufficientShares Kind = "INSUFFICIENT_SHARES"
	KindMarketUnavailable  Kind = "MARKET_UNAVAILABLE"
	KindInvalidSymbol      Kind = "INVALID_SYMBOL"
	KindNotFound           Kind = "NOT_FOUND"
	KindStateConflict      Kind = "STATE_CONFLICT"
	KindRejected           Kind = "ORDER_REJECTED"
	KindUnknown            Kind = "UNKNOWN"
)

// Error is the reason-coded error type crossing the core boundary.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`

	cause error
}

var _ error = (*Error)(nil)

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// KindOf extracts the kind from an error, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
