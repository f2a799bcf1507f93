// Package errs defines the engine's two-tier error taxonomy.
//
// Recoverable errors cost one candle or one entry attempt. Fatal errors move the
// state machine to HALTED.
package errs

import (
	"errors"
	"fmt"
)

// Kind is the severity tier of an error.
type Kind int

const (
	KindRecoverable Kind = iota + 1
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindRecoverable:
		return "recoverable"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Machine-readable reason codes.
const (
	CodeMalformedCandle    = "malformed_candle"
	CodeOutOfOrderCandle   = "out_of_order_candle"
	CodeFilterBlocked      = "filter_blocked"
	CodeOrderRejected      = "order_rejected"
	CodeOrderFailures      = "repeated_order_failures"
	CodeExchangeLost       = "exchange_connectivity_lost"
	CodeVerificationFailed = "position_verification_failed"
	CodeWarmupFailed       = "warmup_failed"
	CodeInvalidTransition  = "invalid_transition"
	CodePersistFailed      = "persist_failed"
	CodeNotHalted          = "not_halted"
)

// Error carries a kind, a reason code and the operation that failed.
type Error struct {
	Kind Kind
	Code string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Recoverable wraps err as a recoverable error.
func Recoverable(op, code string, err error) *Error {
	return &Error{Kind: KindRecoverable, Code: code, Op: op, Err: err}
}

// Fatal wraps err as a fatal error.
func Fatal(op, code string, err error) *Error {
	return &Error{Kind: KindFatal, Code: code, Op: op, Err: err}
}

// IsFatal reports whether err (or anything it wraps) is fatal.
func IsFatal(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindFatal
	}
	return false
}

// IsRecoverable reports whether err is a recoverable engine error.
func IsRecoverable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindRecoverable
	}
	return false
}

// CodeOf returns the reason code of err, or "" when err is not an engine error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
