package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Code is a machine-readable error kind.
type Code string

const (
	CodeInsufficientFunds      Code = "INSUFFICIENT_FUNDS"
	CodeDuplicateReserve       Code = "DUPLICATE_RESERVE"
	CodeSplitMismatch          Code = "SPLIT_MISMATCH"
	CodeDeliveryNotConfirmed   Code = "DELIVERY_NOT_CONFIRMED"
	CodeVerificationRequired   Code = "VERIFICATION_REQUIRED"
	CodeBelowMinimum           Code = "BELOW_MINIMUM"
	CodeInsufficientBalance    Code = "INSUFFICIENT_BALANCE"
	CodeInvalidStateTransition Code = "INVALID_STATE_TRANSITION"
	CodeSameAccount            Code = "SAME_ACCOUNT"

	CodeNotFound            Code = "NOT_FOUND"
	CodeInvalidArgument     Code = "INVALID_ARGUMENT"
	CodeForbidden           Code = "FORBIDDEN"
	CodeWalletSuspended     Code = "WALLET_SUSPENDED"
	CodeIdempotencyMismatch Code = "IDEMPOTENCY_MISMATCH"

	// CodeUnavailable marks infrastructure failures. Unlike every other code
	// it is safe to retry with the same idempotency key.
	CodeUnavailable Code = "UNAVAILABLE"
	// CodeInternal marks failures a retry will not fix.
	CodeInternal Code = "INTERNAL"
)

// Error is the ledger error type. Metadata carries the values a client
// needs to correct the request, e.g. available and required amounts.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string {
	if len(e.Metadata) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Metadata))
	for k := range e.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Metadata[k])
	}
	return e.Message + " (" + strings.Join(parts, ", ") + ")"
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Retryable reports whether the failure was infrastructural.
func (e *Error) Retryable() bool {
	return e.Code == CodeUnavailable
}

func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

// Unavailable wraps an infrastructure failure.
func Unavailable(message string, cause error) *Error {
	return &Error{Code: CodeUnavailable, Message: message, Cause: cause}
}

// Internal wraps a failure that is not the caller's fault and will not go
// away on retry.
func Internal(message string, cause error) *Error {
	return &Error{Code: CodeInternal, Message: message, Cause: cause}
}

// Sentinels for errors.Is comparisons.
var (
	ErrInsufficientFunds      = NewError(CodeInsufficientFunds, "insufficient funds")
	ErrDuplicateReserve       = NewError(CodeDuplicateReserve, "duplicate reserve")
	ErrSplitMismatch          = NewError(CodeSplitMismatch, "split mismatch")
	ErrDeliveryNotConfirmed   = NewError(CodeDeliveryNotConfirmed, "delivery not confirmed")
	ErrVerificationRequired   = NewError(CodeVerificationRequired, "verification required")
	ErrBelowMinimum           = NewError(CodeBelowMinimum, "below minimum")
	ErrInsufficientBalance    = NewError(CodeInsufficientBalance, "insufficient balance")
	ErrInvalidStateTransition = NewError(CodeInvalidStateTransition, "invalid state transition")
	ErrSameAccount            = NewError(CodeSameAccount, "same account")
	ErrNotFound               = NewError(CodeNotFound, "not found")
	ErrInvalidArgument        = NewError(CodeInvalidArgument, "invalid argument")
	ErrForbidden              = NewError(CodeForbidden, "forbidden")
	ErrWalletSuspended        = NewError(CodeWalletSuspended, "wallet suspended")
	ErrIdempotencyMismatch    = NewError(CodeIdempotencyMismatch, "idempotency key reused with a different payload")
	ErrUnavailable            = NewError(CodeUnavailable, "temporarily unavailable")
)

// CodeOf extracts the code of err, or "" if err is not a ledger error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
