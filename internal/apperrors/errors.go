package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error at the workflow boundary.
type Kind string

const (
	KindAuthentication    Kind = "authentication"
	KindAuthorization     Kind = "authorization"
	KindValidation        Kind = "validation"
	KindConflict          Kind = "conflict"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindDomainState       Kind = "domain_state"
	KindNotFound          Kind = "not_found"
	KindInternal          Kind = "internal"
)

// Error is the structured, user-presentable error returned by services.
type Error struct {
	Kind    Kind   `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind and code, so sentinels like
// ErrInsufficientFunds work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Code == "" || e.Code == t.Code)
}

// Sentinels for errors.Is comparisons. Only Kind is compared when Code is empty.
var (
	ErrAuthentication    = &Error{Kind: KindAuthentication}
	ErrAuthorization     = &Error{Kind: KindAuthorization}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds}
	ErrDomainState       = &Error{Kind: KindDomainState}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInternal          = &Error{Kind: KindInternal}
)

func Authentication(message string) *Error {
	return &Error{Kind: KindAuthentication, Code: "unauthenticated", Message: message}
}

func Authorization(code, message string) *Error {
	return &Error{Kind: KindAuthorization, Code: code, Message: message}
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: "invalid_input", Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Code: "conflict", Message: fmt.Sprintf(format, args...)}
}

// InsufficientFunds reports that fundID would end with a negative balance.
func InsufficientFunds(fundID, balance, required int64) *Error {
	return &Error{
		Kind:    KindInsufficientFunds,
		Code:    "insufficient_funds",
		Message: fmt.Sprintf("fund %d has balance %d, operation requires %d", fundID, balance, required),
	}
}

func DomainState(format string, args ...any) *Error {
	return &Error{Kind: KindDomainState, Code: "invalid_state", Message: fmt.Sprintf(format, args...)}
}

func NotFound(entity string, id int64) *Error {
	return &Error{Kind: KindNotFound, Code: "not_found", Message: fmt.Sprintf("%s %d not found", entity, id)}
}

// Internal hides the underlying cause from the message; it stays reachable via Unwrap.
func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Code: "internal", Message: op + " failed", Err: err}
}

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Wrap passes *Error values through and converts anything else to Internal.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(op, err)
}
