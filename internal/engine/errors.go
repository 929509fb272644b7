package engine

import (
	"errors"
	"fmt"

	"gigline/internal/repo"
)

// Kind groups error codes into the classes the HTTP layer maps to status codes.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindForbidden       Kind = "forbidden"
	KindInvalidState    Kind = "invalid_state"
	KindConflict        Kind = "conflict"
	KindProvider        Kind = "provider_error"
	KindBadRequest      Kind = "bad_request"
	KindConsentRequired Kind = "consent_required"
)

type Code string

const (
	CodeNotFound        Code = "NOT_FOUND"
	CodeAlreadyClaimed  Code = "ALREADY_CLAIMED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeInvalidState    Code = "INVALID_STATE"
	CodeInvalidNonce    Code = "INVALID_NONCE"
	CodeAlreadySigned   Code = "ALREADY_SIGNED"
	CodeAlreadyPaid     Code = "ALREADY_PAID"
	CodeProviderError   Code = "PROVIDER_ERROR"
	CodeOutOfOrder      Code = "OUT_OF_ORDER"
	CodeUnknownPayment  Code = "UNKNOWN_PAYMENT"
	CodeConflict        Code = "CONFLICT"
	CodeBadRequest      Code = "BAD_REQUEST"
	CodeConsentRequired Code = "CONSENT_REQUIRED"
)

// Error is the typed result every engine operation returns on a rule violation.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrNotFound        = &Error{Kind: KindNotFound, Code: CodeNotFound, Message: "not found"}
	ErrAlreadyClaimed  = &Error{Kind: KindConflict, Code: CodeAlreadyClaimed, Message: "mission already claimed"}
	ErrForbidden       = &Error{Kind: KindForbidden, Code: CodeForbidden, Message: "forbidden"}
	ErrInvalidState    = &Error{Kind: KindInvalidState, Code: CodeInvalidState, Message: "invalid state"}
	ErrInvalidNonce    = &Error{Kind: KindConflict, Code: CodeInvalidNonce, Message: "signature nonce does not match"}
	ErrAlreadySigned   = &Error{Kind: KindInvalidState, Code: CodeAlreadySigned, Message: "already signed"}
	ErrAlreadyPaid     = &Error{Kind: KindConflict, Code: CodeAlreadyPaid, Message: "mission already has an active payment"}
	ErrProvider        = &Error{Kind: KindProvider, Code: CodeProviderError, Message: "payment provider error"}
	ErrOutOfOrder      = &Error{Kind: KindInvalidState, Code: CodeOutOfOrder, Message: "webhook out of order"}
	ErrUnknownPayment  = &Error{Kind: KindNotFound, Code: CodeUnknownPayment, Message: "unknown payment"}
	ErrConflict        = &Error{Kind: KindConflict, Code: CodeConflict, Message: "concurrent update"}
	ErrBadRequest      = &Error{Kind: KindBadRequest, Code: CodeBadRequest, Message: "bad request"}
	ErrConsentRequired = &Error{Kind: KindConsentRequired, Code: CodeConsentRequired, Message: "terms must be accepted first"}
)

func fail(base *Error, format string, args ...any) *Error {
	return &Error{Kind: base.Kind, Code: base.Code, Message: fmt.Sprintf(format, args...)}
}

func failWrap(base *Error, err error, format string, args ...any) *Error {
	e := fail(base, format, args...)
	e.Err = err
	return e
}

// AsError extracts the engine error from err.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// notFound converts the repo sentinel into the engine one and passes other errors through.
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fail(ErrNotFound, format, args...)
	}
	return err
}
