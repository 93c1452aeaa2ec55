package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers and for the HTTP layer
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindInvalidState Kind = "invalid_state"
	KindGateway      Kind = "gateway"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindInternal     Kind = "internal"
)

// Error is a classified application error
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches kind sentinels, so errors.Is(err, ErrNotFound) holds for any not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrConflict     = &Error{Kind: KindConflict}
	ErrInvalidState = &Error{Kind: KindInvalidState}
	ErrGateway      = &Error{Kind: KindGateway}
	ErrUnauthorized = &Error{Kind: KindUnauthorized}
	ErrForbidden    = &Error{Kind: KindForbidden}
)

func newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation reports malformed or out-of-range input.
func Validation(format string, args ...interface{}) error {
	return newf(KindValidation, format, args...)
}

// NotFound reports an unknown id, course or certificate.
func NotFound(format string, args ...interface{}) error {
	return newf(KindNotFound, format, args...)
}

// Conflict reports a uniqueness violation such as a second active certificate.
func Conflict(format string, args ...interface{}) error {
	return newf(KindConflict, format, args...)
}

// InvalidState reports an illegal state-machine transition.
func InvalidState(format string, args ...interface{}) error {
	return newf(KindInvalidState, format, args...)
}

// Gateway reports a malformed or unresolvable gateway callback.
func Gateway(format string, args ...interface{}) error {
	return newf(KindGateway, format, args...)
}

func Forbidden(format string, args ...interface{}) error {
	return newf(KindForbidden, format, args...)
}

func Unauthorized(format string, args ...interface{}) error {
	return newf(KindUnauthorized, format, args...)
}

// Wrap classifies err under kind, keeping it reachable through errors.Is/As.
func Wrap(kind Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the outermost classification of err, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
