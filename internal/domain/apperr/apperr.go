package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that must react differently to each cause.
type Kind string

const (
	KindConfiguration         Kind = "CONFIGURATION"
	KindValidation            Kind = "VALIDATION"
	KindStateConflict         Kind = "STATE_CONFLICT"
	KindNotFound              Kind = "NOT_FOUND"
	KindExternalService       Kind = "EXTERNAL_SERVICE"
	KindAuthorizationRejected Kind = "AUTHORIZATION_REJECTED"
	KindInsufficientFunds     Kind = "INSUFFICIENT_FUNDS"
	KindUserDeclined          Kind = "USER_DECLINED"
	KindInternal              Kind = "INTERNAL"
)

// Error is a classified error.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

func newError(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: msg, Err: err}
}

func Configuration(op, msg string) error { return newError(KindConfiguration, op, msg, nil) }

func Validation(op, msg string) error { return newError(KindValidation, op, msg, nil) }

func StateConflict(op, msg string) error { return newError(KindStateConflict, op, msg, nil) }

func NotFound(op, msg string) error { return newError(KindNotFound, op, msg, nil) }

func ExternalService(op string, err error) error {
	return newError(KindExternalService, op, "", err)
}

func AuthorizationRejected(op string, err error) error {
	return newError(KindAuthorizationRejected, op, "", err)
}

func InsufficientFunds(op string, err error) error {
	return newError(KindInsufficientFunds, op, "", err)
}

func UserDeclined(op string, err error) error {
	return newError(KindUserDeclined, op, "", err)
}

// Wrap classifies err under kind, keeping it in the chain.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return newError(kind, op, "", err)
}

// KindOf returns the kind of the first classified error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
