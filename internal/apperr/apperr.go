// Package apperr classifies coordinator failures so transports and retry
// loops can react to the kind of error instead of its text.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindFatal Kind = iota
	KindConflict
	KindExpired
	KindNotAParticipant
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindConflict:
		return "conflict"
	case KindExpired:
		return "expired"
	case KindNotAParticipant:
		return "not_a_participant"
	case KindTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// Fatal sub-codes that transports map to distinct statuses.
const (
	CodeNotFound = "not_found"
	CodeInvalid  = "invalid_request"
	CodeInternal = "internal_error"
)

type Error struct {
	Kind Kind
	// Class narrows fatal errors: CodeNotFound, CodeInvalid or CodeInternal.
	Class   string
	Code    string
	Message string
	Detail  any
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Code
	if e.Message != "" {
		msg = e.Code + ": " + e.Message
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches on kind and code so callers can compare against sentinel values.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Code == e.Code
}

func Conflict(code string, detail any) *Error {
	return &Error{Kind: KindConflict, Code: code, Detail: detail}
}

func Expired(code string, detail any) *Error {
	return &Error{Kind: KindExpired, Code: code, Detail: detail}
}

func NotAParticipant(code string) *Error {
	return &Error{Kind: KindNotAParticipant, Code: code}
}

func Transient(code string, cause error) *Error {
	return &Error{Kind: KindTransient, Code: code, Cause: cause}
}

func NotFound(code string) *Error {
	return &Error{Kind: KindFatal, Class: CodeNotFound, Code: code}
}

func Invalid(code, message string) *Error {
	return &Error{Kind: KindFatal, Class: CodeInvalid, Code: code, Message: message}
}

func Internal(cause error) *Error {
	return &Error{Kind: KindFatal, Class: CodeInternal, Code: CodeInternal, Cause: cause}
}

func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the kind of err. Unclassified errors are fatal.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindFatal
}

func CodeOf(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}

func IsNotFound(err error) bool {
	e, ok := As(err)
	return ok && e.Kind == KindFatal && e.Class == CodeNotFound
}

func IsInvalid(err error) bool {
	e, ok := As(err)
	return ok && e.Kind == KindFatal && e.Class == CodeInvalid
}
