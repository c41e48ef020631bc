package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures. All kinds surface synchronously to the
// caller; only Conflict is worth retrying (after re-reading the version).
type Kind string

const (
	NotFound          Kind = "not_found"
	Unauthorized      Kind = "unauthorized"
	InvalidTransition Kind = "invalid_transition"
	ValidationError   Kind = "validation_error"
	Conflict          Kind = "conflict"
	PersistenceError  Kind = "persistence_error"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match two apperr values by kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error, keeping it unwrappable.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or PersistenceError for untyped errors
// (anything reaching the caller untyped came from the store layer).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return PersistenceError
}

func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
