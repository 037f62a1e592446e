// Package errs holds the error taxonomy shared by storage, engine and the API.
package errs

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure independently of the operation that produced it.
type Kind string

const (
	InvalidArgument Kind = "invalid_argument"
	NotFound        Kind = "not_found"
	AlreadyExists   Kind = "already_exists"
	InvalidState    Kind = "invalid_state"
	ScopeMismatch   Kind = "scope_mismatch"
	Transient       Kind = "transient"
	Permanent       Kind = "permanent"
)

// Error is a classified error. A zero Msg makes it a kind sentinel.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match against the same pointer or against a kind sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t == e {
		return true
	}
	return t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrInvalidArgument = &Error{Kind: InvalidArgument}
	ErrNotFound        = &Error{Kind: NotFound}
	ErrAlreadyExists   = &Error{Kind: AlreadyExists}
	ErrInvalidState    = &Error{Kind: InvalidState}
	ErrScopeMismatch   = &Error{Kind: ScopeMismatch}
	ErrTransient       = &Error{Kind: Transient}
	ErrPermanent       = &Error{Kind: Permanent}
)

// Named failures used across the engine.
var (
	ErrReferencedEntityMissing = New(NotFound, "referenced entity missing")
	ErrNoSuchContract          = New(NotFound, "no such contract")
	ErrWrongContract           = New(InvalidArgument, "task does not belong to this invoice's contract")
	ErrAlreadyPaid             = New(InvalidState, "invoice is already paid")
	ErrAlreadyInvoiced         = New(AlreadyExists, "task is already invoiced")
)

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err stays nil.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of the first classified error in the chain.
// Context cancellation and deadlines are reported as Transient.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	for cur := err; cur != nil; {
		if errors.As(cur, &e) {
			if e.Kind != "" {
				return e.Kind
			}
			cur = e.Err
			continue
		}
		break
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	return ""
}

// IsTransient reports whether a caller may retry err.
func IsTransient(err error) bool {
	return KindOf(err) == Transient
}
