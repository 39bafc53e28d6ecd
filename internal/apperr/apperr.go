// Package apperr defines the error taxonomy shared by the domain services.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/glimpse/backend/internal/repositories"
)

// Kind classifies a failure for callers.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindValidation
	KindRemote
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindRemote:
		return "remote"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Op names the operation that failed.
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
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// NotFound returns a KindNotFound error.
func NotFound(op, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Validation returns a KindValidation error.
func Validation(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Conflict returns a KindConflict error.
func Conflict(op, format string, args ...any) error {
	return &Error{Kind: KindConflict, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Remote wraps a collaborator failure.
func Remote(op string, err error) error {
	return &Error{Kind: KindRemote, Op: op, Err: err}
}

// FromStore classifies an error returned by a repository.
func FromStore(op string, err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return &Error{Kind: KindNotFound, Op: op, Err: err}
	case errors.Is(err, repositories.ErrConflict):
		return &Error{Kind: KindConflict, Op: op, Err: err}
	default:
		return &Error{Kind: KindRemote, Op: op, Err: err}
	}
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps err to a response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindRemote:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
