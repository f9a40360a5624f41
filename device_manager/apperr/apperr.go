package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	Internal Kind = iota
	NotFound
	Forbidden
	Conflict
	Validation
	ExternalService
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Forbidden:
		return "forbidden"
	case Conflict:
		return "conflict"
	case Validation:
		return "validation"
	case ExternalService:
		return "external_service"
	default:
		return "internal"
	}
}

func (k Kind) HTTPStatus() int {
	switch k {
	case NotFound:
		return http.StatusNotFound
	case Forbidden:
		return http.StatusForbidden
	case Conflict:
		return http.StatusConflict
	case Validation:
		return http.StatusUnprocessableEntity
	case ExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error attaches a Kind to an error. The kind is decided where the failure is
// detected and is only translated to a transport status at the http boundary.
type Error struct {
	kind Kind
	err  error
}

func (e *Error) Error() string {
	return e.err.Error()
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) Kind() Kind {
	return e.kind
}

func New(kind Kind, msg string) error {
	return &Error{kind: kind, err: errors.New(msg)}
}

func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{kind: kind, err: fmt.Errorf(format, args...)}
}

func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, err: err}
}

// KindOf returns the kind of the outermost classified error in the chain, or
// Internal if the chain carries none.
func KindOf(err error) Kind {
	var aerr *Error
	if errors.As(err, &aerr) {
		return aerr.kind
	}
	return Internal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
