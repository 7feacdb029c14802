package models

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrValidation      = errors.New("validation error")
	ErrAuthorization   = errors.New("authorization error")
	ErrConstraint      = errors.New("constraint error")
	ErrExternalService = errors.New("external service error")
	ErrNotFound        = errors.New("not found")
)

// Error carries a kind, the failing operation and a human readable message.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

func ValidationError(op, msg string) error {
	return newError(ErrValidation, op, msg, nil)
}

func AuthorizationError(op, msg string) error {
	return newError(ErrAuthorization, op, msg, nil)
}

func ConstraintError(op, msg string, err error) error {
	return newError(ErrConstraint, op, msg, err)
}

func ExternalServiceError(op, msg string, err error) error {
	return newError(ErrExternalService, op, msg, err)
}

func NotFoundError(op, msg string) error {
	return newError(ErrNotFound, op, msg, nil)
}

// DisplayMessage returns the best description of err for an end user:
// the message of the outermost typed error, or err's own text.
func DisplayMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Msg != "" {
			return e.Msg
		}
		if e.Err != nil {
			return e.Err.Error()
		}
		return e.Kind.Error()
	}
	return err.Error()
}
