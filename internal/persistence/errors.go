package persistence

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrConnection = errors.New("connection error")
	ErrValidation = errors.New("validation error")
	ErrQuery      = errors.New("query error")
)

// Error is returned by every store operation that fails.
type Error struct {
	Kind error  // ErrConnection, ErrValidation or ErrQuery
	Op   string // store operation, e.g. "insert"
	Err  error  // underlying cause, may be nil for validation failures
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("task store %s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("task store %s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func connectionError(op string, err error) error {
	return &Error{Kind: ErrConnection, Op: op, Err: err}
}

func queryError(op string, err error) error {
	return &Error{Kind: ErrQuery, Op: op, Err: err}
}

func validationError(op, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Op: op, Err: fmt.Errorf(format, args...)}
}
