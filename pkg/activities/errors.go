package activities

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package wraps exactly one of them.
var (
	ErrConnection    = errors.New("connection error")
	ErrProvision     = errors.New("provision error")
	ErrScan          = errors.New("scan error")
	ErrBulkWrite     = errors.New("bulk write error")
	ErrDocumentWrite = errors.New("document write error")
)

// Error is a failed activity step
type Error struct {
	Op   string
	Kind error
	Err  error
}

func newError(op string, kind error, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
