// Package fault separates business rejections from broken invariants.
//
// A Business error is an ordinary refusal (insufficient balance, unknown pair)
// that aborts the current transaction and is shown to the caller. A Critical
// error means calling code violated an invariant; it aborts the transaction
// too but must be logged as an internal failure and never shown as a normal
// rejection.
package fault

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Business Kind = iota
	Critical
)

func (k Kind) String() string {
	if k == Critical {
		return "critical"
	}
	return "business"
}

// Error carries a kind and a message, optionally wrapping a cause.
type Error struct {
	Kind    Kind
	Message string

	cause error
}

var _ error = (*Error)(nil)

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func NewBusiness(msg string) *Error {
	return New(Business, msg)
}

func NewCritical(msg string) *Error {
	return New(Critical, msg)
}

func Businessf(format string, args ...any) *Error {
	return New(Business, fmt.Sprintf(format, args...))
}

func Criticalf(format string, args ...any) *Error {
	return New(Critical, fmt.Sprintf(format, args...))
}

// Wrap attaches kind and message to an underlying error.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, cause: err}
}

// KindOf reports the kind of the outermost fault in err's chain.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

func IsBusiness(err error) bool {
	k, ok := KindOf(err)
	return ok && k == Business
}

func IsCritical(err error) bool {
	k, ok := KindOf(err)
	return ok && k == Critical
}

var (
	ErrInsufficientBalance = NewBusiness("insufficient balance")
	ErrOverloaded          = NewBusiness("server overloaded")
	ErrShuttingDown        = NewBusiness("server shutting down")
)
