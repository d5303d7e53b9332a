// Package errors provides kinded errors and RFC 7807 Problem Details for the risk API
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Is and As re-export the standard library helpers so callers need one import.
var (
	Is = errors.Is
	As = errors.As
)

// Kind classifies an error for the API boundary.
type Kind string

const (
	KindUnsupportedChain Kind = "UnsupportedChain"
	KindNotFound         Kind = "NotFound"
	KindValidation       Kind = "Validation"
	KindInternal         Kind = "Internal"
)

// FieldError names the offending field of a validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message,omitempty"`
}

func (f FieldError) String() string {
	return f.Field + ": " + f.Message
}

// Error carries a kind, an optional message, field errors and a cause.
// Values are immutable; Explain, Wrap and WithField return copies so that
// package-level sentinels can be shared.
type Error struct {
	Kind    Kind         `json:"kind"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`

	cause error
}

var _ error = (*Error)(nil)

// NewWithKind returns a sentinel of the given kind.
func NewWithKind(kind Kind) *Error {
	return &Error{Kind: kind}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("[" + string(e.Kind) + "]")
	if e.Message != "" {
		b.WriteString(" " + e.Message)
	}
	for _, f := range e.Fields {
		b.WriteString("; " + f.String())
	}
	if e.cause != nil {
		fmt.Fprintf(&b, " (%s)", e.cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Wrap returns a copy with the given cause.
func (e *Error) Wrap(cause error) *Error {
	err := *e
	err.cause = cause
	return &err
}

// Explain returns a copy with a formatted message.
func (e *Error) Explain(message string, args ...any) *Error {
	err := *e
	err.Message = fmt.Sprintf(message, args...)
	return &err
}

// WithField returns a copy with one more field error.
func (e *Error) WithField(field, message string) *Error {
	err := *e
	err.Fields = append(append([]FieldError(nil), e.Fields...), FieldError{Field: field, Message: message})
	return &err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	other, ok := target.(*Error)
	return ok && other.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
