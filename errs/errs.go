// Package errs defines the error taxonomy shared across the runner. Callers
// branch on the Kind instead of matching message strings, which keeps the
// retry/abort decisions in one place.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure along the propagation policy boundaries: config
// problems abort the enclosing run, transport problems become ExecutionResult
// errors, parse problems are recoverable, and validation failures are normal
// business outcomes.
type Kind string

const (
	KindConfig     Kind = "config"
	KindTransport  Kind = "transport"
	KindParse      Kind = "parse"
	KindValidation Kind = "validation"
)

// Error carries a Kind plus an optional wrapped cause.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

// Unwrap exposes the cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error { return e.err }

// Is matches any *Error with the same Kind, so sentinel-style checks like
// errors.Is(err, errs.New(errs.KindConfig, "")) work without shared globals.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// New builds an error of the given kind.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an existing error.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...), err: err}
}

// IsKind reports whether err (or anything it wraps) carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Config builds a configuration error. Configuration errors are raised
// immediately and never retried.
func Config(format string, args ...any) error { return New(KindConfig, format, args...) }

// Transport builds a transport/provider error. These never escape the model
// execution boundary.
func Transport(format string, args ...any) error { return New(KindTransport, format, args...) }

// Parse builds a parse error for model output that could not be decoded.
func Parse(format string, args ...any) error { return New(KindParse, format, args...) }

// Validation builds an error for an explicit failed validation outcome.
func Validation(format string, args ...any) error { return New(KindValidation, format, args...) }
