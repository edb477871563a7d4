// Package errs implements the error taxonomy from the AsteronIris error
// handling design: a small set of sentinel-wrapped kinds that every
// component can classify without parsing message strings.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the taxonomy buckets.
type Kind string

const (
	KindUser       Kind = "user"
	KindPolicy     Kind = "policy"
	KindTransport  Kind = "transport"
	KindData       Kind = "data"
	KindIntegrity  Kind = "integrity"
	KindTimeout    Kind = "timeout"
	KindExhaustion Kind = "exhaustion"
)

// Error wraps an underlying error with a taxonomy kind and a short,
// non-secret-leaking message suitable for surfacing to the originating
// transport (CLI stderr, channel reply, HTTP status body).
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a taxonomy error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a taxonomy error wrapping an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, or "" if err is not a taxonomy error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}
