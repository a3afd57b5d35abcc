// Package errs classifies domain errors into the small set of kinds the
// transport layer maps to responses.
package errs

import (
	"context"
	"errors"
)

// Kind is a coarse error class.
type Kind string

const (
	KindUnknown       Kind = "unknown"
	KindValidation    Kind = "validation"
	KindSignature     Kind = "signature"
	KindPolicy        Kind = "policy"
	KindDuplicate     Kind = "duplicate"
	KindTransient     Kind = "transient"
	KindConfiguration Kind = "configuration"
	KindIntegrity     Kind = "integrity"
	KindNotFound      Kind = "not_found"
)

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// With attaches kind to err. A nil err stays nil.
func With(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

func Validation(err error) error    { return With(KindValidation, err) }
func Signature(err error) error     { return With(KindSignature, err) }
func Policy(err error) error        { return With(KindPolicy, err) }
func Duplicate(err error) error     { return With(KindDuplicate, err) }
func Transient(err error) error     { return With(KindTransient, err) }
func Configuration(err error) error { return With(KindConfiguration, err) }
func Integrity(err error) error     { return With(KindIntegrity, err) }
func NotFound(err error) error      { return With(KindNotFound, err) }

// New returns a sentinel that already carries kind.
func New(kind Kind, code string) error {
	return &kindError{kind: kind, err: errors.New(code)}
}

// KindOf returns the outermost kind attached to err. Context deadlines are
// transient even when untagged.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindUnknown
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
