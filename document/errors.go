package document

import (
	"errors"
	"fmt"

	"github.com/georgepadayatti/pdfsignatures/sign/digest"
	"github.com/georgepadayatti/pdfsignatures/sign/dss"
	"github.com/georgepadayatti/pdfsignatures/sign/signers"
)

// Kind classifies errors. Its string form is what the command line
// reports as ERROR_TYPE.
type Kind string

const (
	KindDocument             Kind = "DocumentError"
	KindCertificationLevel   Kind = "CertificationLevelError"
	KindWriteNotAllowed      Kind = "WriteNotAllowedError"
	KindSignatureTooLarge    Kind = "SignatureTooLargeError"
	KindValidation           Kind = "ValidationError"
	KindUnsupportedAlgorithm Kind = "UnsupportedAlgorithmError"
	KindArgument             Kind = "ArgumentError"
)

// Common errors
var (
	ErrNoSignatureFields = errors.New("document has no signature fields")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// Error is returned by every Document operation.
type Error struct {
	Kind Kind
	// Op is the operation that failed, e.g. "placeholder".
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with an explicit kind.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err. Errors that carry no kind and match no
// known sentinel are document errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return classify(err)
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, signers.ErrCertificationLevel):
		return KindCertificationLevel
	case errors.Is(err, signers.ErrWriteNotAllowed):
		return KindWriteNotAllowed
	case errors.Is(err, signers.ErrSignatureTooLarge):
		return KindSignatureTooLarge
	case errors.Is(err, dss.ErrInvalidOCSP), errors.Is(err, dss.ErrInvalidCRL), errors.Is(err, dss.ErrCertified):
		return KindValidation
	case errors.Is(err, digest.ErrUnsupportedAlgorithm):
		return KindUnsupportedAlgorithm
	case errors.Is(err, ErrInvalidArgument):
		return KindArgument
	default:
		return KindDocument
	}
}

// wrap attaches op and the classified kind to err.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: classify(err), Op: op, Err: err}
}
