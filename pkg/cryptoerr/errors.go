// Package cryptoerr defines the error taxonomy shared by the identity core.
//
// Every failure surfaced by the core is an *Error carrying a Kind. Callers
// match on the kind with errors.Is against the sentinel values:
//
//	if errors.Is(err, cryptoerr.ErrAuthenticationFailure) {
//	    // wrong password, tampered message, bad signature
//	}
//
// Error messages never include secret material.
package cryptoerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// KindInvalidInputLength is a key, seed, signature or nonce of the wrong size.
	KindInvalidInputLength Kind = iota + 1

	// KindAuthenticationFailure is a failed signature or AEAD tag check.
	KindAuthenticationFailure

	// KindDerivationFailure is an unexpected error from a KDF or HMAC primitive.
	KindDerivationFailure

	// KindProtocolStateError is an operation attempted in the wrong protocol state.
	KindProtocolStateError

	// KindTransportError is a failure reported by the external backend.
	KindTransportError
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInputLength:
		return "invalid input length"
	case KindAuthenticationFailure:
		return "authentication failure"
	case KindDerivationFailure:
		return "derivation failure"
	case KindProtocolStateError:
		return "protocol state error"
	case KindTransportError:
		return "transport error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinel errors for errors.Is() checks.
var (
	ErrInvalidInputLength    = errors.New("invalid input length")
	ErrAuthenticationFailure = errors.New("authentication failure")
	ErrDerivationFailure     = errors.New("derivation failure")
	ErrProtocolState         = errors.New("protocol state error")
	ErrTransport             = errors.New("transport error")
)

var sentinels = map[Kind]error{
	KindInvalidInputLength:    ErrInvalidInputLength,
	KindAuthenticationFailure: ErrAuthenticationFailure,
	KindDerivationFailure:     ErrDerivationFailure,
	KindProtocolStateError:    ErrProtocolState,
	KindTransportError:        ErrTransport,
}

// Error is the concrete error type returned by the core.
type Error struct {
	Kind Kind
	// Op names the failing operation, e.g. "sealedbox.Open".
	Op string
	// Detail is a short non-secret description.
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && target == s
}

// New returns an *Error of the given kind.
func New(kind Kind, op, detail string) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail}
}

// Wrap returns an *Error of the given kind wrapping err.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// InvalidLength reports an input of the wrong size.
func InvalidLength(op, what string, got, want int) *Error {
	return &Error{
		Kind:   KindInvalidInputLength,
		Op:     op,
		Detail: fmt.Sprintf("%s: got %d bytes, want %d", what, got, want),
	}
}

// AuthFailed reports a failed signature or AEAD check. The message is the
// same for both so callers cannot tell which check failed.
func AuthFailed(op string) *Error {
	return &Error{Kind: KindAuthenticationFailure, Op: op}
}

// KindOf returns the kind of err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
