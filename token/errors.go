package token

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedToken is returned when the token cannot be decoded at all
	ErrMalformedToken = errors.New("malformed token")

	// ErrBadSignature is returned when the signature does not verify under the secret
	ErrBadSignature = errors.New("bad signature")

	// ErrExpired is returned when the token is past its expiry
	ErrExpired = errors.New("token expired")

	// ErrEmptySecret is returned when a codec is built without a signing secret
	ErrEmptySecret = errors.New("signing secret is empty")

	// ErrEmptySubject is returned when minting for an empty principal id
	ErrEmptySubject = errors.New("principal id is empty")
)

// Kind classifies why a token failed verification.
type Kind int

const (
	MalformedToken Kind = iota + 1
	BadSignature
	Expired
)

func (k Kind) String() string {
	switch k {
	case MalformedToken:
		return "malformed_token"
	case BadSignature:
		return "bad_signature"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case MalformedToken:
		return ErrMalformedToken
	case BadSignature:
		return ErrBadSignature
	case Expired:
		return ErrExpired
	default:
		return nil
	}
}

// VerificationError is returned by Verify and Inspect. The Kind is meant for
// logs; callers answering a client should not expose it.
type VerificationError struct {
	Kind Kind
	Err  error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind.sentinel(), e.Err)
	}
	return e.Kind.sentinel().Error()
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the package sentinels.
func (e *VerificationError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func newVerificationError(kind Kind, err error) *VerificationError {
	return &VerificationError{Kind: kind, Err: err}
}

// KindOf returns the verification kind carried by err, or 0.
func KindOf(err error) Kind {
	var verr *VerificationError
	if errors.As(err, &verr) {
		return verr.Kind
	}
	return 0
}
