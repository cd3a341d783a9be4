package pairing

import "fmt"

// ErrType enumerates the recoverable pairing failures.
type ErrType uint32

const (
	// InvalidOrExpiredPin means the submitted PIN is unknown, already used,
	// or past its expiry.
	InvalidOrExpiredPin ErrType = iota
	// MalformedPayload means the pairing payload could not be decoded.
	MalformedPayload
)

// Error is a typed pairing error. Pairing failures are surfaced to the
// caller and never leave side effects behind.
type Error struct {
	errType ErrType
	detail  string
}

// NewError wraps an ErrType and an optional detail string in an Error.
func NewError(errType ErrType, detail string) Error {
	return Error{
		errType: errType,
		detail:  detail,
	}
}

// Error implements the error interface.
func (e Error) Error() string {
	m := ""
	switch e.errType {
	case InvalidOrExpiredPin:
		m = "invalid or expired PIN"
	case MalformedPayload:
		m = "malformed pairing payload"
	}

	if e.detail == "" {
		return m
	}

	return fmt.Sprintf("%s: %s", m, e.detail)
}

// Is checks that an error is a pairing Error with the given code.
func Is(err error, t ErrType) bool {
	pairingErr, ok := err.(Error)
	return ok && pairingErr.errType == t
}
