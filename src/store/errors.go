package store

import "fmt"

// MergeErrType enumerates the ways applying a changeset can fail.
type MergeErrType uint32

const (
	// ConstraintViolation means an edit violated a referential-integrity
	// constraint. The apply was rolled back as a unit.
	ConstraintViolation MergeErrType = iota
	// UnreadableChangeset means the blob could not be decoded.
	UnreadableChangeset
)

// MergeError reports a failed changeset application. The local store is
// provably unchanged when one is returned.
type MergeError struct {
	errType MergeErrType
	detail  string
}

// NewMergeError ...
func NewMergeError(errType MergeErrType, detail string) MergeError {
	return MergeError{
		errType: errType,
		detail:  detail,
	}
}

// Error ...
func (e MergeError) Error() string {
	m := ""
	switch e.errType {
	case ConstraintViolation:
		m = "constraint violation"
	case UnreadableChangeset:
		m = "unreadable changeset"
	}

	if e.detail == "" {
		return "merge: " + m
	}

	return fmt.Sprintf("merge: %s: %s", m, e.detail)
}

// IsMerge checks that an error is a MergeError with the given code.
func IsMerge(err error, t MergeErrType) bool {
	mergeErr, ok := err.(MergeError)
	return ok && mergeErr.errType == t
}
