package dms

import "errors"

// Error kinds returned by the core store. Callers match them with errors.Is;
// the transport layer maps them to its own status codes.
var (
	// ErrInvalidArgument indicates malformed input: a path that does not
	// start with "/", missing content, or a grant set that includes the owner.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConflict indicates a uniqueness violation: a duplicate (owner, path)
	// on document creation, or an exhausted retry on version number assignment.
	ErrConflict = errors.New("conflict")

	// ErrNotFound indicates an unknown document, version, or hash. A version
	// the caller cannot read is reported identically, so absence and denial
	// are indistinguishable.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates a grant change attempted by a non-owner.
	ErrForbidden = errors.New("forbidden")
)
