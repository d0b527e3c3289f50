package types

import "errors"

// Error kinds surfaced by the core services. Callers match them with
// errors.Is; handlers map them onto HTTP status codes.
var (
	// ErrInvalidInput marks an empty required field or malformed payload
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthenticated marks a missing or invalid identity
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrNotFound marks an absent session or user. A session owned by a
	// different user reports the same kind, so callers cannot probe for the
	// existence of other users' sessions.
	ErrNotFound = errors.New("not found")

	// ErrStorageFailure marks an unavailable blob store or metadata store
	ErrStorageFailure = errors.New("storage failure")
)
