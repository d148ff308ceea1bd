package model

import "errors"

var (
	// ErrValidation covers malformed input: unknown message kind,
	// empty content, missing identifiers.
	ErrValidation = errors.New("validation error")

	// ErrNotFound is returned by direct single-row lookups. History
	// reads return empty results instead, so session existence is not
	// observable across actors.
	ErrNotFound = errors.New("not found")

	// ErrAuthorization is returned when an owner scope is missing or
	// mismatched. Fails closed: no partial results.
	ErrAuthorization = errors.New("authorization error")

	// ErrConsistency marks an owner-mixing chunk, a programming error
	// the synchronizer refuses to index.
	ErrConsistency = errors.New("consistency violation")
)
