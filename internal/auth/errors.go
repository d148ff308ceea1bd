package auth

import "errors"

var (
	// ErrMissingAPIKey is returned when no credential accompanies the request.
	ErrMissingAPIKey = errors.New("api key required")

	// ErrInvalidAPIKey is returned when the credential resolves to no actor.
	ErrInvalidAPIKey = errors.New("invalid api key")
)
