package auth

import (
	"context"
)

// ActorInfo is the verified identity handed to the core. The core
// never authenticates; it only enforces that every read and write
// stays within ActorID.
type ActorInfo struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"` // 'standard', 'admin'
	KeyName string `json:"key_name"`
}

// Authorizer validates API keys and resolves the calling actor in one
// call. Implementations fail closed: no actor, no access.
type Authorizer interface {
	Authorize(ctx context.Context, apiKey, operation string) (*ActorInfo, error)
}
