package auth

import (
	"context"
	"sync"
)

const (
	// LocalDevAPIKey is the hardcoded API key for local development only.
	LocalDevAPIKey = "sk_local_mnemon_dev_key"
)

// StaticAuthorizer resolves API keys from an in-memory table. It is
// the local-development stand-in for the external auth service.
type StaticAuthorizer struct {
	mu   sync.RWMutex
	keys map[string]ActorInfo
}

// NewStaticAuthorizer creates an authorizer pre-seeded with the local
// development key.
func NewStaticAuthorizer() *StaticAuthorizer {
	return &StaticAuthorizer{
		keys: map[string]ActorInfo{
			LocalDevAPIKey: {ActorID: "mnemon-dev", Role: "admin", KeyName: "Local Development Key"},
		},
	}
}

// Register adds or replaces a key -> actor mapping.
func (a *StaticAuthorizer) Register(apiKey string, info ActorInfo) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys[apiKey] = info
}

// Authorize resolves the API key to an actor.
func (a *StaticAuthorizer) Authorize(ctx context.Context, apiKey, operation string) (*ActorInfo, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	a.mu.RLock()
	info, ok := a.keys[apiKey]
	a.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidAPIKey
	}
	out := info
	return &out, nil
}
