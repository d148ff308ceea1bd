package auth

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticAuthorizer(t *testing.T) {
	a := NewStaticAuthorizer()
	ctx := context.Background()

	info, err := a.Authorize(ctx, LocalDevAPIKey, "message.create")
	require.NoError(t, err)
	assert.Equal(t, "mnemon-dev", info.ActorID)
	assert.Equal(t, "admin", info.Role)

	_, err = a.Authorize(ctx, "", "message.create")
	require.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = a.Authorize(ctx, "sk_bogus", "message.create")
	require.ErrorIs(t, err, ErrInvalidAPIKey)

	a.Register("sk_new", ActorInfo{ActorID: "svc-bot", Role: "standard"})
	info, err = a.Authorize(ctx, "sk_new", "search.read")
	require.NoError(t, err)
	assert.Equal(t, "svc-bot", info.ActorID)
}

func TestExtractAPIKey(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	_, err := ExtractAPIKey(r)
	require.Error(t, err)

	r.Header.Set("Authorization", "Basic abc")
	_, err = ExtractAPIKey(r)
	require.Error(t, err)

	r.Header.Set("Authorization", "Bearer sk_123")
	key, err := ExtractAPIKey(r)
	require.NoError(t, err)
	assert.Equal(t, "sk_123", key)
}
