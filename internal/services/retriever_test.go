package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemon-ai/mnemon/internal/model"
)

type fakeEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

type fakeIndex struct {
	hits      []model.SearchHit
	err       error
	searches  int
	lastOwner string
}

func (f *fakeIndex) UpsertChunk(ctx context.Context, c *model.Chunk, vec []float32) error { return nil }

func (f *fakeIndex) Search(ctx context.Context, ownerID, sessionID, query string, vec []float32, topK int, alpha float32) ([]model.SearchHit, error) {
	f.searches++
	f.lastOwner = ownerID
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

func (f *fakeIndex) DeleteForMessages(ctx context.Context, ownerID string, messageIDs []int64) error {
	return nil
}
func (f *fakeIndex) DeleteSession(ctx context.Context, ownerID, sessionID string) error { return nil }
func (f *fakeIndex) DeleteChunks(ctx context.Context, ownerID string, chunkIDs []string) error {
	return nil
}

func hit(id string, score float64, indexedAt time.Time, msgIDs ...int64) model.SearchHit {
	return model.SearchHit{
		Chunk: model.Chunk{ChunkID: id, OwnerID: "admin_001", SessionID: "S1", MessageIDs: msgIDs, IndexedAt: indexedAt},
		Score: score,
	}
}

func TestSemanticSearchFailsClosedWithoutOwner(t *testing.T) {
	emb := &fakeEmbedder{vec: []float32{1}}
	idx := &fakeIndex{hits: []model.SearchHit{hit("c1", 0.9, time.Now())}}
	r := NewRetrieverService(emb, idx, newTestStore(t), 0.6, zerolog.Nop())

	_, err := r.SemanticSearch(context.Background(), "", "", "query", 5)
	require.ErrorIs(t, err, model.ErrAuthorization)
	// Fail-closed: nothing downstream runs without an owner.
	assert.Zero(t, emb.calls)
	assert.Zero(t, idx.searches)
}

func TestSemanticSearchValidatesQuery(t *testing.T) {
	r := NewRetrieverService(&fakeEmbedder{vec: []float32{1}}, &fakeIndex{}, newTestStore(t), 0.6, zerolog.Nop())
	_, err := r.SemanticSearch(context.Background(), "admin_001", "", "   ", 5)
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestSemanticSearchPropagatesIndexError(t *testing.T) {
	idx := &fakeIndex{err: errors.New("index down")}
	r := NewRetrieverService(&fakeEmbedder{vec: []float32{1}}, idx, newTestStore(t), 0.6, zerolog.Nop())
	_, err := r.SemanticSearch(context.Background(), "admin_001", "", "query", 5)
	require.Error(t, err)
}

func TestSemanticSearchOrderingAndTruncation(t *testing.T) {
	older := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	idx := &fakeIndex{hits: []model.SearchHit{
		hit("low", 0.2, newer, 1),
		hit("tie-old", 0.8, older, 2),
		hit("tie-new", 0.8, newer, 3),
		hit("top", 0.95, older, 4),
	}}
	r := NewRetrieverService(&fakeEmbedder{vec: []float32{1}}, idx, newTestStore(t), 0.6, zerolog.Nop())

	hits, err := r.SemanticSearch(context.Background(), "admin_001", "", "query", 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "top", hits[0].ChunkID)
	// Equal scores: more recently indexed wins.
	assert.Equal(t, "tie-new", hits[1].ChunkID)
	assert.Equal(t, "tie-old", hits[2].ChunkID)
	assert.Equal(t, "admin_001", idx.lastOwner)
}

func TestGetRelevantContextResolvesThroughLog(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := NewConversationService(st, zerolog.Nop())

	m1, err := svc.StoreMessage(ctx, StoreMessageRequest{SessionID: "S1", ActorID: "admin_001", Kind: model.KindUser, Content: "where are the backups"})
	require.NoError(t, err)
	m2, err := svc.StoreMessage(ctx, StoreMessageRequest{SessionID: "S1", ActorID: "admin_001", Kind: model.KindAssistant, Content: "in the vault bucket"})
	require.NoError(t, err)

	idx := &fakeIndex{hits: []model.SearchHit{
		hit("live", 0.9, time.Now(), m1.ID, m2.ID),
		// References messages that no longer exist; must contribute nothing.
		hit("stale", 0.8, time.Now(), 999990, 999991),
	}}
	r := NewRetrieverService(&fakeEmbedder{vec: []float32{1}}, idx, st, 0.6, zerolog.Nop())

	bundle, err := r.GetRelevantContext(ctx, "admin_001", "", "backups", 5)
	require.NoError(t, err)
	require.Len(t, bundle.Sources, 1)
	assert.Equal(t, "live", bundle.Sources[0].ChunkID)
	assert.Equal(t, []int64{m1.ID, m2.ID}, bundle.Sources[0].MessageIDs)
	assert.Contains(t, bundle.Context, "user: where are the backups")
	assert.Contains(t, bundle.Context, "assistant: in the vault bucket")
	assert.NotContains(t, bundle.Context, "stale")
}

func TestGetRelevantContextSkipsSoftDeleted(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := NewConversationService(st, zerolog.Nop())

	m, err := svc.StoreMessage(ctx, StoreMessageRequest{SessionID: "S1", ActorID: "admin_001", Kind: model.KindUser, Content: "delete me"})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteSession(ctx, "S1", "admin_001", false))

	idx := &fakeIndex{hits: []model.SearchHit{hit("c1", 0.9, time.Now(), m.ID)}}
	r := NewRetrieverService(&fakeEmbedder{vec: []float32{1}}, idx, st, 0.6, zerolog.Nop())

	bundle, err := r.GetRelevantContext(ctx, "admin_001", "", "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, bundle.Sources)
	assert.Empty(t, bundle.Context)
}
