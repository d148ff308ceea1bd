package searchindex

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemon-ai/mnemon/internal/model"
)

func testChunk(id, owner, session, text string, msgIDs []int64) *model.Chunk {
	return &model.Chunk{
		ChunkID:    id,
		OwnerID:    owner,
		SessionID:  session,
		Text:       text,
		MessageIDs: msgIDs,
		IndexedAt:  time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	}
}

func TestChromemOwnerIsolation(t *testing.T) {
	ctx := context.Background()
	idx := NewChromemIndex()

	require.NoError(t, idx.UpsertChunk(ctx, testChunk("11111111-1111-1111-1111-111111111111", "alice", "S1", "deploy notes", []int64{1, 2}), []float32{1, 0, 0}))
	require.NoError(t, idx.UpsertChunk(ctx, testChunk("22222222-2222-2222-2222-222222222222", "bob", "S9", "secret plans", []int64{7}), []float32{1, 0, 0}))

	hits, err := idx.Search(ctx, "alice", "", "deploy", []float32{1, 0, 0}, 10, 0.6)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "alice", hits[0].OwnerID)
	assert.Equal(t, []int64{1, 2}, hits[0].MessageIDs)

	_, err = idx.Search(ctx, "", "", "deploy", []float32{1, 0, 0}, 10, 0.6)
	require.ErrorIs(t, err, model.ErrAuthorization)
}

func TestChromemSessionFilter(t *testing.T) {
	ctx := context.Background()
	idx := NewChromemIndex()

	require.NoError(t, idx.UpsertChunk(ctx, testChunk("11111111-1111-1111-1111-111111111111", "alice", "S1", "first session", []int64{1}), []float32{1, 0, 0}))
	require.NoError(t, idx.UpsertChunk(ctx, testChunk("22222222-2222-2222-2222-222222222222", "alice", "S2", "second session", []int64{2}), []float32{0, 1, 0}))

	hits, err := idx.Search(ctx, "alice", "S2", "anything", []float32{0, 1, 0}, 10, 0.6)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "S2", hits[0].SessionID)
}

func TestChromemUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	idx := NewChromemIndex()

	c := testChunk("11111111-1111-1111-1111-111111111111", "alice", "S1", "same chunk", []int64{1})
	require.NoError(t, idx.UpsertChunk(ctx, c, []float32{1, 0, 0}))
	require.NoError(t, idx.UpsertChunk(ctx, c, []float32{1, 0, 0}))

	hits, err := idx.Search(ctx, "alice", "", "q", []float32{1, 0, 0}, 10, 0.6)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestChromemDeleteForMessages(t *testing.T) {
	ctx := context.Background()
	idx := NewChromemIndex()

	require.NoError(t, idx.UpsertChunk(ctx, testChunk("11111111-1111-1111-1111-111111111111", "alice", "S1", "chunk a", []int64{1, 2}), []float32{1, 0, 0}))
	require.NoError(t, idx.UpsertChunk(ctx, testChunk("22222222-2222-2222-2222-222222222222", "alice", "S1", "chunk b", []int64{3}), []float32{0, 1, 0}))

	require.NoError(t, idx.DeleteForMessages(ctx, "alice", []int64{2}))

	hits, err := idx.Search(ctx, "alice", "", "q", []float32{1, 0, 0}, 10, 0.6)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "22222222-2222-2222-2222-222222222222", hits[0].ChunkID)
}

func TestChromemDeleteSession(t *testing.T) {
	ctx := context.Background()
	idx := NewChromemIndex()

	require.NoError(t, idx.UpsertChunk(ctx, testChunk("11111111-1111-1111-1111-111111111111", "alice", "S1", "gone", []int64{1}), []float32{1, 0, 0}))
	require.NoError(t, idx.UpsertChunk(ctx, testChunk("22222222-2222-2222-2222-222222222222", "alice", "S2", "kept", []int64{2}), []float32{0, 1, 0}))

	require.NoError(t, idx.DeleteSession(ctx, "alice", "S1"))

	hits, err := idx.Search(ctx, "alice", "", "q", []float32{0, 1, 0}, 10, 0.6)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "S2", hits[0].SessionID)

	// Unknown session is a no-op.
	require.NoError(t, idx.DeleteSession(ctx, "alice", "S404"))
}

func TestChromemDeleteChunks(t *testing.T) {
	ctx := context.Background()
	idx := NewChromemIndex()

	require.NoError(t, idx.UpsertChunk(ctx, testChunk("11111111-1111-1111-1111-111111111111", "alice", "S1", "old window", []int64{1}), []float32{1, 0, 0}))
	require.NoError(t, idx.UpsertChunk(ctx, testChunk("22222222-2222-2222-2222-222222222222", "alice", "S1", "new window", []int64{1, 2}), []float32{0, 1, 0}))

	// Unknown ids are tolerated alongside real ones.
	require.NoError(t, idx.DeleteChunks(ctx, "alice", []string{
		"11111111-1111-1111-1111-111111111111",
		"99999999-9999-9999-9999-999999999999",
	}))

	hits, err := idx.Search(ctx, "alice", "", "q", []float32{0, 1, 0}, 10, 0.6)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "22222222-2222-2222-2222-222222222222", hits[0].ChunkID)
}

func TestChromemEmptyOwnerSearchIsEmptyNotGlobal(t *testing.T) {
	ctx := context.Background()
	idx := NewChromemIndex()
	require.NoError(t, idx.UpsertChunk(ctx, testChunk("11111111-1111-1111-1111-111111111111", "alice", "S1", "data", []int64{1}), []float32{1, 0, 0}))

	hits, err := idx.Search(ctx, "charlie", "", "q", []float32{1, 0, 0}, 10, 0.6)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
