package searchindex

import (
	"context"

	"github.com/mnemon-ai/mnemon/internal/model"
)

// Index provides vector search and chunk maintenance. The index is a
// derived projection of the conversation log: it may be dropped and
// rebuilt from the log without losing canonical data.
//
// Every operation is owner-scoped. Implementations must refuse
// unscoped reads; a missing owner is model.ErrAuthorization, never a
// global search.
type Index interface {
	// UpsertChunk inserts or replaces a chunk keyed by its
	// content-addressed id, all-or-nothing per chunk.
	UpsertChunk(ctx context.Context, c *model.Chunk, vec []float32) error

	// Search ranks chunks for one owner by similarity, optionally
	// restricted to a session.
	Search(ctx context.Context, ownerID, sessionID, query string, vec []float32, topK int, alpha float32) ([]model.SearchHit, error)

	// DeleteForMessages removes chunks referencing any of the given
	// message ids. Best-effort; missing chunks are not an error.
	DeleteForMessages(ctx context.Context, ownerID string, messageIDs []int64) error

	// DeleteSession removes every chunk derived from a session.
	DeleteSession(ctx context.Context, ownerID, sessionID string) error

	// DeleteChunks removes specific chunks by id. Missing ids are not
	// an error; the synchronizer uses this to retire superseded
	// windows after a re-sync.
	DeleteChunks(ctx context.Context, ownerID string, chunkIDs []string) error
}

// HealthPinger is optionally implemented by an Index to expose
// specialized health check logic. Returns nil when healthy.
type HealthPinger interface {
	HealthPing(ctx context.Context) error
}
