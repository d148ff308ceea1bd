// Package indexsync projects conversation-log messages into the
// vector index. Synchronization is idempotent: chunks are
// content-addressed, and the index upsert is keyed by chunk id, so
// replaying the same input is harmless.
package indexsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mnemon-ai/mnemon/internal/chunk"
	"github.com/mnemon-ai/mnemon/internal/embeddings"
	"github.com/mnemon-ai/mnemon/internal/model"
	"github.com/mnemon-ai/mnemon/internal/searchindex"
)

// Synchronizer converts message batches into chunks and upserts them.
// It never touches the conversation log; a failure here leaves the
// already-durable log write untouched and the outbox retries later.
type Synchronizer struct {
	emb    embeddings.Provider
	idx    searchindex.Index
	policy chunk.Policy
	log    zerolog.Logger
}

// New constructs a Synchronizer with the given windowing policy.
func New(emb embeddings.Provider, idx searchindex.Index, policy chunk.Policy, log zerolog.Logger) *Synchronizer {
	if policy.MaxMessages <= 0 || policy.MaxChars <= 0 {
		policy = chunk.DefaultPolicy
	}
	return &Synchronizer{emb: emb, idx: idx, policy: policy, log: log}
}

// SyncMessages windows the active messages into chunks, embeds each
// chunk's text, and upserts chunk+vector into the index. Returns the
// ids of the chunks written. Inactive messages are skipped; an
// owner-mixing batch fails with model.ErrConsistency before anything
// is written.
func (s *Synchronizer) SyncMessages(ctx context.Context, msgs []*model.Message) ([]string, error) {
	active := make([]*model.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.State == model.StateActive {
			active = append(active, m)
		}
	}
	if len(active) == 0 {
		return nil, nil
	}

	chunks, err := chunk.Split(active, s.policy)
	if err != nil {
		if errors.Is(err, model.ErrConsistency) {
			// Must never happen: sessions are single-owner by
			// construction. Refuse loudly rather than index a leak.
			s.log.Error().Err(err).Msg("owner-mixing chunk input rejected")
		}
		return nil, err
	}

	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		vec, err := s.emb.Embed(ctx, c.Text)
		if err != nil {
			return ids, fmt.Errorf("embed chunk %s: %w", c.ChunkID, err)
		}
		if err := s.idx.UpsertChunk(ctx, c, vec); err != nil {
			return ids, fmt.Errorf("upsert chunk %s: %w", c.ChunkID, err)
		}
		ids = append(ids, c.ChunkID)
	}

	// A tail window that grew since the last sync supersedes the chunk
	// built from its shorter prefix. Retire those so retrieval never
	// returns overlapping copies of the same exchange.
	if stale := supersededIDs(chunks); len(stale) > 0 {
		if err := s.idx.DeleteChunks(ctx, active[0].ActorID, stale); err != nil {
			return ids, fmt.Errorf("retire superseded chunks: %w", err)
		}
	}
	s.log.Debug().Int("chunks", len(ids)).Str("owner", active[0].ActorID).Msg("session synced")
	return ids, nil
}

// supersededIDs derives the chunk ids a past sync could have written
// for the same messages. Windows are packed greedily from the session
// start, so an earlier sync's tail chunk is always a strict prefix of
// the current window covering those messages.
func supersededIDs(chunks []*model.Chunk) []string {
	var out []string
	for _, c := range chunks {
		for j := 1; j < len(c.MessageIDs); j++ {
			out = append(out, chunk.ID(c.MessageIDs[:j]))
		}
	}
	return out
}

// RemoveForMessages drops chunks referencing any of the given message
// ids. Used after a hard delete.
func (s *Synchronizer) RemoveForMessages(ctx context.Context, ownerID string, messageIDs []int64) error {
	return s.idx.DeleteForMessages(ctx, ownerID, messageIDs)
}

// RemoveSession drops every chunk derived from a session. Used once a
// soft delete leaves no active contributors.
func (s *Synchronizer) RemoveSession(ctx context.Context, ownerID, sessionID string) error {
	return s.idx.DeleteSession(ctx, ownerID, sessionID)
}
