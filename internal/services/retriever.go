package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mnemon-ai/mnemon/internal/embeddings"
	"github.com/mnemon-ai/mnemon/internal/model"
	"github.com/mnemon-ai/mnemon/internal/searchindex"
	"github.com/mnemon-ai/mnemon/internal/store"
)

const defaultTopK = 5

// RetrieverService answers similarity queries over indexed chunks.
// Retrieval is fail-closed: no verified owner means no results, and an
// index error is surfaced rather than papered over with an empty set.
type RetrieverService struct {
	emb   embeddings.Provider
	idx   searchindex.Index
	store store.Store
	alpha float32
	log   zerolog.Logger
}

func NewRetrieverService(emb embeddings.Provider, idx searchindex.Index, st store.Store, alpha float32, log zerolog.Logger) *RetrieverService {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.6
	}
	return &RetrieverService{emb: emb, idx: idx, store: st, alpha: alpha, log: log}
}

// SemanticSearch embeds the query and ranks the owner's chunks, score
// descending with more recently indexed chunks breaking ties. An empty
// sessionID searches all of the owner's sessions.
func (r *RetrieverService) SemanticSearch(ctx context.Context, ownerID, sessionID, query string, topK int) ([]model.SearchHit, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: search requires a verified owner", model.ErrAuthorization)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", model.ErrValidation)
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	vec, err := r.emb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := r.idx.Search(ctx, ownerID, sessionID, query, vec, topK, r.alpha)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].IndexedAt.After(hits[j].IndexedAt)
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	r.log.Debug().Str("owner", ownerID).Int("hits", len(hits)).Msg("semantic search")
	return hits, nil
}

// GetRelevantContext runs a search and renders the hits into a single
// context block, resolving each chunk's message ids back through the
// log so the text reflects current lifecycle state. Chunks whose
// messages have all been deleted since indexing contribute nothing.
func (r *RetrieverService) GetRelevantContext(ctx context.Context, ownerID, sessionID, query string, topK int) (*model.ContextBundle, error) {
	hits, err := r.SemanticSearch(ctx, ownerID, sessionID, query, topK)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	sources := make([]model.SourceRef, 0, len(hits))
	n := 0
	for _, h := range hits {
		msgs, err := r.store.Messages().ListActiveByIDs(ctx, ownerID, h.MessageIDs)
		if err != nil {
			return nil, err
		}
		if len(msgs) == 0 {
			continue
		}
		n++
		fmt.Fprintf(&b, "[%d] session %s (score %.3f)\n", n, h.SessionID, h.Score)
		for _, m := range msgs {
			fmt.Fprintf(&b, "%s: %s\n", m.Kind, m.Content)
		}
		b.WriteString("\n")
		sources = append(sources, model.SourceRef{
			ChunkID:    h.ChunkID,
			SessionID:  h.SessionID,
			MessageIDs: h.MessageIDs,
			Score:      h.Score,
		})
	}
	return &model.ContextBundle{Context: strings.TrimRight(b.String(), "\n"), Sources: sources}, nil
}
