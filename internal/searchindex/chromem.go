package searchindex

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/mnemon-ai/mnemon/internal/model"
)

// chromemIndex is an embedded, in-process Index used for local
// development and tests. Each owner gets its own collection, which
// mirrors the per-owner tenant isolation of the Weaviate backend.
type chromemIndex struct {
	db          *chromem.DB
	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

// NewChromemIndex constructs an in-memory vector index.
func NewChromemIndex() Index {
	return &chromemIndex{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}
}

func (c *chromemIndex) collection(ownerID string) (*chromem.Collection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if col, ok := c.collections[ownerID]; ok {
		return col, nil
	}
	col, err := c.db.GetOrCreateCollection("owner_"+ownerID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	c.collections[ownerID] = col
	return col, nil
}

func (c *chromemIndex) UpsertChunk(ctx context.Context, ch *model.Chunk, vec []float32) error {
	if ch.OwnerID == "" {
		return fmt.Errorf("%w: chunk without owner", model.ErrAuthorization)
	}
	col, err := c.collection(ch.OwnerID)
	if err != nil {
		return err
	}
	meta := map[string]string{
		"ownerId":    ch.OwnerID,
		"sessionId":  ch.SessionID,
		"messageIds": joinIDs(ch.MessageIDs),
		"indexedAt":  ch.IndexedAt.UTC().Format(time.RFC3339Nano),
	}
	// One marker key per contributing message enables exact-match
	// deletion by message id.
	for _, id := range ch.MessageIDs {
		meta["m"+strconv.FormatInt(id, 10)] = "1"
	}
	doc := chromem.Document{
		ID:        ch.ChunkID,
		Content:   ch.Text,
		Embedding: vec,
		Metadata:  meta,
	}
	return col.AddDocument(ctx, doc)
}

func (c *chromemIndex) Search(ctx context.Context, ownerID, sessionID, query string, vec []float32, topK int, alpha float32) ([]model.SearchHit, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: search without owner filter", model.ErrAuthorization)
	}
	col, err := c.collection(ownerID)
	if err != nil {
		return nil, err
	}
	n := topK
	if count := col.Count(); n > count {
		n = count
	}
	if n <= 0 {
		return []model.SearchHit{}, nil
	}
	var where map[string]string
	if sessionID != "" {
		where = map[string]string{"sessionId": sessionID}
	}
	// chromem rejects nResults above the matching document count, so a
	// session filter may require shrinking the request.
	var results []chromem.Result
	for ; n >= 1; n-- {
		results, err = col.QueryEmbedding(ctx, vec, n, where, nil)
		if err == nil {
			break
		}
		if isInsufficientDocs(err) {
			if n == 1 {
				return []model.SearchHit{}, nil
			}
			continue
		}
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	out := make([]model.SearchHit, 0, len(results))
	for _, r := range results {
		hit := model.SearchHit{
			Chunk: model.Chunk{
				ChunkID:    r.ID,
				OwnerID:    r.Metadata["ownerId"],
				SessionID:  r.Metadata["sessionId"],
				Text:       r.Content,
				MessageIDs: splitIDs(r.Metadata["messageIds"]),
			},
			Score: float64(r.Similarity),
		}
		if ts, err := time.Parse(time.RFC3339Nano, r.Metadata["indexedAt"]); err == nil {
			hit.IndexedAt = ts
		}
		out = append(out, hit)
	}
	return out, nil
}

func (c *chromemIndex) DeleteForMessages(ctx context.Context, ownerID string, messageIDs []int64) error {
	if ownerID == "" || len(messageIDs) == 0 {
		return nil
	}
	col, err := c.collection(ownerID)
	if err != nil {
		return err
	}
	for _, id := range messageIDs {
		where := map[string]string{"m" + strconv.FormatInt(id, 10): "1"}
		if err := col.Delete(ctx, where, nil); err != nil {
			return fmt.Errorf("chromem delete: %w", err)
		}
	}
	return nil
}

func (c *chromemIndex) DeleteSession(ctx context.Context, ownerID, sessionID string) error {
	if ownerID == "" || sessionID == "" {
		return nil
	}
	col, err := c.collection(ownerID)
	if err != nil {
		return err
	}
	if col.Count() == 0 {
		return nil
	}
	if err := col.Delete(ctx, map[string]string{"sessionId": sessionID}, nil); err != nil {
		return fmt.Errorf("chromem delete: %w", err)
	}
	return nil
}

func (c *chromemIndex) DeleteChunks(ctx context.Context, ownerID string, chunkIDs []string) error {
	if ownerID == "" || len(chunkIDs) == 0 {
		return nil
	}
	col, err := c.collection(ownerID)
	if err != nil {
		return err
	}
	if col.Count() == 0 {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, chunkIDs...); err != nil {
		return fmt.Errorf("chromem delete: %w", err)
	}
	return nil
}

// HealthPing always succeeds: the index lives in-process.
func (c *chromemIndex) HealthPing(ctx context.Context) error { return nil }

func isInsufficientDocs(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "nResults must be") || strings.Contains(s, "number of documents")
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func splitIDs(s string) []int64 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		if n, err := strconv.ParseInt(p, 10, 64); err == nil {
			out = append(out, n)
		}
	}
	return out
}
