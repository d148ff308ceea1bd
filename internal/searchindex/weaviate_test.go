package searchindex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemon-ai/mnemon/internal/model"
)

// fakeWeaviate serves just enough of the REST surface for the client:
// tenant creation, batch object writes, graphql reads, object deletes.
type fakeWeaviate struct {
	mu           sync.Mutex
	batchBodies  []map[string]interface{}
	batchStatus  string // "" means success
	deleteCode   int    // 0 means 204
	deleteCalls  int
	graphqlChunk string // chunkId returned by list queries, "" for none
}

func (f *fakeWeaviate) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/v1/schema/"):
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/batch/objects":
			var body map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.batchBodies = append(f.batchBodies, body)
			id := firstObjectID(body)
			if f.batchStatus != "" {
				fmt.Fprintf(w, `[{"class":%q,"id":%q,"result":{"status":"FAILED","errors":{"error":[{"message":%q}]}}}]`,
					chunkClass, id, f.batchStatus)
				return
			}
			fmt.Fprintf(w, `[{"class":%q,"id":%q,"result":{"status":"SUCCESS"}}]`, chunkClass, id)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/graphql":
			if f.graphqlChunk == "" {
				fmt.Fprintf(w, `{"data":{"Get":{%q:[]}}}`, chunkClass)
				return
			}
			fmt.Fprintf(w, `{"data":{"Get":{%q:[{"chunkId":%q}]}}}`, chunkClass, f.graphqlChunk)
		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/v1/objects/"):
			f.deleteCalls++
			code := f.deleteCode
			if code == 0 {
				code = http.StatusNoContent
			}
			w.WriteHeader(code)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func firstObjectID(body map[string]interface{}) string {
	objs, _ := body["objects"].([]interface{})
	if len(objs) == 0 {
		return ""
	}
	m, _ := objs[0].(map[string]interface{})
	id, _ := m["id"].(string)
	return id
}

func newFakeWeaviateIndex(t *testing.T, f *fakeWeaviate) Index {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	idx, err := NewWeaviateIndex(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	return idx
}

func TestWeaviateUpsertReplacesExistingChunk(t *testing.T) {
	fake := &fakeWeaviate{}
	idx := newFakeWeaviateIndex(t, fake)
	ctx := context.Background()

	c := &model.Chunk{
		ChunkID:    "11111111-1111-1111-1111-111111111111",
		OwnerID:    "alice",
		SessionID:  "S1",
		Text:       "user: one\n",
		MessageIDs: []int64{1},
		IndexedAt:  time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, idx.UpsertChunk(ctx, c, []float32{1, 0, 0}))

	// Re-syncing the session writes the same chunk id again; the batch
	// endpoint overwrites in place instead of rejecting the id.
	c.Text = "user: one\nuser: revised\n"
	require.NoError(t, idx.UpsertChunk(ctx, c, []float32{1, 0, 0}))

	require.Len(t, fake.batchBodies, 2)
	for _, body := range fake.batchBodies {
		assert.Equal(t, c.ChunkID, firstObjectID(body))
	}
}

func TestWeaviateUpsertSurfacesPerObjectError(t *testing.T) {
	fake := &fakeWeaviate{batchStatus: "invalid vector length"}
	idx := newFakeWeaviateIndex(t, fake)

	c := &model.Chunk{
		ChunkID:    "11111111-1111-1111-1111-111111111111",
		OwnerID:    "alice",
		SessionID:  "S1",
		Text:       "user: one\n",
		MessageIDs: []int64{1},
		IndexedAt:  time.Now(),
	}
	err := idx.UpsertChunk(context.Background(), c, []float32{1})
	require.ErrorContains(t, err, "invalid vector length")
}

func TestWeaviateDeleteSessionPropagatesDeleteFailure(t *testing.T) {
	fake := &fakeWeaviate{
		graphqlChunk: "22222222-2222-2222-2222-222222222222",
		deleteCode:   http.StatusInternalServerError,
	}
	idx := newFakeWeaviateIndex(t, fake)

	// The failure must reach the caller so the outbox retries the job.
	err := idx.DeleteSession(context.Background(), "alice", "S1")
	require.Error(t, err)
	assert.Equal(t, 1, fake.deleteCalls)
}

func TestWeaviateDeleteChunksToleratesMissingObjects(t *testing.T) {
	fake := &fakeWeaviate{deleteCode: http.StatusNotFound}
	idx := newFakeWeaviateIndex(t, fake)

	err := idx.DeleteChunks(context.Background(), "alice", []string{
		"33333333-3333-3333-3333-333333333333",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, fake.deleteCalls)
}
