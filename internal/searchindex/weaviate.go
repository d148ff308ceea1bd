package searchindex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	weaviate "github.com/weaviate/weaviate-go-client/v5/weaviate"
	filters "github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	gql "github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/mnemon-ai/mnemon/internal/model"
)

const chunkClass = "ConversationChunk"

// weavIndex implements Index using the Weaviate Go client. Owners map
// to Weaviate tenants, so isolation is enforced by the index itself in
// addition to the retriever's owner-filter check.
type weavIndex struct {
	client  *weaviate.Client
	baseURL string // host:port without scheme
}

// NewWeaviateIndex constructs an Index backed by Weaviate at baseURL
// (host:port, no scheme).
func NewWeaviateIndex(baseURL string) (Index, error) {
	cfg := weaviate.Config{Scheme: "http", Host: baseURL}
	cl, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &weavIndex{client: cl, baseURL: baseURL}, nil
}

// ensureTenant creates the owner tenant if it does not already exist.
func (w *weavIndex) ensureTenant(ctx context.Context, tenant string) {
	if tenant == "" {
		return
	}
	t := models.Tenant{Name: tenant}
	_ = w.client.Schema().TenantsCreator().WithClassName(chunkClass).WithTenants(t).Do(ctx)
}

func (w *weavIndex) UpsertChunk(ctx context.Context, c *model.Chunk, vec []float32) error {
	if w == nil || w.client == nil {
		return fmt.Errorf("weaviate client not initialised")
	}
	if c.OwnerID == "" {
		return fmt.Errorf("%w: chunk without owner", model.ErrAuthorization)
	}
	w.ensureTenant(ctx, c.OwnerID)

	payload := map[string]interface{}{
		"chunkId":    c.ChunkID,
		"ownerId":    c.OwnerID,
		"sessionId":  c.SessionID,
		"text":       c.Text,
		"messageIds": c.MessageIDs,
		"indexedAt":  c.IndexedAt.UTC().Format(time.RFC3339Nano),
	}
	// The batch endpoint has PUT semantics: an existing object id is
	// overwritten, so replaying a sync replaces the chunk in place.
	obj := &models.Object{
		Class:      chunkClass,
		ID:         strfmt.UUID(c.ChunkID),
		Tenant:     c.OwnerID,
		Properties: payload,
		Vector:     models.C11yVector(vec),
	}
	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(obj).Do(ctx)
	if err != nil {
		return err
	}
	return batchObjectErrors(resp)
}

// batchObjectErrors surfaces per-object failures, which the batch
// endpoint reports with a 200 status.
func batchObjectErrors(resp []models.ObjectsGetResponse) error {
	for _, r := range resp {
		if r.Result == nil || r.Result.Errors == nil {
			continue
		}
		for _, e := range r.Result.Errors.Error {
			if e != nil && e.Message != "" {
				return fmt.Errorf("weaviate batch: %s", e.Message)
			}
		}
	}
	return nil
}

func (w *weavIndex) Search(ctx context.Context, ownerID, sessionID, query string, vec []float32, topK int, alpha float32) ([]model.SearchHit, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: search without owner filter", model.ErrAuthorization)
	}

	hy := (&gql.HybridArgumentBuilder{}).
		WithQuery(query).
		WithVector(vec).
		WithAlpha(alpha).
		WithProperties([]string{"text"})

	req := w.client.GraphQL().Get().
		WithClassName(chunkClass).
		WithTenant(ownerID).
		WithHybrid(hy).
		WithLimit(topK).
		WithFields(
			gql.Field{Name: "chunkId"},
			gql.Field{Name: "ownerId"},
			gql.Field{Name: "sessionId"},
			gql.Field{Name: "text"},
			gql.Field{Name: "messageIds"},
			gql.Field{Name: "indexedAt"},
			gql.Field{Name: "_additional", Fields: []gql.Field{{Name: "score"}}},
		)
	if sessionID != "" {
		where := filters.Where().WithPath([]string{"sessionId"}).WithOperator(filters.Equal).WithValueText(sessionID)
		req = req.WithWhere(where)
	}

	resp, err := req.Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		if isTenantNotFound(resp.Errors) {
			// Owner has never synced anything; indistinguishable from no hits.
			return []model.SearchHit{}, nil
		}
		return nil, fmt.Errorf("weaviate graphql: %s", formatGraphQLErrors(resp.Errors))
	}

	getData, ok := resp.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	val := getData[chunkClass]
	if val == nil {
		return []model.SearchHit{}, nil
	}
	raw, ok := val.([]interface{})
	if !ok {
		return nil, nil
	}

	out := make([]model.SearchHit, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		hit := model.SearchHit{
			Chunk: model.Chunk{
				ChunkID:    safeString(m["chunkId"]),
				OwnerID:    safeString(m["ownerId"]),
				SessionID:  safeString(m["sessionId"]),
				Text:       safeString(m["text"]),
				MessageIDs: int64Slice(m["messageIds"]),
			},
			Score: scoreOf(m["_additional"]),
		}
		if ts, err := time.Parse(time.RFC3339Nano, safeString(m["indexedAt"])); err == nil {
			hit.IndexedAt = ts
		}
		out = append(out, hit)
	}
	return out, nil
}

func (w *weavIndex) DeleteForMessages(ctx context.Context, ownerID string, messageIDs []int64) error {
	if w == nil || w.client == nil || ownerID == "" || len(messageIDs) == 0 {
		return nil
	}
	where := filters.Where().
		WithPath([]string{"messageIds"}).
		WithOperator(filters.ContainsAny).
		WithValueInt(messageIDs...)
	return w.deleteWhere(ctx, ownerID, where)
}

func (w *weavIndex) DeleteSession(ctx context.Context, ownerID, sessionID string) error {
	if w == nil || w.client == nil || ownerID == "" || sessionID == "" {
		return nil
	}
	where := filters.Where().
		WithPath([]string{"sessionId"}).
		WithOperator(filters.Equal).
		WithValueText(sessionID)
	return w.deleteWhere(ctx, ownerID, where)
}

func (w *weavIndex) DeleteChunks(ctx context.Context, ownerID string, chunkIDs []string) error {
	if w == nil || w.client == nil || ownerID == "" || len(chunkIDs) == 0 {
		return nil
	}
	for _, id := range chunkIDs {
		err := w.client.Data().Deleter().
			WithClassName(chunkClass).
			WithTenant(ownerID).
			WithID(id).
			Do(ctx)
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("weaviate delete %s: %w", id, err)
		}
	}
	return nil
}

// deleteWhere lists matching chunk ids in the owner tenant and deletes
// them one by one. Missing objects are ignored; any other delete
// failure is returned so the outbox retries the job.
func (w *weavIndex) deleteWhere(ctx context.Context, ownerID string, where *filters.WhereBuilder) error {
	req := w.client.GraphQL().Get().
		WithClassName(chunkClass).
		WithTenant(ownerID).
		WithWhere(where).
		WithFields(gql.Field{Name: "chunkId"})
	resp, err := req.Do(ctx)
	if err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		if isTenantNotFound(resp.Errors) {
			return nil
		}
		return fmt.Errorf("weaviate graphql: %s", formatGraphQLErrors(resp.Errors))
	}
	getData, ok := resp.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	arr, ok := getData[chunkClass].([]interface{})
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(arr))
	for _, item := range arr {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if id := safeString(m["chunkId"]); id != "" {
			ids = append(ids, id)
		}
	}
	return w.DeleteChunks(ctx, ownerID, ids)
}

// HealthPing calls GET /v1/meta and expects 200 OK.
func (w *weavIndex) HealthPing(ctx context.Context) error {
	if w == nil || w.baseURL == "" {
		return fmt.Errorf("weaviate baseURL missing")
	}
	url := w.baseURL
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/v1/meta", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("weaviate status %d", resp.StatusCode)
	}
	return nil
}

func safeString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func int64Slice(v interface{}) []int64 {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(arr))
	for _, e := range arr {
		switch t := e.(type) {
		case float64:
			out = append(out, int64(t))
		case string:
			if n, err := strconv.ParseInt(t, 10, 64); err == nil {
				out = append(out, n)
			}
		}
	}
	return out
}

func scoreOf(v interface{}) float64 {
	add, ok := v.(map[string]interface{})
	if !ok {
		return 0
	}
	switch s := add["score"].(type) {
	case float64:
		return s
	case string:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return 0
}

func isNotFound(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "404") || strings.Contains(s, "not found")
}

func isTenantNotFound(errs interface{}) bool {
	return strings.Contains(strings.ToLower(fmt.Sprintf("%v", errs)), "tenant not found")
}

// formatGraphQLErrors returns a compact string for logging.
func formatGraphQLErrors(errs interface{}) string {
	if b, err := json.Marshal(errs); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", errs)
}
