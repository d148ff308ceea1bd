package api

import (
	"encoding/json"
	"net/http"

	respond "github.com/mnemon-ai/mnemon/internal/api/respond"
	"github.com/mnemon-ai/mnemon/internal/auth"
	"github.com/mnemon-ai/mnemon/internal/model"
	"github.com/mnemon-ai/mnemon/internal/services"
)

// SearchHandler handles POST /api/search and POST /api/context. The
// owner filter comes from the credential, never from the body.
type SearchHandler struct {
	retriever  *services.RetrieverService
	authorizer auth.Authorizer
}

func NewSearchHandler(retriever *services.RetrieverService, authorizer auth.Authorizer) *SearchHandler {
	return &SearchHandler{retriever: retriever, authorizer: authorizer}
}

type searchRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"sessionId,omitempty"`
	TopK      int    `json:"topK,omitempty"`
}

// HandleSearch POST /api/search
func (h *SearchHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	actor, ok := authorize(w, r, h.authorizer, "search.read")
	if !ok {
		return
	}
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	hits, err := h.retriever.SemanticSearch(r.Context(), actor.ActorID, req.SessionID, req.Query, req.TopK)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if hits == nil {
		hits = []model.SearchHit{}
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"hits": hits, "count": len(hits)})
}

// HandleContext POST /api/context
func (h *SearchHandler) HandleContext(w http.ResponseWriter, r *http.Request) {
	actor, ok := authorize(w, r, h.authorizer, "search.read")
	if !ok {
		return
	}
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	bundle, err := h.retriever.GetRelevantContext(r.Context(), actor.ActorID, req.SessionID, req.Query, req.TopK)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, bundle)
}
