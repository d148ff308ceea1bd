package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	respond "github.com/mnemon-ai/mnemon/internal/api/respond"
	"github.com/mnemon-ai/mnemon/internal/auth"
	"github.com/mnemon-ai/mnemon/internal/model"
	"github.com/mnemon-ai/mnemon/internal/services"
)

// ConversationHandler exposes the conversation log over HTTP. The
// actor is always resolved from the request credential; client-supplied
// actor ids are ignored.
type ConversationHandler struct {
	svc        *services.ConversationService
	authorizer auth.Authorizer
}

func NewConversationHandler(svc *services.ConversationService, authorizer auth.Authorizer) *ConversationHandler {
	return &ConversationHandler{svc: svc, authorizer: authorizer}
}

// writeServiceError maps domain sentinels onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrValidation):
		respond.WriteBadRequest(w, err.Error())
	case errors.Is(err, model.ErrNotFound):
		respond.WriteNotFound(w, err.Error())
	case errors.Is(err, model.ErrAuthorization):
		respond.WriteError(w, http.StatusForbidden, err.Error())
	default:
		respond.WriteInternalError(w, err.Error())
	}
}

// authorize resolves the caller or writes 401.
func authorize(w http.ResponseWriter, r *http.Request, a auth.Authorizer, operation string) (*auth.ActorInfo, bool) {
	apiKey, err := auth.ExtractAPIKey(r)
	if err != nil {
		respond.WriteError(w, http.StatusUnauthorized, "Unauthorized: "+err.Error())
		return nil, false
	}
	actor, err := a.Authorize(r.Context(), apiKey, operation)
	if err != nil {
		respond.WriteError(w, http.StatusUnauthorized, "Unauthorized: "+err.Error())
		return nil, false
	}
	return actor, true
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// CreateSession POST /api/sessions
func (h *ConversationHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := authorize(w, r, h.authorizer, "session.create")
	if !ok {
		return
	}
	id := h.svc.GenerateSessionID(actor.ActorID)
	respond.WriteJSON(w, http.StatusCreated, map[string]string{"sessionId": id})
}

// StoreMessage POST /api/messages
func (h *ConversationHandler) StoreMessage(w http.ResponseWriter, r *http.Request) {
	actor, ok := authorize(w, r, h.authorizer, "message.create")
	if !ok {
		return
	}
	var req services.StoreMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	req.ActorID = actor.ActorID
	req.ActorRole = actor.Role
	out, err := h.svc.StoreMessage(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, out)
}

// GetSessionHistory GET /api/sessions/{sessionId}/messages
func (h *ConversationHandler) GetSessionHistory(w http.ResponseWriter, r *http.Request) {
	actor, ok := authorize(w, r, h.authorizer, "message.read")
	if !ok {
		return
	}
	sessionID := mux.Vars(r)["sessionId"]
	limit := queryInt(r, "limit", 0)
	out, err := h.svc.GetSessionHistory(r.Context(), sessionID, actor.ActorID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if out == nil {
		out = []*model.Message{}
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"messages": out, "count": len(out)})
}

// GetUserHistory GET /api/messages
func (h *ConversationHandler) GetUserHistory(w http.ResponseWriter, r *http.Request) {
	actor, ok := authorize(w, r, h.authorizer, "message.read")
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 50)
	out, err := h.svc.GetUserHistory(r.Context(), actor.ActorID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if out == nil {
		out = []*model.Message{}
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"messages": out, "count": len(out)})
}

// GetMessage GET /api/messages/{messageId}
func (h *ConversationHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	actor, ok := authorize(w, r, h.authorizer, "message.read")
	if !ok {
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["messageId"], 10, 64)
	if err != nil {
		respond.WriteBadRequest(w, "invalid message id")
		return
	}
	out, err := h.svc.GetMessage(r.Context(), actor.ActorID, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// ListSessions GET /api/sessions
func (h *ConversationHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	actor, ok := authorize(w, r, h.authorizer, "session.read")
	if !ok {
		return
	}
	days := queryInt(r, "days", 30)
	out, err := h.svc.GetActiveSessions(r.Context(), actor.ActorID, days)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if out == nil {
		out = []*model.SessionSummary{}
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"sessions": out, "count": len(out)})
}

// GetStats GET /api/stats
func (h *ConversationHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	actor, ok := authorize(w, r, h.authorizer, "stats.read")
	if !ok {
		return
	}
	days := queryInt(r, "days", 30)
	out, err := h.svc.GetConversationStats(r.Context(), actor.ActorID, days)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// DeleteSession DELETE /api/sessions/{sessionId}
func (h *ConversationHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := authorize(w, r, h.authorizer, "session.delete")
	if !ok {
		return
	}
	sessionID := mux.Vars(r)["sessionId"]
	hard := r.URL.Query().Get("hard") == "true"
	if err := h.svc.DeleteSession(r.Context(), sessionID, actor.ActorID, hard); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
