package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemon-ai/mnemon/internal/auth"
	"github.com/mnemon-ai/mnemon/internal/model"
	"github.com/mnemon-ai/mnemon/internal/services"
	"github.com/mnemon-ai/mnemon/internal/store/sqlite"
)

func newTestRouter(t *testing.T) (*mux.Router, *auth.StaticAuthorizer) {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`DELETE FROM messages; DELETE FROM outbox;`)
	require.NoError(t, err)
	st := sqlite.NewWithDB(db)

	authorizer := auth.NewStaticAuthorizer()
	authorizer.Register("sk_test_alice", auth.ActorInfo{ActorID: "alice", Role: "standard", KeyName: "alice-key"})
	authorizer.Register("sk_test_bob", auth.ActorInfo{ActorID: "bob", Role: "standard", KeyName: "bob-key"})

	svc := services.NewConversationService(st, zerolog.Nop())
	h := NewConversationHandler(svc, authorizer)

	r := mux.NewRouter()
	r.HandleFunc("/api/sessions", h.CreateSession).Methods("POST")
	r.HandleFunc("/api/sessions", h.ListSessions).Methods("GET")
	r.HandleFunc("/api/sessions/{sessionId}", h.DeleteSession).Methods("DELETE")
	r.HandleFunc("/api/sessions/{sessionId}/messages", h.GetSessionHistory).Methods("GET")
	r.HandleFunc("/api/messages", h.StoreMessage).Methods("POST")
	r.HandleFunc("/api/messages/{messageId:[0-9]+}", h.GetMessage).Methods("GET")
	r.HandleFunc("/api/stats", h.GetStats).Methods("GET")
	return r, authorizer
}

func doRequest(t *testing.T, r http.Handler, method, path, apiKey string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	r, _ := newTestRouter(t)

	rr := doRequest(t, r, "POST", "/api/messages", "", map[string]string{"sessionId": "S1", "kind": "user", "content": "hi"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = doRequest(t, r, "GET", "/api/stats", "sk_unknown", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestStoreAndReadHistory(t *testing.T) {
	r, _ := newTestRouter(t)

	rr := doRequest(t, r, "POST", "/api/messages", "sk_test_alice",
		map[string]interface{}{"sessionId": "S1", "kind": "user", "content": "how do I deploy"})
	require.Equal(t, http.StatusCreated, rr.Code)
	var created model.Message
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, "alice", created.ActorID)
	assert.True(t, created.Success)

	rr = doRequest(t, r, "POST", "/api/messages", "sk_test_alice",
		map[string]interface{}{"sessionId": "S1", "kind": "assistant", "content": "push to main"})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = doRequest(t, r, "GET", "/api/sessions/S1/messages", "sk_test_alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Messages []model.Message `json:"messages"`
		Count    int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, model.KindUser, resp.Messages[0].Kind)

	// Single-message lookup.
	rr = doRequest(t, r, "GET", fmt.Sprintf("/api/messages/%d", created.ID), "sk_test_alice", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestActorIDComesFromCredentialNotBody(t *testing.T) {
	r, _ := newTestRouter(t)

	// A spoofed actorId in the body is ignored.
	rr := doRequest(t, r, "POST", "/api/messages", "sk_test_alice",
		map[string]interface{}{"sessionId": "S1", "actorId": "bob", "kind": "user", "content": "mine"})
	require.Equal(t, http.StatusCreated, rr.Code)
	var created model.Message
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, "alice", created.ActorID)

	// Bob cannot see Alice's session; the response is empty, not 403.
	rr = doRequest(t, r, "GET", "/api/sessions/S1/messages", "sk_test_bob", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Zero(t, resp.Count)
}

func TestValidationErrorsAre400(t *testing.T) {
	r, _ := newTestRouter(t)

	rr := doRequest(t, r, "POST", "/api/messages", "sk_test_alice",
		map[string]interface{}{"sessionId": "S1", "kind": "robot", "content": "beep"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(t, r, "POST", "/api/messages", "sk_test_alice",
		map[string]interface{}{"sessionId": "S1", "kind": "user"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	r, _ := newTestRouter(t)

	rr := doRequest(t, r, "POST", "/api/sessions", "sk_test_alice", nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	var sess struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sess))
	require.NotEmpty(t, sess.SessionID)
	assert.Contains(t, sess.SessionID, "alice-")

	rr = doRequest(t, r, "POST", "/api/messages", "sk_test_alice",
		map[string]interface{}{"sessionId": sess.SessionID, "kind": "user", "content": "hello"})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = doRequest(t, r, "GET", "/api/sessions?days=30", "sk_test_alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var sessions struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sessions))
	assert.Equal(t, 1, sessions.Count)

	rr = doRequest(t, r, "DELETE", "/api/sessions/"+sess.SessionID, "sk_test_alice", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = doRequest(t, r, "GET", "/api/sessions/"+sess.SessionID+"/messages", "sk_test_alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var hist struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &hist))
	assert.Zero(t, hist.Count)
}

func TestStatsEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	for _, kind := range []string{"user", "assistant"} {
		rr := doRequest(t, r, "POST", "/api/messages", "sk_test_alice",
			map[string]interface{}{"sessionId": "S1", "kind": kind, "content": "x"})
		require.Equal(t, http.StatusCreated, rr.Code)
	}

	rr := doRequest(t, r, "GET", "/api/stats", "sk_test_alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var stats model.ConversationStats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.TotalMessages)
	assert.Equal(t, 1.0, stats.SuccessRate)
}
