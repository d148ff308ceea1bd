package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mnemon-ai/mnemon/internal/model"
	"github.com/mnemon-ai/mnemon/internal/store"
)

// ConversationService owns the message lifecycle. Every operation is
// scoped by the verified actor id handed in by the caller; a session
// belonging to someone else is indistinguishable from an absent one.
type ConversationService struct {
	store store.Store
	log   zerolog.Logger
}

func NewConversationService(s store.Store, log zerolog.Logger) *ConversationService {
	return &ConversationService{store: s, log: log}
}

// StoreMessageRequest carries one append. Success defaults to true
// when unset.
type StoreMessageRequest struct {
	SessionID string            `json:"sessionId"`
	ActorID   string            `json:"actorId"`
	ActorRole string            `json:"actorRole"`
	Kind      model.MessageKind `json:"kind"`
	Content   string            `json:"content"`
	ToolRefs  []string          `json:"toolRefs,omitempty"`
	Result    json.RawMessage   `json:"result,omitempty"`
	Success   *bool             `json:"success,omitempty"`
}

// GenerateSessionID returns an owner-scoped, date-scoped,
// collision-resistant session token. Pure apart from the random
// suffix; no store access.
func (s *ConversationService) GenerateSessionID(actorID string) string {
	buf := make([]byte, 6)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%s-%s-%s", actorID, time.Now().UTC().Format("20060102"), hex.EncodeToString(buf))
}

// StoreMessage validates and durably appends one message. The store
// assigns id and created_at atomically, so ordering holds under
// concurrent writers. Index synchronization rides the outbox and can
// never fail this call.
func (s *ConversationService) StoreMessage(ctx context.Context, req StoreMessageRequest) (*model.Message, error) {
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown message kind %q", model.ErrValidation, req.Kind)
	}
	if req.Content == "" {
		return nil, fmt.Errorf("%w: empty content", model.ErrValidation)
	}
	if req.SessionID == "" || req.ActorID == "" {
		return nil, fmt.Errorf("%w: session and actor are required", model.ErrValidation)
	}
	success := true
	if req.Success != nil {
		success = *req.Success
	}
	msg := &model.Message{
		SessionID: req.SessionID,
		ActorID:   req.ActorID,
		ActorRole: req.ActorRole,
		Kind:      req.Kind,
		Content:   req.Content,
		ToolRefs:  req.ToolRefs,
		Result:    req.Result,
		Success:   success,
	}
	out, err := s.store.Messages().Append(ctx, msg)
	if err != nil {
		return nil, err
	}
	s.log.Debug().Int64("id", out.ID).Str("session", out.SessionID).Str("kind", string(out.Kind)).Msg("message stored")
	return out, nil
}

// GetSessionHistory returns the session's active messages ascending by
// (created_at, id). A foreign or unknown session yields an empty
// slice.
func (s *ConversationService) GetSessionHistory(ctx context.Context, sessionID, actorID string, limit int) ([]*model.Message, error) {
	if sessionID == "" || actorID == "" {
		return nil, fmt.Errorf("%w: session and actor are required", model.ErrValidation)
	}
	return s.store.Messages().ListSession(ctx, sessionID, actorID, limit)
}

// GetUserHistory returns the actor's active messages across sessions,
// newest first.
func (s *ConversationService) GetUserHistory(ctx context.Context, actorID string, limit int) ([]*model.Message, error) {
	if actorID == "" {
		return nil, fmt.Errorf("%w: actor is required", model.ErrValidation)
	}
	return s.store.Messages().ListActor(ctx, actorID, limit)
}

// GetActiveSessions lists the actor's sessions with computed
// statistics, windowed by recency.
func (s *ConversationService) GetActiveSessions(ctx context.Context, actorID string, daysBack int) ([]*model.SessionSummary, error) {
	if actorID == "" {
		return nil, fmt.Errorf("%w: actor is required", model.ErrValidation)
	}
	return s.store.Messages().ActiveSessions(ctx, actorID, daysBack)
}

// GetConversationStats aggregates counts by kind, success ratio, and
// session count for the window.
func (s *ConversationService) GetConversationStats(ctx context.Context, actorID string, daysBack int) (*model.ConversationStats, error) {
	if actorID == "" {
		return nil, fmt.Errorf("%w: actor is required", model.ErrValidation)
	}
	return s.store.Messages().Stats(ctx, actorID, daysBack)
}

// GetMessage is a direct single-message lookup; unlike history reads
// it reports model.ErrNotFound explicitly.
func (s *ConversationService) GetMessage(ctx context.Context, actorID string, id int64) (*model.Message, error) {
	if actorID == "" {
		return nil, fmt.Errorf("%w: actor is required", model.ErrValidation)
	}
	return s.store.Messages().GetByID(ctx, actorID, id)
}

// DeleteSession soft-deletes by default: rows stay with state
// SOFT_DELETED and chunk removal is enqueued. With hard=true the rows
// are purged and dependent chunks dropped. Both variants only affect
// the calling actor's messages.
func (s *ConversationService) DeleteSession(ctx context.Context, sessionID, actorID string, hard bool) error {
	if sessionID == "" || actorID == "" {
		return fmt.Errorf("%w: session and actor are required", model.ErrValidation)
	}
	if hard {
		ids, err := s.store.Messages().PurgeSession(ctx, sessionID, actorID)
		if err != nil {
			return err
		}
		s.log.Info().Str("session", sessionID).Int("purged", len(ids)).Msg("session purged")
		return nil
	}
	n, err := s.store.Messages().SoftDeleteSession(ctx, sessionID, actorID)
	if err != nil {
		return err
	}
	s.log.Info().Str("session", sessionID).Int("softDeleted", n).Msg("session soft-deleted")
	return nil
}
