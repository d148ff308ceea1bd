package store

import (
	"context"

	"github.com/mnemon-ai/mnemon/internal/model"
)

// Store exposes persistence operations required by services.
// Implementations live under internal/store/<driver>/ (postgres,
// sqlite). The store is the single source of truth; the vector index
// is a derived projection fed through the outbox.
type Store interface {
	Messages() Messages
	Outbox() Outbox
}

// Messages is the conversation log. Appends are atomic: the store
// assigns id and created_at so ordering within a session is monotonic
// even with concurrent writers, and the matching outbox row commits in
// the same transaction.
type Messages interface {
	Append(ctx context.Context, m *model.Message) (*model.Message, error)

	// ListSession returns the active messages of one session ascending
	// by (created_at, id), capped by limit when limit > 0. A session
	// owned by a different actor yields an empty slice, not an error.
	ListSession(ctx context.Context, sessionID, actorID string, limit int) ([]*model.Message, error)

	// ListActor returns the actor's active messages, newest first.
	ListActor(ctx context.Context, actorID string, limit int) ([]*model.Message, error)

	// ListActiveByIDs resolves message ids back to active messages of
	// the given actor, ascending by (created_at, id).
	ListActiveByIDs(ctx context.Context, actorID string, ids []int64) ([]*model.Message, error)

	// GetByID is a direct single-message lookup: model.ErrNotFound
	// when absent or owned by another actor.
	GetByID(ctx context.Context, actorID string, id int64) (*model.Message, error)

	// ActiveSessions groups the actor's active messages by session
	// within the recency window, newest activity first.
	ActiveSessions(ctx context.Context, actorID string, daysBack int) ([]*model.SessionSummary, error)

	// Stats aggregates the actor's messages within the window.
	Stats(ctx context.Context, actorID string, daysBack int) (*model.ConversationStats, error)

	// SoftDeleteSession transitions all active messages of the session
	// to SOFT_DELETED and enqueues chunk removal. Returns the number
	// of messages transitioned.
	SoftDeleteSession(ctx context.Context, sessionID, actorID string) (int, error)

	// PurgeSession physically removes the session's rows (any state)
	// and enqueues removal of dependent chunks. Returns purged ids.
	PurgeSession(ctx context.Context, sessionID, actorID string) ([]int64, error)
}

// Outbox leases pending synchronization jobs for the worker. Leasing
// pushes next_attempt_at forward so concurrent workers rarely collide;
// when they do, idempotent sync makes the duplicate harmless.
type Outbox interface {
	Lease(ctx context.Context, batchSize int) ([]model.OutboxJob, error)
	MarkDone(ctx context.Context, id int64) error
	// MarkFailed bumps the attempt count with exponential backoff and
	// moves the row to 'dead' once maxAttempts is reached.
	MarkFailed(ctx context.Context, id int64, maxAttempts int) error
}

// Outbox operation names. Targets are idempotent, so at-least-once
// delivery is safe.
const (
	OpSyncSession  = "sync_session"
	OpDropSession  = "drop_session"
	OpDropMessages = "drop_messages"
)

// SyncSessionPayload asks the worker to (re)project a session's active
// messages into the index.
type SyncSessionPayload struct {
	ActorID   string `json:"actorId"`
	SessionID string `json:"sessionId"`
}

// DropSessionPayload asks the worker to remove every chunk derived
// from a session.
type DropSessionPayload struct {
	ActorID   string `json:"actorId"`
	SessionID string `json:"sessionId"`
}

// DropMessagesPayload asks the worker to remove chunks referencing any
// of the given purged message ids.
type DropMessagesPayload struct {
	ActorID    string  `json:"actorId"`
	MessageIDs []int64 `json:"messageIds"`
}
