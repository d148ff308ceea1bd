package model

import (
	"encoding/json"
	"time"
)

// MessageKind classifies who produced a conversation turn.
type MessageKind string

const (
	KindUser      MessageKind = "user"
	KindAssistant MessageKind = "assistant"
	KindSystem    MessageKind = "system"
)

// Valid reports whether the kind is one of the allowed values.
func (k MessageKind) Valid() bool {
	switch k {
	case KindUser, KindAssistant, KindSystem:
		return true
	}
	return false
}

// MessageState is the explicit lifecycle state of a stored message.
// Purged messages have no state: the row is gone.
type MessageState string

const (
	StateActive      MessageState = "ACTIVE"
	StateSoftDeleted MessageState = "SOFT_DELETED"
)

// Message is one immutable turn in a conversation. The store assigns
// ID and CreatedAt atomically at append time; ordering within a
// session is (CreatedAt, ID).
type Message struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"sessionId"`
	ActorID   string          `json:"actorId"`
	ActorRole string          `json:"actorRole"`
	Kind      MessageKind     `json:"kind"`
	Content   string          `json:"content"`
	ToolRefs  []string        `json:"toolRefs,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Success   bool            `json:"success"`
	CreatedAt time.Time       `json:"createdAt"`
	State     MessageState    `json:"state"`
}

// SessionSummary is a computed per-session aggregate; sessions have no
// row of their own.
type SessionSummary struct {
	SessionID    string    `json:"sessionId"`
	ActorID      string    `json:"actorId"`
	MessageCount int       `json:"messageCount"`
	FirstMessage time.Time `json:"firstMessage"`
	LastMessage  time.Time `json:"lastMessage"`
}

// ConversationStats aggregates an actor's recent activity.
type ConversationStats struct {
	TotalMessages      int     `json:"totalMessages"`
	UserMessages       int     `json:"userMessages"`
	AssistantMessages  int     `json:"assistantMessages"`
	SystemMessages     int     `json:"systemMessages"`
	SuccessfulMessages int     `json:"successfulMessages"`
	SuccessRate        float64 `json:"successRate"`
	SessionCount       int     `json:"sessionCount"`
}

// Chunk is a retrieval-indexable unit derived from one or more
// messages of a single owner. ChunkID is content-addressed, so
// re-deriving a chunk from the same messages yields the same id.
type Chunk struct {
	ChunkID    string    `json:"chunkId"`
	OwnerID    string    `json:"ownerId"`
	SessionID  string    `json:"sessionId"`
	Text       string    `json:"text"`
	MessageIDs []int64   `json:"messageIds"`
	IndexedAt  time.Time `json:"indexedAt"`
}

// SearchHit is a ranked chunk returned by the retriever.
type SearchHit struct {
	Chunk
	Score float64 `json:"score"`
}

// SourceRef cites the log messages behind one retrieved chunk.
type SourceRef struct {
	ChunkID    string  `json:"chunkId"`
	SessionID  string  `json:"sessionId"`
	MessageIDs []int64 `json:"messageIds"`
	Score      float64 `json:"score"`
}

// ContextBundle is the formatted context block handed to the reasoning
// engine, with back-references into the conversation log.
type ContextBundle struct {
	Context string      `json:"context"`
	Sources []SourceRef `json:"sources"`
}

// OutboxJob is one pending synchronization task leased by the worker.
type OutboxJob struct {
	ID       int64
	Op       string
	Payload  []byte
	Attempts int
}
