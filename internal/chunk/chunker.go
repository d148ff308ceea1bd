// Package chunk turns ordered conversation messages into
// content-addressed, retrieval-indexable units.
package chunk

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/mnemon-ai/mnemon/internal/model"
)

// schemaVersion tags the chunk identity scheme. Bumping it changes
// every chunk id, so a policy change retires old chunks
// deterministically instead of mixing old and new chunking.
const schemaVersion = "v1"

// idNamespace is the fixed UUIDv5 namespace for chunk ids.
var idNamespace = uuid.MustParse("8f0f2b9e-33a7-45c2-9f53-6c1d0a2f7b41")

// Policy bounds a chunk window. Both limits apply; a window closes as
// soon as either would be exceeded.
type Policy struct {
	MaxMessages int
	MaxChars    int
}

// DefaultPolicy matches the service configuration defaults.
var DefaultPolicy = Policy{MaxMessages: 6, MaxChars: 2000}

// ID derives the deterministic chunk id for an ordered list of
// message ids. Valid UUID so it can key vector-index objects directly.
func ID(messageIDs []int64) string {
	parts := make([]string, len(messageIDs))
	for i, id := range messageIDs {
		parts[i] = strconv.FormatInt(id, 10)
	}
	seed := schemaVersion + "|" + strings.Join(parts, ",")
	return uuid.NewSHA1(idNamespace, []byte(seed)).String()
}

// Split windows ordered messages into chunks under the policy.
// All messages must belong to one owner and one session; mixing owners
// is a programming error and fails with model.ErrConsistency.
func Split(msgs []*model.Message, p Policy) ([]*model.Chunk, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	if p.MaxMessages <= 0 || p.MaxChars <= 0 {
		return nil, fmt.Errorf("%w: non-positive chunk window", model.ErrValidation)
	}
	owner := msgs[0].ActorID
	session := msgs[0].SessionID
	for _, m := range msgs {
		if m.ActorID != owner {
			return nil, fmt.Errorf("%w: chunk input spans owners %q and %q", model.ErrConsistency, owner, m.ActorID)
		}
		if m.SessionID != session {
			return nil, fmt.Errorf("%w: chunk input spans sessions %q and %q", model.ErrConsistency, session, m.SessionID)
		}
	}

	var out []*model.Chunk
	var window []*model.Message
	var chars int

	flush := func() {
		if len(window) == 0 {
			return
		}
		out = append(out, build(window, owner, session))
		window = nil
		chars = 0
	}

	for _, m := range msgs {
		line := len(m.Kind) + len(m.Content) + 3 // "kind: content\n"
		if len(window) > 0 && (len(window) >= p.MaxMessages || chars+line > p.MaxChars) {
			flush()
		}
		window = append(window, m)
		chars += line
	}
	flush()
	return out, nil
}

func build(window []*model.Message, owner, session string) *model.Chunk {
	ids := make([]int64, len(window))
	var sb strings.Builder
	for i, m := range window {
		ids[i] = m.ID
		sb.WriteString(string(m.Kind))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteByte('\n')
	}
	return &model.Chunk{
		ChunkID:    ID(ids),
		OwnerID:    owner,
		SessionID:  session,
		Text:       sb.String(),
		MessageIDs: ids,
		// IndexedAt derives from the newest contributor so re-syncing
		// the same messages reproduces identical metadata.
		IndexedAt: window[len(window)-1].CreatedAt,
	}
}
