// Package storetest holds a driver-agnostic compliance suite for
// store.Store implementations. Both the SQLite and Postgres adapters
// must pass it unchanged.
package storetest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemon-ai/mnemon/internal/model"
	"github.com/mnemon-ai/mnemon/internal/store"
)

// Factory returns a store backed by an empty database. It is called
// once per subtest.
type Factory func(t *testing.T) store.Store

func append3(t *testing.T, st store.Store, actor, session string) []*model.Message {
	t.Helper()
	ctx := context.Background()
	var out []*model.Message
	for _, c := range []struct {
		kind    model.MessageKind
		content string
	}{
		{model.KindUser, "how do I deploy"},
		{model.KindAssistant, "use the deploy script"},
		{model.KindUser, "thanks"},
	} {
		m, err := st.Messages().Append(ctx, &model.Message{
			SessionID: session,
			ActorID:   actor,
			Kind:      c.kind,
			Content:   c.content,
			Success:   true,
		})
		require.NoError(t, err)
		out = append(out, m)
	}
	return out
}

// Run executes the compliance suite against the given factory.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("AppendAssignsOrderedIdentity", func(t *testing.T) {
		st := newStore(t)
		msgs := append3(t, st, "admin_001", "S1")
		require.Len(t, msgs, 3)
		assert.Greater(t, msgs[1].ID, msgs[0].ID)
		assert.Greater(t, msgs[2].ID, msgs[1].ID)
		for _, m := range msgs {
			assert.Equal(t, model.StateActive, m.State)
			assert.False(t, m.CreatedAt.IsZero())
		}
	})

	t.Run("SessionHistoryAscending", func(t *testing.T) {
		st := newStore(t)
		append3(t, st, "admin_001", "S1")
		got, err := st.Messages().ListSession(ctx, "S1", "admin_001", 0)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "how do I deploy", got[0].Content)
		assert.Equal(t, "thanks", got[2].Content)
		for i := 1; i < len(got); i++ {
			assert.True(t, !got[i].CreatedAt.Before(got[i-1].CreatedAt))
		}

		limited, err := st.Messages().ListSession(ctx, "S1", "admin_001", 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})

	t.Run("ForeignSessionReadsEmpty", func(t *testing.T) {
		st := newStore(t)
		append3(t, st, "admin_001", "S1")
		got, err := st.Messages().ListSession(ctx, "S1", "intruder", 0)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("ActorHistoryNewestFirst", func(t *testing.T) {
		st := newStore(t)
		append3(t, st, "admin_001", "S1")
		append3(t, st, "admin_001", "S2")
		got, err := st.Messages().ListActor(ctx, "admin_001", 0)
		require.NoError(t, err)
		require.Len(t, got, 6)
		assert.Equal(t, "S2", got[0].SessionID)
		for i := 1; i < len(got); i++ {
			assert.True(t, !got[i].CreatedAt.After(got[i-1].CreatedAt))
		}
	})

	t.Run("GetByIDScopedToActor", func(t *testing.T) {
		st := newStore(t)
		msgs := append3(t, st, "admin_001", "S1")
		got, err := st.Messages().GetByID(ctx, "admin_001", msgs[0].ID)
		require.NoError(t, err)
		assert.Equal(t, msgs[0].Content, got.Content)

		_, err = st.Messages().GetByID(ctx, "intruder", msgs[0].ID)
		require.ErrorIs(t, err, model.ErrNotFound)

		_, err = st.Messages().GetByID(ctx, "admin_001", 999999)
		require.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("ListActiveByIDs", func(t *testing.T) {
		st := newStore(t)
		msgs := append3(t, st, "admin_001", "S1")
		got, err := st.Messages().ListActiveByIDs(ctx, "admin_001", []int64{msgs[2].ID, msgs[0].ID})
		require.NoError(t, err)
		require.Len(t, got, 2)
		// Ascending regardless of input order.
		assert.Equal(t, msgs[0].ID, got[0].ID)
		assert.Equal(t, msgs[2].ID, got[1].ID)

		none, err := st.Messages().ListActiveByIDs(ctx, "intruder", []int64{msgs[0].ID})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("RoundTripsOptionalFields", func(t *testing.T) {
		st := newStore(t)
		in := &model.Message{
			SessionID: "S1",
			ActorID:   "admin_001",
			ActorRole: "admin",
			Kind:      model.KindAssistant,
			Content:   "ran the migration",
			ToolRefs:  []string{"db.migrate"},
			Result:    json.RawMessage(`{"rows":42}`),
			Success:   false,
		}
		m, err := st.Messages().Append(ctx, in)
		require.NoError(t, err)
		got, err := st.Messages().GetByID(ctx, "admin_001", m.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"db.migrate"}, got.ToolRefs)
		assert.JSONEq(t, `{"rows":42}`, string(got.Result))
		assert.False(t, got.Success)
		assert.Equal(t, "admin", got.ActorRole)
	})

	t.Run("ActiveSessionsAndStats", func(t *testing.T) {
		st := newStore(t)
		append3(t, st, "admin_001", "S1")
		append3(t, st, "admin_001", "S2")
		_, err := st.Messages().Append(ctx, &model.Message{
			SessionID: "S2", ActorID: "admin_001", Kind: model.KindSystem, Content: "tool error", Success: false,
		})
		require.NoError(t, err)

		sessions, err := st.Messages().ActiveSessions(ctx, "admin_001", 30)
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		assert.Equal(t, "S2", sessions[0].SessionID)
		assert.Equal(t, 4, sessions[0].MessageCount)
		assert.True(t, !sessions[0].LastMessage.Before(sessions[0].FirstMessage))

		stats, err := st.Messages().Stats(ctx, "admin_001", 30)
		require.NoError(t, err)
		assert.Equal(t, 7, stats.TotalMessages)
		assert.Equal(t, 4, stats.UserMessages)
		assert.Equal(t, 2, stats.AssistantMessages)
		assert.Equal(t, 1, stats.SystemMessages)
		assert.Equal(t, 6, stats.SuccessfulMessages)
		assert.InDelta(t, 6.0/7.0, stats.SuccessRate, 1e-9)
		assert.Equal(t, 2, stats.SessionCount)

		empty, err := st.Messages().Stats(ctx, "nobody", 30)
		require.NoError(t, err)
		assert.Zero(t, empty.TotalMessages)
		assert.Zero(t, empty.SuccessRate)
	})

	t.Run("SoftDeleteHidesSession", func(t *testing.T) {
		st := newStore(t)
		msgs := append3(t, st, "admin_001", "S1")
		n, err := st.Messages().SoftDeleteSession(ctx, "S1", "admin_001")
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		got, err := st.Messages().ListSession(ctx, "S1", "admin_001", 0)
		require.NoError(t, err)
		assert.Empty(t, got)

		// Direct lookup still sees the row, with its lifecycle state.
		m, err := st.Messages().GetByID(ctx, "admin_001", msgs[0].ID)
		require.NoError(t, err)
		assert.Equal(t, model.StateSoftDeleted, m.State)

		// Idempotent: nothing active remains.
		n, err = st.Messages().SoftDeleteSession(ctx, "S1", "admin_001")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("SoftDeleteScopedToActor", func(t *testing.T) {
		st := newStore(t)
		append3(t, st, "admin_001", "S1")
		n, err := st.Messages().SoftDeleteSession(ctx, "S1", "intruder")
		require.NoError(t, err)
		assert.Zero(t, n)
		got, err := st.Messages().ListSession(ctx, "S1", "admin_001", 0)
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	t.Run("PurgeRemovesRows", func(t *testing.T) {
		st := newStore(t)
		msgs := append3(t, st, "admin_001", "S1")
		ids, err := st.Messages().PurgeSession(ctx, "S1", "admin_001")
		require.NoError(t, err)
		assert.Len(t, ids, 3)

		for _, m := range msgs {
			_, err := st.Messages().GetByID(ctx, "admin_001", m.ID)
			require.ErrorIs(t, err, model.ErrNotFound)
		}

		ids, err = st.Messages().PurgeSession(ctx, "S1", "admin_001")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("AppendEnqueuesSyncJob", func(t *testing.T) {
		st := newStore(t)
		append3(t, st, "admin_001", "S1")
		jobs, err := st.Outbox().Lease(ctx, 10)
		require.NoError(t, err)
		require.Len(t, jobs, 3)
		assert.Equal(t, store.OpSyncSession, jobs[0].Op)

		var p store.SyncSessionPayload
		require.NoError(t, json.Unmarshal(jobs[0].Payload, &p))
		assert.Equal(t, "admin_001", p.ActorID)
		assert.Equal(t, "S1", p.SessionID)

		// Leased rows are held; an immediate second lease sees nothing.
		again, err := st.Outbox().Lease(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, again)
	})

	t.Run("MarkDoneRetiresJob", func(t *testing.T) {
		st := newStore(t)
		append3(t, st, "admin_001", "S1")
		jobs, err := st.Outbox().Lease(ctx, 10)
		require.NoError(t, err)
		for _, j := range jobs {
			require.NoError(t, st.Outbox().MarkDone(ctx, j.ID))
		}
		again, err := st.Outbox().Lease(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, again)
	})

	t.Run("MarkFailedDeadAfterMaxAttempts", func(t *testing.T) {
		st := newStore(t)
		append3(t, st, "admin_001", "S1")
		jobs, err := st.Outbox().Lease(ctx, 1)
		require.NoError(t, err)
		require.Len(t, jobs, 1)

		require.NoError(t, st.Outbox().MarkFailed(ctx, jobs[0].ID, 1))
		// Dead rows never come back, even past their backoff.
		again, err := st.Outbox().Lease(ctx, 10)
		require.NoError(t, err)
		for _, j := range again {
			assert.NotEqual(t, jobs[0].ID, j.ID)
		}
	})

	t.Run("DeleteEnqueuesDropJobs", func(t *testing.T) {
		st := newStore(t)
		append3(t, st, "admin_001", "S1")
		msgs := append3(t, st, "admin_001", "S2")

		// Drain the append jobs first.
		jobs, err := st.Outbox().Lease(ctx, 100)
		require.NoError(t, err)
		for _, j := range jobs {
			require.NoError(t, st.Outbox().MarkDone(ctx, j.ID))
		}

		_, err = st.Messages().SoftDeleteSession(ctx, "S1", "admin_001")
		require.NoError(t, err)
		_, err = st.Messages().PurgeSession(ctx, "S2", "admin_001")
		require.NoError(t, err)

		jobs, err = st.Outbox().Lease(ctx, 100)
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		ops := map[string]bool{}
		for _, j := range jobs {
			ops[j.Op] = true
			if j.Op == store.OpDropMessages {
				var p store.DropMessagesPayload
				require.NoError(t, json.Unmarshal(j.Payload, &p))
				assert.ElementsMatch(t, []int64{msgs[0].ID, msgs[1].ID, msgs[2].ID}, p.MessageIDs)
			}
		}
		assert.True(t, ops[store.OpDropSession])
		assert.True(t, ops[store.OpDropMessages])
	})
}
