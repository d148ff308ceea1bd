package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/mnemon-ai/mnemon/internal/model"
	"github.com/mnemon-ai/mnemon/internal/store"
)

// Open opens a PostgreSQL connection using the pgx stdlib driver and
// verifies connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewWithDB constructs a native Postgres store backed by database/sql.
func NewWithDB(db *sql.DB) store.Store { return &pgStore{db: db} }

type pgStore struct{ db *sql.DB }

func (s *pgStore) Messages() store.Messages { return &messages{db: s.db} }
func (s *pgStore) Outbox() store.Outbox     { return &outbox{db: s.db} }

// HealthPing implements health probing for the Postgres-backed store.
func (s *pgStore) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const ddl = `
CREATE TABLE IF NOT EXISTS messages (
    id          BIGSERIAL PRIMARY KEY,
    session_id  TEXT NOT NULL,
    actor_id    TEXT NOT NULL,
    actor_role  TEXT NOT NULL DEFAULT '',
    kind        TEXT NOT NULL,
    content     TEXT NOT NULL,
    tool_refs   JSONB,
    result      JSONB,
    success     BOOLEAN NOT NULL DEFAULT TRUE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    state       TEXT NOT NULL DEFAULT 'ACTIVE'
);
CREATE INDEX IF NOT EXISTS idx_messages_actor_recency ON messages (actor_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages (session_id, created_at ASC);
CREATE INDEX IF NOT EXISTS idx_messages_recency ON messages (created_at DESC);

CREATE TABLE IF NOT EXISTS outbox (
    id              BIGSERIAL PRIMARY KEY,
    op              TEXT NOT NULL,
    payload         JSONB NOT NULL,
    status          TEXT NOT NULL DEFAULT 'pending',
    attempt_count   INT NOT NULL DEFAULT 0,
    next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    update_time     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_outbox_ready ON outbox (status, next_attempt_at);
`

// Bootstrap applies the schema. Safe to run repeatedly.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, ddl)
	return err
}

// --- Messages ---

type messages struct{ db *sql.DB }

func (m *messages) Append(ctx context.Context, msg *model.Message) (*model.Message, error) {
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	toolRefs, _ := json.Marshal(msg.ToolRefs)
	var id int64
	var created time.Time
	row := tx.QueryRowContext(ctx, `
        INSERT INTO messages (session_id, actor_id, actor_role, kind, content, tool_refs, result, success)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING id, created_at
    `, msg.SessionID, msg.ActorID, msg.ActorRole, string(msg.Kind), msg.Content,
		nullIfEmpty(toolRefs), nullIfEmpty(msg.Result), msg.Success)
	if err := row.Scan(&id, &created); err != nil {
		return nil, err
	}

	if err := writeOutbox(ctx, tx, store.OpSyncSession, store.SyncSessionPayload{
		ActorID:   msg.ActorID,
		SessionID: msg.SessionID,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	out := *msg
	out.ID = id
	out.CreatedAt = created
	out.State = model.StateActive
	return &out, nil
}

const messageColumns = `id, session_id, actor_id, actor_role, kind, content, tool_refs, result, success, created_at, state`

func (m *messages) ListSession(ctx context.Context, sessionID, actorID string, limit int) ([]*model.Message, error) {
	query := `SELECT ` + messageColumns + `
        FROM messages
        WHERE session_id=$1 AND actor_id=$2 AND state='ACTIVE'
        ORDER BY created_at ASC, id ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return m.query(ctx, query, sessionID, actorID)
}

func (m *messages) ListActor(ctx context.Context, actorID string, limit int) ([]*model.Message, error) {
	query := `SELECT ` + messageColumns + `
        FROM messages
        WHERE actor_id=$1 AND state='ACTIVE'
        ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return m.query(ctx, query, actorID)
}

func (m *messages) ListActiveByIDs(ctx context.Context, actorID string, ids []int64) ([]*model.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ph := make([]string, len(ids))
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, actorID)
	for i, id := range ids {
		ph[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}
	query := `SELECT ` + messageColumns + `
        FROM messages
        WHERE actor_id=$1 AND state='ACTIVE' AND id IN (` + strings.Join(ph, ",") + `)
        ORDER BY created_at ASC, id ASC`
	return m.query(ctx, query, args...)
}

func (m *messages) GetByID(ctx context.Context, actorID string, id int64) (*model.Message, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+messageColumns+`
        FROM messages WHERE actor_id=$1 AND id=$2`, actorID, id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	return msg, err
}

func (m *messages) ActiveSessions(ctx context.Context, actorID string, daysBack int) ([]*model.SessionSummary, error) {
	cutoff := windowCutoff(daysBack)
	rows, err := m.db.QueryContext(ctx, `
        SELECT session_id, COUNT(*), MIN(created_at), MAX(created_at)
        FROM messages
        WHERE actor_id=$1 AND state='ACTIVE' AND created_at >= $2
        GROUP BY session_id
        ORDER BY MAX(created_at) DESC
    `, actorID, cutoff)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.SessionSummary
	for rows.Next() {
		s := &model.SessionSummary{ActorID: actorID}
		if err := rows.Scan(&s.SessionID, &s.MessageCount, &s.FirstMessage, &s.LastMessage); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (m *messages) Stats(ctx context.Context, actorID string, daysBack int) (*model.ConversationStats, error) {
	cutoff := windowCutoff(daysBack)
	var st model.ConversationStats
	row := m.db.QueryRowContext(ctx, `
        SELECT COUNT(*),
               COUNT(*) FILTER (WHERE kind='user'),
               COUNT(*) FILTER (WHERE kind='assistant'),
               COUNT(*) FILTER (WHERE kind='system'),
               COUNT(*) FILTER (WHERE success),
               COUNT(DISTINCT session_id)
        FROM messages
        WHERE actor_id=$1 AND state='ACTIVE' AND created_at >= $2
    `, actorID, cutoff)
	if err := row.Scan(&st.TotalMessages, &st.UserMessages, &st.AssistantMessages,
		&st.SystemMessages, &st.SuccessfulMessages, &st.SessionCount); err != nil {
		return nil, err
	}
	if st.TotalMessages > 0 {
		st.SuccessRate = float64(st.SuccessfulMessages) / float64(st.TotalMessages)
	}
	return &st, nil
}

func (m *messages) SoftDeleteSession(ctx context.Context, sessionID, actorID string) (int, error) {
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
        UPDATE messages SET state='SOFT_DELETED'
        WHERE session_id=$1 AND actor_id=$2 AND state='ACTIVE'
    `, sessionID, actorID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		if err := writeOutbox(ctx, tx, store.OpDropSession, store.DropSessionPayload{
			ActorID:   actorID,
			SessionID: sessionID,
		}); err != nil {
			return 0, err
		}
	}
	return int(n), tx.Commit()
}

func (m *messages) PurgeSession(ctx context.Context, sessionID, actorID string) ([]int64, error) {
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM messages WHERE session_id=$1 AND actor_id=$2`, sessionID, actorID)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id=$1 AND actor_id=$2`, sessionID, actorID); err != nil {
		return nil, err
	}
	if err := writeOutbox(ctx, tx, store.OpDropMessages, store.DropMessagesPayload{
		ActorID:    actorID,
		MessageIDs: ids,
	}); err != nil {
		return nil, err
	}
	return ids, tx.Commit()
}

func (m *messages) query(ctx context.Context, query string, args ...interface{}) ([]*model.Message, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row scanner) (*model.Message, error) {
	var m model.Message
	var kind, state string
	var toolRefs, result sql.NullString
	if err := row.Scan(&m.ID, &m.SessionID, &m.ActorID, &m.ActorRole, &kind, &m.Content,
		&toolRefs, &result, &m.Success, &m.CreatedAt, &state); err != nil {
		return nil, err
	}
	m.Kind = model.MessageKind(kind)
	m.State = model.MessageState(state)
	if toolRefs.Valid {
		_ = json.Unmarshal([]byte(toolRefs.String), &m.ToolRefs)
	}
	if result.Valid {
		m.Result = json.RawMessage(result.String)
	}
	return &m, nil
}

// --- Outbox ---

type outbox struct{ db *sql.DB }

const (
	leaseHold = 60 * time.Second

	selectReadyRowsSQL = `
SELECT id, op, payload, attempt_count
FROM outbox
WHERE status = 'pending' AND next_attempt_at <= now()
ORDER BY id ASC
FOR UPDATE SKIP LOCKED
LIMIT $1`

	markDoneSQL = `UPDATE outbox SET status='done', update_time=now() WHERE id=$1`

	markFailedSQL = `
UPDATE outbox
SET attempt_count = attempt_count + 1,
    status = CASE WHEN attempt_count + 1 >= $2 THEN 'dead' ELSE 'pending' END,
    next_attempt_at = now() + make_interval(secs => LEAST(POWER(2, attempt_count+1), 300)),
    update_time = now()
WHERE id=$1`
)

func (o *outbox) Lease(ctx context.Context, batchSize int) ([]model.OutboxJob, error) {
	tx, err := o.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, selectReadyRowsSQL, batchSize)
	if err != nil {
		return nil, err
	}
	var jobs []model.OutboxJob
	for rows.Next() {
		var j model.OutboxJob
		if err := rows.Scan(&j.ID, &j.Op, &j.Payload, &j.Attempts); err != nil {
			_ = rows.Close()
			return nil, err
		}
		jobs = append(jobs, j)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Push the ready time forward so another worker cycle does not
	// pick the same rows while they are being handled.
	for _, j := range jobs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE outbox SET next_attempt_at=now() + make_interval(secs => $2) WHERE id=$1`,
			j.ID, int(leaseHold.Seconds())); err != nil {
			return nil, err
		}
	}
	return jobs, tx.Commit()
}

func (o *outbox) MarkDone(ctx context.Context, id int64) error {
	_, err := o.db.ExecContext(ctx, markDoneSQL, id)
	return err
}

func (o *outbox) MarkFailed(ctx context.Context, id int64, maxAttempts int) error {
	_, err := o.db.ExecContext(ctx, markFailedSQL, id, maxAttempts)
	return err
}

// helpers

func writeOutbox(ctx context.Context, tx *sql.Tx, op string, payload interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO outbox (op, payload) VALUES ($1,$2)`, op, b)
	return err
}

func nullIfEmpty(b []byte) interface{} {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	return b
}

func windowCutoff(daysBack int) time.Time {
	if daysBack <= 0 {
		daysBack = 30
	}
	return time.Now().UTC().AddDate(0, 0, -daysBack)
}
