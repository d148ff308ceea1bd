package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mnemon-ai/mnemon/internal/model"
	"github.com/mnemon-ai/mnemon/internal/store"
)

// Open opens (or creates) a SQLite database at the given path, enables
// WAL journal mode, and applies the schema. Pass ":memory:" for an
// ephemeral database.
func Open(path string) (*sql.DB, error) {
	dsn := "file::memory:?cache=shared"
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// The modernc driver opens one connection per conn; a single
	// connection keeps in-memory databases coherent and serializes
	// writers, which SQLite requires anyway.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewWithDB constructs a SQLite store backed by database/sql.
func NewWithDB(db *sql.DB) store.Store { return &liteStore{db: db} }

type liteStore struct{ db *sql.DB }

func (s *liteStore) Messages() store.Messages { return &messages{db: s.db} }
func (s *liteStore) Outbox() store.Outbox     { return &outbox{db: s.db} }

// HealthPing implements health probing for the SQLite-backed store.
func (s *liteStore) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Timestamps are unix nanoseconds assigned by the adapter at append
// time; clients never supply them.
const ddl = `
CREATE TABLE IF NOT EXISTS messages (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id  TEXT NOT NULL,
    actor_id    TEXT NOT NULL,
    actor_role  TEXT NOT NULL DEFAULT '',
    kind        TEXT NOT NULL,
    content     TEXT NOT NULL,
    tool_refs   TEXT,
    result      TEXT,
    success     INTEGER NOT NULL DEFAULT 1,
    created_at  INTEGER NOT NULL,
    state       TEXT NOT NULL DEFAULT 'ACTIVE'
);
CREATE INDEX IF NOT EXISTS idx_messages_actor_recency ON messages (actor_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages (session_id, created_at ASC);
CREATE INDEX IF NOT EXISTS idx_messages_recency ON messages (created_at DESC);

CREATE TABLE IF NOT EXISTS outbox (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    op              TEXT NOT NULL,
    payload         BLOB NOT NULL,
    status          TEXT NOT NULL DEFAULT 'pending',
    attempt_count   INTEGER NOT NULL DEFAULT 0,
    next_attempt_at INTEGER NOT NULL,
    update_time     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outbox_ready ON outbox (status, next_attempt_at);
`

// --- Messages ---

type messages struct{ db *sql.DB }

func (m *messages) Append(ctx context.Context, msg *model.Message) (*model.Message, error) {
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	created := time.Now().UTC()
	toolRefs, _ := json.Marshal(msg.ToolRefs)
	res, err := tx.ExecContext(ctx, `
        INSERT INTO messages (session_id, actor_id, actor_role, kind, content, tool_refs, result, success, created_at)
        VALUES (?,?,?,?,?,?,?,?,?)
    `, msg.SessionID, msg.ActorID, msg.ActorRole, string(msg.Kind), msg.Content,
		nullIfEmpty(toolRefs), nullIfEmpty(msg.Result), boolToInt(msg.Success), created.UnixNano())
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
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
        WHERE session_id=? AND actor_id=? AND state='ACTIVE'
        ORDER BY created_at ASC, id ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return m.query(ctx, query, sessionID, actorID)
}

func (m *messages) ListActor(ctx context.Context, actorID string, limit int) ([]*model.Message, error) {
	query := `SELECT ` + messageColumns + `
        FROM messages
        WHERE actor_id=? AND state='ACTIVE'
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
		ph[i] = "?"
		args = append(args, id)
	}
	query := `SELECT ` + messageColumns + `
        FROM messages
        WHERE actor_id=? AND state='ACTIVE' AND id IN (` + strings.Join(ph, ",") + `)
        ORDER BY created_at ASC, id ASC`
	return m.query(ctx, query, args...)
}

func (m *messages) GetByID(ctx context.Context, actorID string, id int64) (*model.Message, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+messageColumns+`
        FROM messages WHERE actor_id=? AND id=?`, actorID, id)
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
        WHERE actor_id=? AND state='ACTIVE' AND created_at >= ?
        GROUP BY session_id
        ORDER BY MAX(created_at) DESC
    `, actorID, cutoff.UnixNano())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.SessionSummary
	for rows.Next() {
		s := &model.SessionSummary{ActorID: actorID}
		var first, last int64
		if err := rows.Scan(&s.SessionID, &s.MessageCount, &first, &last); err != nil {
			return nil, err
		}
		s.FirstMessage = time.Unix(0, first).UTC()
		s.LastMessage = time.Unix(0, last).UTC()
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
               COUNT(*) FILTER (WHERE success=1),
               COUNT(DISTINCT session_id)
        FROM messages
        WHERE actor_id=? AND state='ACTIVE' AND created_at >= ?
    `, actorID, cutoff.UnixNano())
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
        WHERE session_id=? AND actor_id=? AND state='ACTIVE'
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

	rows, err := tx.QueryContext(ctx, `SELECT id FROM messages WHERE session_id=? AND actor_id=?`, sessionID, actorID)
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

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id=? AND actor_id=?`, sessionID, actorID); err != nil {
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
	var success int
	var createdNs int64
	if err := row.Scan(&m.ID, &m.SessionID, &m.ActorID, &m.ActorRole, &kind, &m.Content,
		&toolRefs, &result, &success, &createdNs, &state); err != nil {
		return nil, err
	}
	m.Kind = model.MessageKind(kind)
	m.State = model.MessageState(state)
	m.Success = success != 0
	m.CreatedAt = time.Unix(0, createdNs).UTC()
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

const leaseHold = 60 * time.Second

func (o *outbox) Lease(ctx context.Context, batchSize int) ([]model.OutboxJob, error) {
	tx, err := o.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	rows, err := tx.QueryContext(ctx, `
        SELECT id, op, payload, attempt_count
        FROM outbox
        WHERE status='pending' AND next_attempt_at <= ?
        ORDER BY id ASC
        LIMIT ?`, now.UnixNano(), batchSize)
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

	hold := now.Add(leaseHold).UnixNano()
	for _, j := range jobs {
		if _, err := tx.ExecContext(ctx, `UPDATE outbox SET next_attempt_at=? WHERE id=?`, hold, j.ID); err != nil {
			return nil, err
		}
	}
	return jobs, tx.Commit()
}

func (o *outbox) MarkDone(ctx context.Context, id int64) error {
	now := time.Now().UTC().UnixNano()
	_, err := o.db.ExecContext(ctx, `UPDATE outbox SET status='done', update_time=? WHERE id=?`, now, id)
	return err
}

func (o *outbox) MarkFailed(ctx context.Context, id int64, maxAttempts int) error {
	// Single statement so two workers failing the same job cannot lose
	// an increment. Backoff doubles per attempt, capped at 300s.
	now := time.Now().UTC().UnixNano()
	_, err := o.db.ExecContext(ctx, `
        UPDATE outbox
        SET attempt_count = attempt_count + 1,
            status = CASE WHEN attempt_count + 1 >= ? THEN 'dead' ELSE 'pending' END,
            next_attempt_at = ? + MIN(1 << MIN(attempt_count + 1, 9), 300) * 1000000000,
            update_time = ?
        WHERE id = ?`,
		maxAttempts, now, now, id)
	return err
}

// helpers

func writeOutbox(ctx context.Context, tx *sql.Tx, op string, payload interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	now := time.Now().UTC().UnixNano()
	_, err = tx.ExecContext(ctx, `
        INSERT INTO outbox (op, payload, next_attempt_at, update_time)
        VALUES (?,?,?,?)`, op, b, now, now)
	return err
}

func nullIfEmpty(b []byte) interface{} {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	return b
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func windowCutoff(daysBack int) time.Time {
	if daysBack <= 0 {
		daysBack = 30
	}
	return time.Now().UTC().AddDate(0, 0, -daysBack)
}
