// Package sqlite implements the gateway's session-metadata storage
// collaborator over a local SQLite file: one gateway_sessions row per
// session, used to list active sessions and restore them after a restart,
// plus each session's message history in gateway_messages so a restored
// session gets its prior conversation back.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"os"

	_ "modernc.org/sqlite"
)

// SessionRow is the persisted record for one session.
type SessionRow struct {
	SessionKey   string
	AgentName    string
	ModelID      string
	CreatedAt    int64
	LastActiveAt int64
	MessageCount int64
	IsActive     bool
	PiSessionID  string // empty when not yet captured
}

// Store persists SessionRows in a local SQLite database.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) the SQLite file at path and ensures the schema
// exists. An empty path opens an in-memory database, useful for tests.
func Open(path string) (*Store, error) {
	dsn := path
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	} else {
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == "" {
		// in-memory databases are per-connection in modernc.org/sqlite; cap
		// the pool at one connection so every caller sees the same data.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS gateway_sessions (
		session_key TEXT PRIMARY KEY,
		agent_name TEXT NOT NULL,
		model_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		last_active_at INTEGER NOT NULL,
		message_count INTEGER DEFAULT 0,
		is_active INTEGER DEFAULT 1,
		pi_session_id TEXT
	);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS gateway_messages (
		session_key TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		images_json TEXT,
		tool_calls_json TEXT,
		tool_call_id TEXT,
		PRIMARY KEY (session_key, seq)
	);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertSession inserts a new row, or on conflict updates every field
// except pi_session_id, which is only overwritten when the incoming row
// actually carries one — so a plain activity-preserving upsert never wipes
// a previously captured id.
func (s *Store) UpsertSession(ctx context.Context, row SessionRow) error {
	var piSessionID interface{}
	if row.PiSessionID != "" {
		piSessionID = row.PiSessionID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gateway_sessions
			(session_key, agent_name, model_id, created_at, last_active_at, message_count, is_active, pi_session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_key) DO UPDATE SET
			agent_name = excluded.agent_name,
			model_id = excluded.model_id,
			last_active_at = excluded.last_active_at,
			message_count = excluded.message_count,
			is_active = excluded.is_active,
			pi_session_id = COALESCE(excluded.pi_session_id, gateway_sessions.pi_session_id)
	`, row.SessionKey, row.AgentName, row.ModelID, row.CreatedAt, row.LastActiveAt, row.MessageCount, boolToInt(row.IsActive), piSessionID)
	if err != nil {
		return fmt.Errorf("upsert session %q: %w", row.SessionKey, err)
	}
	return nil
}

// GetSession returns the row for key, or false if no such session exists.
func (s *Store) GetSession(ctx context.Context, key string) (SessionRow, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_key, agent_name, model_id, created_at, last_active_at, message_count, is_active, pi_session_id
		FROM gateway_sessions WHERE session_key = ?`, key)
	return scanSession(row)
}

// ListActiveSessions returns every row with is_active = 1, most recently
// active first.
func (s *Store) ListActiveSessions(ctx context.Context) ([]SessionRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_key, agent_name, model_id, created_at, last_active_at, message_count, is_active, pi_session_id
		FROM gateway_sessions WHERE is_active = 1 ORDER BY last_active_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	defer rows.Close()

	var result []SessionRow
	for rows.Next() {
		row, _, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// UpdateActivity bumps last_active_at to now and increments message_count
// by one.
func (s *Store) UpdateActivity(ctx context.Context, key string, nowMS int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE gateway_sessions SET last_active_at = ?, message_count = message_count + 1
		WHERE session_key = ?`, nowMS, key)
	if err != nil {
		return fmt.Errorf("update activity for %q: %w", key, err)
	}
	return nil
}

// SavePiSessionID records the external agent-session id captured on a
// session's first successful prompt.
func (s *Store) SavePiSessionID(ctx context.Context, key, piSessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE gateway_sessions SET pi_session_id = ? WHERE session_key = ?`, piSessionID, key)
	if err != nil {
		return fmt.Errorf("save pi_session_id for %q: %w", key, err)
	}
	return nil
}

// SoftDelete marks a session inactive without removing its row, so the
// metadata (and message_count history) survives deletion.
func (s *Store) SoftDelete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE gateway_sessions SET is_active = 0 WHERE session_key = ?`, key)
	if err != nil {
		return fmt.Errorf("soft delete %q: %w", key, err)
	}
	return nil
}

// MessageRow is one persisted turn of a session's conversation history,
// keyed by session and an ascending per-session sequence number.
type MessageRow struct {
	Seq           int64
	Role          string
	Content       string
	ImagesJSON    string // JSON-encoded []providers.ImageContent, empty if none
	ToolCallsJSON string // JSON-encoded []providers.ToolCall, empty if none
	ToolCallID    string
}

// AppendMessage persists one message at the given sequence number. Callers
// are expected to pass a strictly increasing seq per session (its position
// in the in-memory history), making this safe to call once per new message
// without re-deriving what has already been flushed.
func (s *Store) AppendMessage(ctx context.Context, key string, row MessageRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gateway_messages (session_key, seq, role, content, images_json, tool_calls_json, tool_call_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_key, seq) DO UPDATE SET
			role = excluded.role,
			content = excluded.content,
			images_json = excluded.images_json,
			tool_calls_json = excluded.tool_calls_json,
			tool_call_id = excluded.tool_call_id
	`, key, row.Seq, row.Role, row.Content, nullIfEmpty(row.ImagesJSON), nullIfEmpty(row.ToolCallsJSON), nullIfEmpty(row.ToolCallID))
	if err != nil {
		return fmt.Errorf("append message for %q: %w", key, err)
	}
	return nil
}

// LoadMessages returns every persisted message for key, oldest first.
func (s *Store) LoadMessages(ctx context.Context, key string) ([]MessageRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, role, content, images_json, tool_calls_json, tool_call_id
		FROM gateway_messages WHERE session_key = ? ORDER BY seq ASC`, key)
	if err != nil {
		return nil, fmt.Errorf("load messages for %q: %w", key, err)
	}
	defer rows.Close()

	var result []MessageRow
	for rows.Next() {
		var r MessageRow
		var images, toolCalls, toolCallID sql.NullString
		if err := rows.Scan(&r.Seq, &r.Role, &r.Content, &images, &toolCalls, &toolCallID); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		r.ImagesJSON = images.String
		r.ToolCallsJSON = toolCalls.String
		r.ToolCallID = toolCallID.String
		result = append(result, r)
	}
	return result, rows.Err()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (SessionRow, bool, error) {
	var r SessionRow
	var isActive int
	var piSessionID sql.NullString
	err := row.Scan(&r.SessionKey, &r.AgentName, &r.ModelID, &r.CreatedAt, &r.LastActiveAt, &r.MessageCount, &isActive, &piSessionID)
	if err == sql.ErrNoRows {
		return SessionRow{}, false, nil
	}
	if err != nil {
		return SessionRow{}, false, fmt.Errorf("scan session row: %w", err)
	}
	r.IsActive = isActive != 0
	r.PiSessionID = piSessionID.String
	return r, true, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
