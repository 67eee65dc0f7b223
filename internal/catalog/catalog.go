// Package catalog provides the SQLite-backed system of record for uploaded
// artifacts and chat history. Artifact rows carry ownership and processing
// status for the retrieval pipeline's access checks; chat messages carry a
// JSON snapshot of the citations shown for each answer, so deleting an
// artifact later never rewrites past conversations.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/nova-rag/nova-go/internal/retrieval"
)

// ErrSessionNotFound is returned when no chat session matches the given id.
var ErrSessionNotFound = errors.New("catalog: session not found")

// Role identifies the author of a chat message.
type Role string

const (
	// RoleUser is a message sent by the end user.
	RoleUser Role = "user"
	// RoleAssistant is a message produced by the model.
	RoleAssistant Role = "assistant"
)

// Session is one chat conversation owned by a user.
type Session struct {
	// ID is the session identifier (UUID).
	ID string
	// UserScope is the owning user's identifier.
	UserScope string
	// Title is the display label, typically derived from the first question.
	Title string
	// CreatedAt is when the session was created.
	CreatedAt time.Time
}

// Message is a single turn in a chat session.
type Message struct {
	// Role is the author of the message.
	Role Role
	// Content is the text of the message.
	Content string
	// Sources is the citation snapshot attached to assistant messages.
	// Nil for user messages and for answers without retrieved context.
	Sources []retrieval.SourceRef
	// CreatedAt is when the message was persisted.
	CreatedAt time.Time
}

// Store is the SQLite-backed catalog. Safe for concurrent use; writes are
// serialised through a single connection.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default path for the catalog database.
// It resolves to ~/.nova/nova.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("catalog: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".nova")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("catalog: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "nova.db"), nil
}

// Open opens (or creates) a Store at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*Store, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *Store) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS artifacts (
    source_type  TEXT    NOT NULL CHECK(source_type IN ('document','dataset','web')),
    source_id    TEXT    NOT NULL,
    owner_scope  TEXT    NOT NULL,
    title        TEXT    NOT NULL,
    status       TEXT    NOT NULL CHECK(status IN ('processing','ready','failed')),
    created_at   INTEGER NOT NULL,  -- Unix timestamp (seconds)
    PRIMARY KEY (source_type, source_id)
);
CREATE INDEX IF NOT EXISTS idx_artifacts_owner
    ON artifacts (owner_scope, created_at);

CREATE TABLE IF NOT EXISTS chat_sessions (
    id           TEXT    PRIMARY KEY,
    user_scope   TEXT    NOT NULL,
    title        TEXT    NOT NULL,
    created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_sessions_user
    ON chat_sessions (user_scope, created_at);

CREATE TABLE IF NOT EXISTS chat_messages (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id   TEXT    NOT NULL,
    role         TEXT    NOT NULL CHECK(role IN ('user','assistant')),
    content      TEXT    NOT NULL,
    sources      TEXT    NOT NULL DEFAULT '',  -- JSON citation snapshot, empty when none
    created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_session
    ON chat_messages (session_id, created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("catalog: migrate: %w", err)
	}
	return nil
}

// CreateArtifact registers a new artifact in processing state.
func (s *Store) CreateArtifact(ctx context.Context, a *retrieval.Artifact) error {
	status := a.Status
	if status == "" {
		status = retrieval.StatusProcessing
	}
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	const q = `INSERT INTO artifacts (source_type, source_id, owner_scope, title, status, created_at)
VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		string(a.SourceType), a.SourceID, a.OwnerScope, a.Title, string(status), createdAt.Unix())
	if err != nil {
		return fmt.Errorf("catalog: create artifact: %w", err)
	}
	return nil
}

// SetArtifactStatus transitions an artifact's processing status.
func (s *Store) SetArtifactStatus(ctx context.Context, sourceType retrieval.SourceType, sourceID string, status retrieval.ArtifactStatus) error {
	const q = `UPDATE artifacts SET status = ? WHERE source_type = ? AND source_id = ?`
	res, err := s.db.ExecContext(ctx, q, string(status), string(sourceType), sourceID)
	if err != nil {
		return fmt.Errorf("catalog: set artifact status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("catalog: set artifact status: %w", err)
	}
	if n == 0 {
		return retrieval.ErrArtifactNotFound
	}
	return nil
}

// Artifact returns the catalog record for (sourceType, sourceID). Satisfies
// the retrieval pipeline's Catalog interface.
func (s *Store) Artifact(ctx context.Context, sourceType retrieval.SourceType, sourceID string) (*retrieval.Artifact, error) {
	const q = `SELECT owner_scope, title, status, created_at
FROM artifacts WHERE source_type = ? AND source_id = ?`

	a := retrieval.Artifact{SourceType: sourceType, SourceID: sourceID}
	var status string
	var ts int64
	err := s.db.QueryRowContext(ctx, q, string(sourceType), sourceID).
		Scan(&a.OwnerScope, &a.Title, &status, &ts)
	if err == sql.ErrNoRows {
		return nil, retrieval.ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: artifact: %w", err)
	}
	a.Status = retrieval.ArtifactStatus(status)
	a.CreatedAt = time.Unix(ts, 0)
	return &a, nil
}

// ListArtifacts returns every artifact owned by the given scope, newest first.
func (s *Store) ListArtifacts(ctx context.Context, ownerScope string) ([]retrieval.Artifact, error) {
	const q = `SELECT source_type, source_id, title, status, created_at
FROM artifacts WHERE owner_scope = ? ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, q, ownerScope)
	if err != nil {
		return nil, fmt.Errorf("catalog: list artifacts: %w", err)
	}
	defer rows.Close()

	var out []retrieval.Artifact
	for rows.Next() {
		a := retrieval.Artifact{OwnerScope: ownerScope}
		var sourceType, status string
		var ts int64
		if err := rows.Scan(&sourceType, &a.SourceID, &a.Title, &status, &ts); err != nil {
			return nil, fmt.Errorf("catalog: list artifacts scan: %w", err)
		}
		a.SourceType = retrieval.SourceType(sourceType)
		a.Status = retrieval.ArtifactStatus(status)
		a.CreatedAt = time.Unix(ts, 0)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: list artifacts rows: %w", err)
	}
	return out, nil
}

// DeleteArtifact removes the catalog record. The caller is responsible for
// cascading the chunk deletion to the vector store first; deleting the record
// before the chunks would leave orphans invisible to the cascade.
func (s *Store) DeleteArtifact(ctx context.Context, sourceType retrieval.SourceType, sourceID string) error {
	const q = `DELETE FROM artifacts WHERE source_type = ? AND source_id = ?`
	res, err := s.db.ExecContext(ctx, q, string(sourceType), sourceID)
	if err != nil {
		return fmt.Errorf("catalog: delete artifact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("catalog: delete artifact: %w", err)
	}
	if n == 0 {
		return retrieval.ErrArtifactNotFound
	}
	return nil
}

// CreateSession registers a new chat session.
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	createdAt := sess.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	const q = `INSERT INTO chat_sessions (id, user_scope, title, created_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, sess.ID, sess.UserScope, sess.Title, createdAt.Unix()); err != nil {
		return fmt.Errorf("catalog: create session: %w", err)
	}
	return nil
}

// Session returns one chat session by id, or ErrSessionNotFound.
func (s *Store) Session(ctx context.Context, id string) (*Session, error) {
	const q = `SELECT user_scope, title, created_at FROM chat_sessions WHERE id = ?`
	sess := Session{ID: id}
	var ts int64
	err := s.db.QueryRowContext(ctx, q, id).Scan(&sess.UserScope, &sess.Title, &ts)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: session: %w", err)
	}
	sess.CreatedAt = time.Unix(ts, 0)
	return &sess, nil
}

// AppendMessage persists a single chat turn. The citation snapshot is stored
// as JSON alongside the content so it survives artifact deletion.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, role Role, content string, sources []retrieval.SourceRef) error {
	encoded := ""
	if len(sources) > 0 {
		raw, err := json.Marshal(sources)
		if err != nil {
			return fmt.Errorf("catalog: encode sources: %w", err)
		}
		encoded = string(raw)
	}
	const q = `INSERT INTO chat_messages (session_id, role, content, sources, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, sessionID, string(role), content, encoded, time.Now().Unix()); err != nil {
		return fmt.Errorf("catalog: append message: %w", err)
	}
	return nil
}

// Recent returns the most recent n messages of a session, ordered oldest-first
// so they can be prepended to the model message slice directly. If fewer than
// n messages exist, all are returned.
func (s *Store) Recent(ctx context.Context, sessionID string, n int) ([]Message, error) {
	const q = `
SELECT role, content, sources, created_at FROM (
    SELECT id, role, content, sources, created_at
    FROM   chat_messages
    WHERE  session_id = ?
    ORDER  BY created_at DESC, id DESC
    LIMIT  ?
) ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("catalog: recent: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var ts int64
		var role, encoded string
		if err := rows.Scan(&role, &m.Content, &encoded, &ts); err != nil {
			return nil, fmt.Errorf("catalog: recent scan: %w", err)
		}
		if encoded != "" {
			if err := json.Unmarshal([]byte(encoded), &m.Sources); err != nil {
				return nil, fmt.Errorf("catalog: decode sources: %w", err)
			}
		}
		m.Role = Role(role)
		m.CreatedAt = time.Unix(ts, 0)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: recent rows: %w", err)
	}
	return msgs, nil
}

// Ping probes the database for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("catalog: ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("catalog: close: %w", err)
	}
	return nil
}
